// Package main provides the entry point for the cpid CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/cpid/cmd/cpid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
