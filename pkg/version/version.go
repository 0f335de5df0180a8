// Package version reports how the cpid binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Overridden with -ldflags "-X github.com/Aman-CERP/cpid/pkg/version.Version=...".
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// BuildInfo is the JSON form of `cpid version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo merges the ldflags values with the VCS stamp the Go toolchain
// embeds. ldflags win when both are present.
func GetInfo() BuildInfo {
	info := BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if info.Commit == "" {
					info.Commit = s.Value
				}
			case "vcs.time":
				if info.Date == "" {
					info.Date = s.Value
				}
			case "vcs.modified":
				info.Modified = s.Value == "true"
			}
		}
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.Date == "" {
		info.Date = "unknown"
	}
	return info
}

// String is the one-line form printed by `cpid version`.
func String() string {
	i := GetInfo()
	commit := i.Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("cpid %s (commit %s, built %s, %s %s)",
		i.Version, commit, i.Date, i.GoVersion, i.Platform)
}

// Short returns the bare version.
func Short() string {
	return Version
}
