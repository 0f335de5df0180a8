package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpid/internal/daemon"
	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/output"
)

func newClsQueryCmd() *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "clsquery <index> <class>...",
		Short: "Print the packages declaring a class",
		Long: `Print a JSON document mapping each class name to the sorted list of
packages that declare it in the index. Unknown classes map to an empty
list.`,
		Example: `  cpid clsquery jdk List
  {"List":["java.awt","java.util"]}

  # Ask a running server instead of opening the database
  cpid clsquery --socket jdk List Map`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, socket, args[0], args[1:], classLookup)
		},
	}
	addSocketFlag(cmd, &socket)
	return cmd
}

func newPkgEnumCmd() *cobra.Command {
	var socket string

	cmd := &cobra.Command{
		Use:   "pkgenum <index> <package>...",
		Short: "Print the classes declared in a package",
		Long: `Print a JSON document mapping each dotted package name to the sorted
list of classes it declares in the index.`,
		Example: `  cpid pkgenum jdk java.util.function`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, socket, args[0], args[1:], packageLookup)
		},
	}
	addSocketFlag(cmd, &socket)
	return cmd
}

type lookupKind int

const (
	classLookup lookupKind = iota
	packageLookup
)

func runQuery(cmd *cobra.Command, socket, indexName string, names []string, kind lookupKind) error {
	var (
		results index.Results
		err     error
	)
	if socket != "" {
		results, err = queryServer(cmd, socket, indexName, names, kind)
	} else {
		results, err = queryLocal(indexName, names, kind)
	}
	if err != nil {
		return err
	}
	return output.New(cmd.OutOrStdout()).JSON(results)
}

func queryLocal(indexName string, names []string, kind lookupKind) (index.Results, error) {
	h, err := openIndex(appConfig)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	if kind == classLookup {
		return h.index.QueryClasses([]string{indexName}, names)
	}
	return h.index.QueryPackages([]string{indexName}, names)
}

func queryServer(cmd *cobra.Command, socket, indexName string, names []string, kind lookupKind) (index.Results, error) {
	ctx := commandContext(cmd)
	c, err := daemon.Dial(ctx, clientConfig(appConfig, socket))
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if kind == classLookup {
		return c.QueryClasses(ctx, []string{indexName}, names)
	}
	return c.QueryPackages(ctx, []string{indexName}, names)
}
