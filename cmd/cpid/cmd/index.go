package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpid/internal/index"
	"github.com/Aman-CERP/cpid/internal/output"
)

func newDropIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dropindex <index>",
		Short: "Delete an index",
		Long: `Delete both keyspaces of an index. This cannot be undone.

Dropping an index that does not exist is an error (exit status 1).`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			h, err := openIndex(appConfig)
			if err != nil {
				return err
			}
			defer h.Close()
			return h.index.Drop(args[0])
		},
	}
}

func newIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes",
		Short: "List index names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := openIndex(appConfig)
			if err != nil {
				return err
			}
			defer h.Close()

			names, err := h.index.ListIndexes()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			for _, name := range names {
				out.Line(name)
			}
			return nil
		},
	}
}

func newEnumerateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "enumerate <index>",
		Short: "Dump every key of an index",
		Long: `Print every class key, then every package key, of an index. Keys that
are not valid UTF-8 are logged and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openIndex(appConfig)
			if err != nil {
				return err
			}
			defer h.Close()

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				dump := map[index.Role]index.Results{
					index.RoleClass:   {},
					index.RolePackage: {},
				}
				err := h.index.Enumerate(args[0], func(e index.Entry) error {
					dump[e.Role][e.Key] = e.Values
					return nil
				})
				if err != nil {
					return err
				}
				return out.JSON(dump)
			}

			var role index.Role
			return h.index.Enumerate(args[0], func(e index.Entry) error {
				if e.Role != role {
					role = e.Role
					out.Linef("IDX: %s (%s)", args[0], sideLabel(role))
				}
				if role == index.RoleClass {
					out.Linef("CLASS: %s", e.Key)
				} else {
					out.Linef("PACKAGE: %s", e.Key)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print keys with their values as one JSON document")
	return cmd
}

func sideLabel(r index.Role) string {
	if r == index.RoleClass {
		return "class -> packages"
	}
	return "package -> classes"
}

func newCheckCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check <index>",
		Short: "Verify that both sides of an index agree",
		Long: `Compare the class->packages and package->classes sides of an index and
list every pair recorded on one side only. With --repair the missing
halves are written back. Exits non-zero while inconsistencies remain.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openIndex(appConfig)
			if err != nil {
				return err
			}
			defer h.Close()
			return runCheck(cmd, h.index, args[0], repair)
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Write the missing side of every inconsistent pair")
	return cmd
}

func runCheck(cmd *cobra.Command, store *index.Store, name string, repair bool) error {
	out := output.New(cmd.OutOrStdout())

	result, err := store.Check(name)
	if err != nil {
		return err
	}
	if result.Consistent() {
		out.Successf("%s is consistent (%d pairs, %s)", name, result.Pairs, since(result.Duration))
		return nil
	}

	for _, issue := range result.Inconsistencies {
		out.Statusf("", "%s: %s %s", issue.Type, issue.Package, issue.Class)
	}
	if !repair {
		out.Warningf("%s has %d inconsistent pairs; run with --repair to fix", name, len(result.Inconsistencies))
		return fmt.Errorf("index %s is inconsistent", name)
	}

	fixed, err := store.Repair(name, result.Inconsistencies)
	if err != nil {
		return err
	}
	out.Successf("repaired %d of %d pairs in %s", fixed, len(result.Inconsistencies), name)
	if fixed < len(result.Inconsistencies) {
		return fmt.Errorf("index %s still has %d inconsistent pairs", name, len(result.Inconsistencies)-fixed)
	}
	return nil
}
