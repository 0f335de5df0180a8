package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/cpid/internal/ingest"
	"github.com/Aman-CERP/cpid/internal/output"
)

// reindexFunc runs one extractor against the pipeline.
type reindexFunc func(p *ingest.Pipeline, ctx context.Context, indexName, source string) (*ingest.Summary, error)

func newReindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Add classes to an index",
		Long: `Merge (class, package) pairs into an index. Reindexing only adds:
existing entries are never removed, so running the same reindex twice
leaves the index unchanged.`,
	}

	cmd.AddCommand(newReindexSubCmd("classpath <index> <classpath>",
		"Index the jars of a colon-separated classpath",
		`  cpid reindex classpath app "$(mvn -q dependency:build-classpath -Dmdep.outputFile=/dev/stdout)"`,
		(*ingest.Pipeline).ReindexClasspath))
	cmd.AddCommand(newReindexSubCmd("jar-dir <index> <dir>",
		"Index every .jar file below a directory",
		`  cpid reindex jar-dir gradle ~/.gradle/caches/modules-2/files-2.1`,
		(*ingest.Pipeline).ReindexJarDir))
	cmd.AddCommand(newReindexSubCmd("jimage <index> <file>",
		"Index a JDK module image",
		`  cpid reindex jimage jdk "$JAVA_HOME/lib/modules"`,
		(*ingest.Pipeline).ReindexModuleImage))
	cmd.AddCommand(newReindexSubCmd("project <index> <dir>",
		"Index the types declared by Java sources below a directory",
		`  cpid reindex project myapp src/main/java`,
		(*ingest.Pipeline).ReindexProject))

	return cmd
}

func newReindexSubCmd(use, short, example string, run reindexFunc) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Short:   short,
		Example: example,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := openIndex(appConfig)
			if err != nil {
				return err
			}
			defer h.Close()

			p, err := newPipeline(appConfig, h.index, nil)
			if err != nil {
				return err
			}
			summary, err := run(p, commandContext(cmd), args[0], args[1])
			if err != nil {
				return err
			}
			printSummary(output.New(cmd.ErrOrStderr()), args[0], summary)
			return nil
		},
	}
}

func printSummary(out *output.Writer, indexName string, s *ingest.Summary) {
	out.Successf("indexed %d tuples from %d sources into %s (%s)",
		s.Tuples, s.Sources, indexName, since(s.Duration))
	if s.Skipped > 0 {
		out.Warningf("%d sources could not be read; run with --debug for details", s.Skipped)
	}
}
