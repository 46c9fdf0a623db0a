package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/pressgate/pressgate/internal/journal"
	"github.com/pressgate/pressgate/internal/output"
)

var (
	usageListOutput string
	usageListOut    string
	usageListOutDir string
	usageListAll    bool
	usageListHash   string
	usageListPrefix string
)

var usageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List journaled credential usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		query := journal.Query{
			All:    usageListAll,
			Hash:   strings.TrimSpace(usageListHash),
			Prefix: strings.TrimSpace(usageListPrefix),
		}
		if !query.All && query.Hash == "" && query.Prefix == "" {
			query.All = true
		}

		j, err := openJournal(cmd.Context())
		if err != nil {
			return err
		}
		defer j.Close() // nolint:errcheck // best-effort cleanup

		entries, err := j.List(cmd.Context(), query)
		if err != nil {
			return err
		}

		outPath, outDir, err := resolveOutputTargets(cmd)
		if err != nil {
			return err
		}
		if outDir != "" {
			outDir, err = ensureOutDir(outDir)
			if err != nil {
				return err
			}
			outPath = filepath.Join(outDir, fmt.Sprintf("usage.list.%s", outputExtension(format)))
		}

		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if len(entries) == 0 && format == output.FormatTable {
			_, _ = fmt.Fprint(sink.writer, ascii.DrawBox("Credential Usage\n\n(no usage recorded)", 0))
			return nil
		}

		rendered, err := output.Render(format, output.ReportFromJournal(entries))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	usageListCmd.Flags().StringVar(&usageListOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
	usageListCmd.Flags().StringVar(&usageListOut, "out", "", "Write output to a file (default stdout)")
	usageListCmd.Flags().StringVar(&usageListOutDir, "out-dir", "", "Write output to a directory")
	usageListCmd.Flags().BoolVar(&usageListAll, "all", false, "List every journaled credential")
	usageListCmd.Flags().StringVar(&usageListHash, "hash", "", "List a single credential by hash (exact match)")
	usageListCmd.Flags().StringVar(&usageListPrefix, "prefix", "", "List credentials whose mask starts with the prefix")
}
