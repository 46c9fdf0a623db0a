package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pressgate/pressgate/internal/journal"
	"github.com/pressgate/pressgate/internal/output"
)

var (
	usageResetAll    bool
	usageResetHash   string
	usageResetPrefix string
	usageResetYes    bool
	usageResetDryRun bool
	usageResetOutput string
	usageResetOut    string
	usageResetOutDir string
)

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset journaled credential usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}
		if format != output.FormatJSON && format != output.FormatTable {
			return fmt.Errorf("unsupported output format: %s", format)
		}

		query := journal.Query{
			All:    usageResetAll,
			Hash:   strings.TrimSpace(usageResetHash),
			Prefix: strings.TrimSpace(usageResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}

		if query.All && !usageResetYes && !usageResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		j, err := openJournal(cmd.Context())
		if err != nil {
			return err
		}
		defer j.Close() // nolint:errcheck // best-effort cleanup

		matched, err := j.Count(cmd.Context(), query)
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
			outPath = filepath.Join(outDir, fmt.Sprintf("usage.reset.%s", outputExtension(format)))
		}
		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if usageResetDryRun {
			return writeUsageResetResult(format, sink.writer, matched, 0, true)
		}

		deleted, err := j.Reset(cmd.Context(), query)
		if err != nil {
			return err
		}

		return writeUsageResetResult(format, sink.writer, matched, deleted, false)
	},
}

func writeUsageResetResult(format output.Format, w io.Writer, matched int, deleted int64, dryRun bool) error {
	result := map[string]any{
		"matched": matched,
		"deleted": deleted,
		"dry_run": dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would delete %d usage entr(ies)\n", matched)
		return err
	}
	_, err := fmt.Fprintf(w, "Deleted %d/%d usage entr(ies)\n", deleted, matched)
	return err
}

func init() {
	usageResetCmd.Flags().BoolVar(&usageResetAll, "all", false, "Reset every journaled credential")
	usageResetCmd.Flags().StringVar(&usageResetHash, "hash", "", "Reset a single credential by hash (exact match)")
	usageResetCmd.Flags().StringVar(&usageResetPrefix, "prefix", "", "Reset credentials whose mask starts with the prefix")
	usageResetCmd.Flags().BoolVar(&usageResetYes, "yes", false, "Confirm destructive reset")
	usageResetCmd.Flags().BoolVar(&usageResetDryRun, "dry-run", false, "Show what would be deleted")
	usageResetCmd.Flags().StringVar(&usageResetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	usageResetCmd.Flags().StringVar(&usageResetOut, "out", "", "Write output to a file (default stdout)")
	usageResetCmd.Flags().StringVar(&usageResetOutDir, "out-dir", "", "Write output to a directory")
}
