package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/credential"
	"github.com/pressgate/pressgate/internal/output"
)

var keysOutput string

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Show the configured credential pool (masked)",
	Long:  "Show the credentials the gateway would pool, masked. Raw values are never printed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}

		pool := credential.NewPool()
		if added := pool.AddList(cfg.Upstream.APIKeys); added == 0 {
			fmt.Println("(no credentials configured)")
			return nil
		}

		report := output.ReportFromSnapshot(pool.UsageSnapshot())
		report.Title = "Configured credentials"

		rendered, err := output.Render(format, report)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.Flags().StringVar(&keysOutput, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
}
