package cmd

import "github.com/spf13/cobra"

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect journaled credential usage",
}

func init() {
	usageCmd.AddCommand(usageListCmd)
	usageCmd.AddCommand(usageResetCmd)
	rootCmd.AddCommand(usageCmd)
}
