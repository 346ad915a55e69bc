package main

import "github.com/spf13/cobra"

var (
	backendName string
)

var rootCmd = &cobra.Command{
	Use:   "rythmiq",
	Short: "Document processing job service",
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&backendName, "backend", "b", "", "Execution backend, overrides EXECUTION_BACKEND")
}
