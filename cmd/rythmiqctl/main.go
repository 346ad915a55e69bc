package main

import (
	"os"

	"github.com/AbhinavNivaan/Rythmiq-One-sub004/internal/cli"
	"github.com/spf13/cobra"
)

func main() {
	command := NewRythmiqCtlCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRythmiqCtlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rythmiqctl [flags] [options]",
		Short: "rythmiqctl submits and inspects document processing jobs.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(cli.NewCmdGet())
	cmd.AddCommand(cli.NewCmdCreate())

	return cmd
}
