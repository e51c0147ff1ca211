package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "psych-forms",
		Short:         "Questionnaire API for psychologists and their patients",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(auditConsumerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
