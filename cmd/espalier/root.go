package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "espalier",
	Short: "Espalier is a session orchestrator for asynchronous invocation graphs",
	Long: `Espalier runs finite-state dialogue machines whose invoker states fan out
into asynchronous invocation graphs. Define machines in YAML, prompts as
templates, and drive sessions over HTTP or from the terminal.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("machines", "", "Directory containing machine definitions (overrides ESPALIER_MACHINE_DIR)")
	rootCmd.PersistentFlags().String("templates", "", "Directory containing prompt templates (overrides ESPALIER_TEMPLATE_DIR)")
}
