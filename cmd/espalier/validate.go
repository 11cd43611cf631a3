package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aretw0/espalier/internal/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check machine definitions and templates for consistency",
	Long: `Loads the machine definitions and templates and runs the engine's
construction checks: reachable states, resolvable templates, well-formed
invocation plans, registered units and completion events.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(cmd); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.WatchTemplates = false

	engine, keys, err := buildEngine(cmd, cfg, newLogger(cfg), nil)
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Printf("Machines are valid: %s\n", strings.Join(keys, ", "))
	return nil
}
