package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arthur-debert/fstx/pkg/fstx"
	"github.com/arthur-debert/fstx/pkg/fstx/config"
)

var (
	configFile string
	verbose    int

	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fstx",
	Short: "Transactional file operations with rollback and undo",
	Long: `fstx runs batches of file operations (copy, move, delete, rename) as a unit.
A batch either completes or is rolled back, transient failures are retried with
backoff, and completed operations are kept in an undo history.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "log more; repeat for debug and trace")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newHistoryCommand())
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if verbose > 0 {
		cfg.Log.Level = fstx.VerbosityLevel(cfg.LogLevel(), verbose).String()
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Print the version number of fstx`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "fstx version %s (commit: %s, built: %s)\n", version, commit, date)
	},
}
