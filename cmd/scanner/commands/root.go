// Package commands holds the scanner CLI.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/piisentry/scanner/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "scanner",
	Short: "Sensitive-data scanner agent",
	Long: `The scanner agent discovers data sources, chunks their objects and
classifies chunk content against the tenant's classifier catalog,
reporting masked findings to the control plane.`,
	Version: version.Current,
	Run:     nil,
}

// Execute is the CLI entry point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(RunCmd)
}

func initConfig() {
	viper.AutomaticEnv()
}
