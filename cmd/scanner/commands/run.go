package commands

import (
	"github.com/spf13/cobra"

	"github.com/piisentry/scanner/internal/app"
)

// RunCmd starts the agent in the foreground.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent until terminated",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd.Context())
	},
}
