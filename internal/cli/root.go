// Package cli implements proposalctl, the maintenance command line for the
// proposal data directory.
package cli

import (
	"context"
	"fmt"

	"pitchdesk/api/internal/app"
	"pitchdesk/api/internal/config"

	"github.com/spf13/cobra"
)

// state is shared by all subcommands of one invocation.
type state struct {
	dataDir string
	runtime *app.Runtime
}

func (s *state) service() *app.Service {
	return s.runtime.Service
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	st := &state{}
	rootCmd := &cobra.Command{
		Use:           "proposalctl",
		Short:         "Inspect and maintain the proposal data directory",
		Long:          `proposalctl works directly on the proposal data directory. Destructive commands take the same locks as the API server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if st.dataDir != "" {
				cfg.DataDir = st.dataDir
			}
			runtime, err := app.Wire(config.NewProvider(cfg), app.WireOptions{})
			if err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			st.runtime = runtime
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if st.runtime != nil {
				st.runtime.Close()
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&st.dataDir, "data-dir", "", "data directory (overrides PROPOSALS_DATA_DIR)")

	rootCmd.AddCommand(
		newListCmd(st),
		newVersionsCmd(st),
		newShowCmd(st),
		newMarkCmd(st),
		newDeleteCmd(st),
		newMergeCmd(st),
		newMigrateLegacyCmd(st),
		newBackupCmd(st),
	)
	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
