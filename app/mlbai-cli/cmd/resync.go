package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mylifebyai/mlbai/internal/app"
	"github.com/mylifebyai/mlbai/internal/services"
)

var resyncUsers []string

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Resync Patreon membership for every linked profile, or only --user",
	Example: `  mlbai-cli resync
  mlbai-cli resync --user 7f1c... --user 93ab...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := app.Build(log)
		if err != nil {
			return err
		}
		defer c.Close(cmd.Context())

		report, err := runResync(cmd, c.Sync, resyncUsers)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), report)
	},
}

func init() {
	resyncCmd.Flags().StringSliceVar(&resyncUsers, "user", nil, "user id to resync (repeatable)")
}

func runResync(cmd *cobra.Command, sync services.PatreonSyncService, users []string) (*services.SyncReport, error) {
	return sync.SyncBatch(cmd.Context(), services.BatchRequest{
		UserIDs: users,
		Trigger: services.TriggerCLI,
	})
}
