package cmd

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mylifebyai/mlbai/config"
	"github.com/mylifebyai/mlbai/internal/logger"
)

// global flags
var envFile string

var log = logger.New()

var rootCmd = &cobra.Command{
	Use:   "mlbai-cli",
	Short: "Operations tool for Patreon membership sync",
	Long: `mlbai-cli runs membership resyncs outside the HTTP server and
inspects signed state tokens. It reads the same environment as the server.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// keep stdout clean for JSON output
		log.SetOutput(cmd.ErrOrStderr())
		config.LoadEnv(log, envFile)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("execution failed")
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(resyncCmd, stateCmd)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
