package cli

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves ingestion, query, run and stats endpoints. With ENABLE_INGEST_WORKER the
process also consumes queued ingestion runs; with WATCH_DIR it re-ingests PDFs that
appear or change in that folder.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, cleanup, err := connect(cmd, CommandServe, Overrides{})
	if err != nil {
		return err
	}
	defer cleanup()

	return rt.Serve(cmd.Context())
}
