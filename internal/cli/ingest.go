package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"medichat/internal/ingest"
)

var (
	ingestIndex string
	ingestWatch bool
	ingestJSON  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [dir]",
	Short: "Index the PDFs of a folder",
	Long: `Loads every PDF in the folder (DATA_DIR by default), splits the pages into
overlapping chunks, embeds them and upserts them into the vector index. Files that
cannot be read are skipped and reported. With --watch the command keeps running and
re-ingests PDFs that appear or change.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestIndex, "index", "", "index name (overrides INDEX_NAME)")
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "re-ingest when PDFs change")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	o := Overrides{IndexName: ingestIndex}
	if len(args) == 1 {
		o.DataDir = args[0]
	}

	rt, cleanup, err := connect(cmd, CommandIngest, o)
	if err != nil {
		return err
	}
	defer cleanup()

	dir := rt.DataDir

	res, err := rt.Ingester.Run(cmd.Context(), dir)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	if err := printResult(cmd, res); err != nil {
		return err
	}

	if !ingestWatch {
		return nil
	}

	cmd.Printf("Watching %s for changes (Ctrl+C to stop)\n", dir)
	w := rt.Watch(dir, func(ctx context.Context, files []string) error {
		res, err := rt.Ingester.RunFiles(ctx, files, nil)
		if err != nil {
			return err
		}
		return printResult(cmd, res)
	})
	return w.Run(cmd.Context())
}

func printResult(cmd *cobra.Command, res *ingest.Result) error {
	if ingestJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Indexed %d chunks from %d files into %q (%s)\n", res.Chunks, res.Files, res.IndexName, res.Duration.Round(time.Millisecond))
	for _, s := range res.Skipped {
		cmd.Printf("  skipped %s: %s\n", s.Path, s.Reason)
	}
	return nil
}
