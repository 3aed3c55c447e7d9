package cli

import (
	"github.com/spf13/cobra"
)

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "List the indexes of the vector store",
	Args:  cobra.NoArgs,
	RunE:  runIndexes,
}

func init() {
	rootCmd.AddCommand(indexesCmd)
}

func runIndexes(cmd *cobra.Command, _ []string) error {
	rt, cleanup, err := connect(cmd, CommandIndexes, Overrides{})
	if err != nil {
		return err
	}
	defer cleanup()

	infos, err := rt.Indexes.ListIndexes(cmd.Context())
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		cmd.Println("No indexes found.")
		return nil
	}

	for _, info := range infos {
		state := "ready"
		if !info.Ready {
			state = "initializing"
		}
		cmd.Printf("  %s", info.Name)
		if info.Dimension > 0 {
			cmd.Printf("  dim=%d", info.Dimension)
		}
		if info.Metric != "" {
			cmd.Printf("  metric=%s", info.Metric)
		}
		cmd.Printf("  %s\n", state)
	}
	return nil
}
