package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	askTopK  int
	askIndex string
	askJSON  bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed documents",
	Long: `Embeds the question, retrieves the closest chunks from the vector index and asks
the LLM to answer from them. Prints the answer and the source files it drew on.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of chunks to retrieve (default RETRIEVAL_K)")
	askCmd.Flags().StringVar(&askIndex, "index", "", "index name (overrides INDEX_NAME)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the answer as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	rt, cleanup, err := connect(cmd, CommandAsk, Overrides{IndexName: askIndex})
	if err != nil {
		return err
	}
	defer cleanup()

	ans, err := rt.Answerer.Answer(cmd.Context(), args[0], askTopK)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if askJSON {
		data, err := json.MarshalIndent(ans, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(ans.Answer)
	if len(ans.Sources) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for _, s := range ans.Sources {
			cmd.Printf("  - %s\n", s)
		}
	}
	return nil
}
