// Package cli is the medichat command line: serve the API, ingest a folder, ask a
// question, list indexes.
package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"medichat/internal/ingest"
	"medichat/internal/retrieval"
	"medichat/internal/vector"
	"medichat/internal/watch"
)

type Ingester interface {
	Run(ctx context.Context, dir string) (*ingest.Result, error)
	RunFiles(ctx context.Context, files []string, label func(string) string) (*ingest.Result, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string, topK int) (*retrieval.Answer, error)
}

type IndexLister interface {
	ListIndexes(ctx context.Context) ([]vector.IndexInfo, error)
}

// Command names the subcommand a Runtime is built for, so only what it needs is connected.
type Command string

const (
	CommandServe   Command = "serve"
	CommandIngest  Command = "ingest"
	CommandAsk     Command = "ask"
	CommandIndexes Command = "indexes"
)

// Overrides are flag values that take precedence over the environment.
type Overrides struct {
	IndexName string
	DataDir   string
}

// Runtime holds the components of one command invocation. Only the fields the command
// needs are set.
type Runtime struct {
	// DataDir is the folder to ingest: the override, else DATA_DIR.
	DataDir  string
	Ingester Ingester
	Answerer Answerer
	Indexes  IndexLister
	Serve    func(ctx context.Context) error
	Watch    func(dir string, handle watch.Handler) *watch.Watcher
	Logger   *slog.Logger
	Close    func() error
}

// Builder connects the components for a command.
type Builder func(ctx context.Context, cmd Command, o Overrides) (*Runtime, error)

// build is replaced in tests.
var build Builder = DefaultBuilder

var rootCmd = &cobra.Command{
	Use:   "medichat",
	Short: "Medical document question answering",
	Long: `medichat indexes medical PDFs into a vector index and answers questions
from the indexed passages with a hosted LLM.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command line. ctx is cancelled on interrupt by the caller.
func Execute(ctx context.Context, args []string, out io.Writer) error {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	return rootCmd.ExecuteContext(ctx)
}

func connect(cmd *cobra.Command, c Command, o Overrides) (*Runtime, func(), error) {
	rt, err := build(cmd.Context(), c, o)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if rt.Close == nil {
			return
		}
		if err := rt.Close(); err != nil && rt.Logger != nil {
			rt.Logger.Warn("failed to release resources", "error", err)
		}
	}
	return rt, cleanup, nil
}
