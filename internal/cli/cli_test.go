package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"medichat/internal/document"
	"medichat/internal/ingest"
	"medichat/internal/retrieval"
	"medichat/internal/vector"
)

type MockIngester struct{ mock.Mock }

func (m *MockIngester) Run(ctx context.Context, dir string) (*ingest.Result, error) {
	args := m.Called(ctx, dir)
	res, _ := args.Get(0).(*ingest.Result)
	return res, args.Error(1)
}

func (m *MockIngester) RunFiles(ctx context.Context, files []string, label func(string) string) (*ingest.Result, error) {
	args := m.Called(ctx, files, label)
	res, _ := args.Get(0).(*ingest.Result)
	return res, args.Error(1)
}

type MockAnswerer struct{ mock.Mock }

func (m *MockAnswerer) Answer(ctx context.Context, question string, topK int) (*retrieval.Answer, error) {
	args := m.Called(ctx, question, topK)
	ans, _ := args.Get(0).(*retrieval.Answer)
	return ans, args.Error(1)
}

type stubIndexes struct {
	infos []vector.IndexInfo
	err   error
}

func (s stubIndexes) ListIndexes(ctx context.Context) ([]vector.IndexInfo, error) {
	return s.infos, s.err
}

// useRuntime installs a builder that returns rt and records what it was asked for.
func useRuntime(t *testing.T, rt *Runtime) (*Command, *Overrides) {
	t.Helper()
	var gotCmd Command
	var gotOverrides Overrides
	closed := false
	rt.Close = func() error { closed = true; return nil }

	prev := build
	build = func(ctx context.Context, cmd Command, o Overrides) (*Runtime, error) {
		gotCmd, gotOverrides = cmd, o
		return rt, nil
	}
	t.Cleanup(func() {
		build = prev
		// Flags are package state; reset between tests.
		ingestIndex, ingestWatch, ingestJSON = "", false, false
		askTopK, askIndex, askJSON = 0, "", false
		assert.True(t, closed, "runtime was not closed")
	})
	return &gotCmd, &gotOverrides
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	err := Execute(context.Background(), args, buf)
	return buf.String(), err
}

func TestIngestCmd_HasFlags(t *testing.T) {
	require.NotNil(t, ingestCmd.Flags().Lookup("index"))
	watchFlag := ingestCmd.Flags().Lookup("watch")
	require.NotNil(t, watchFlag)
	assert.Equal(t, "w", watchFlag.Shorthand)
}

func TestIngestCmd_Runs(t *testing.T) {
	ing := new(MockIngester)
	ing.On("Run", mock.Anything, "docs").Return(&ingest.Result{
		Files: 2, Chunks: 40, IndexName: "medi-chat-v2", Duration: 1500 * time.Millisecond,
		Skipped: []document.FileFailure{{Path: "docs/broken.pdf", Reason: "malformed xref"}},
	}, nil)
	cmd, overrides := useRuntime(t, &Runtime{DataDir: "docs", Ingester: ing})

	out, err := execute(t, "ingest", "docs", "--index", "medi-chat-v2")
	require.NoError(t, err)

	assert.Equal(t, CommandIngest, *cmd)
	assert.Equal(t, Overrides{IndexName: "medi-chat-v2", DataDir: "docs"}, *overrides)
	assert.Contains(t, out, `Indexed 40 chunks from 2 files into "medi-chat-v2"`)
	assert.Contains(t, out, "skipped docs/broken.pdf: malformed xref")
}

func TestIngestCmd_DefaultDir(t *testing.T) {
	ing := new(MockIngester)
	ing.On("Run", mock.Anything, "data/").Return(&ingest.Result{IndexName: "medi-chat"}, nil)
	_, overrides := useRuntime(t, &Runtime{DataDir: "data/", Ingester: ing})

	_, err := execute(t, "ingest")
	require.NoError(t, err)
	assert.Empty(t, overrides.DataDir)
	ing.AssertExpectations(t)
}

func TestIngestCmd_Failure(t *testing.T) {
	ing := new(MockIngester)
	ing.On("Run", mock.Anything, "data").Return(nil, errors.New("embedding error: 401 unauthorized"))
	useRuntime(t, &Runtime{DataDir: "data", Ingester: ing})

	_, err := execute(t, "ingest", "data")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ingestion failed")
}

func TestAskCmd_RequiresExactlyOneArg(t *testing.T) {
	_, err := execute(t, "ask")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestAskCmd_PrintsAnswerAndSources(t *testing.T) {
	ans := new(MockAnswerer)
	ans.On("Answer", mock.Anything, "What is acne?", 5).Return(&retrieval.Answer{
		Answer:  "Acne is a skin condition.",
		Sources: []string{"data/Medical_book.pdf"},
	}, nil)
	cmd, _ := useRuntime(t, &Runtime{Answerer: ans})

	out, err := execute(t, "ask", "What is acne?", "--top-k", "5")
	require.NoError(t, err)

	assert.Equal(t, CommandAsk, *cmd)
	assert.Contains(t, out, "Acne is a skin condition.")
	assert.Contains(t, out, "  - data/Medical_book.pdf")
}

func TestAskCmd_JSON(t *testing.T) {
	ans := new(MockAnswerer)
	ans.On("Answer", mock.Anything, "q", 0).Return(&retrieval.Answer{Answer: "a", Sources: []string{}}, nil)
	useRuntime(t, &Runtime{Answerer: ans})

	out, err := execute(t, "ask", "q", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"answer": "a", "sources": []}`, out)
}

func TestIndexesCmd(t *testing.T) {
	useRuntime(t, &Runtime{Indexes: stubIndexes{infos: []vector.IndexInfo{
		{Name: "medi-chat", Dimension: 384, Metric: "cosine", Ready: true},
		{Name: "scratch", Ready: false},
	}}})

	out, err := execute(t, "indexes")
	require.NoError(t, err)
	assert.Contains(t, out, "medi-chat  dim=384  metric=cosine  ready")
	assert.Contains(t, out, "scratch  initializing")
}

func TestIndexesCmd_Empty(t *testing.T) {
	useRuntime(t, &Runtime{Indexes: stubIndexes{}})

	out, err := execute(t, "indexes")
	require.NoError(t, err)
	assert.Contains(t, out, "No indexes found.")
}

func TestServeCmd(t *testing.T) {
	served := false
	useRuntime(t, &Runtime{Serve: func(ctx context.Context) error {
		served = true
		return nil
	}})

	_, err := execute(t, "serve")
	require.NoError(t, err)
	assert.True(t, served)
}

func TestBuilderError(t *testing.T) {
	prev := build
	build = func(context.Context, Command, Overrides) (*Runtime, error) {
		return nil, errors.New("missing required configuration: PINECONE_API_KEY")
	}
	defer func() { build = prev }()

	_, err := execute(t, "indexes")
	assert.ErrorContains(t, err, "PINECONE_API_KEY")
}
