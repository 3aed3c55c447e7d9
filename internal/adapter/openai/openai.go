// Package openai adapts OpenAI-compatible chat and embedding APIs through langchaingo.
package openai

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"medichat/internal/apperr"
	"medichat/internal/retry"
)

// The langchaingo client reports failed calls as "API returned unexpected status code: N".
var statusPattern = regexp.MustCompile(`status code: (\d{3})`)

// classify attaches the HTTP status the client reported so retries can tell auth and
// request errors from transient ones.
func classify(err error) error {
	if err == nil {
		return nil
	}
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return err
	}
	code, _ := strconv.Atoi(m[1])
	return retry.WithStatus(code, err)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

func (c Config) clientOptions() ([]openai.Option, error) {
	token := c.APIKey
	if token == "" {
		if c.BaseURL == "" {
			return nil, apperr.Configuration("openai", "OPENAI_API_KEY is required without a custom base url")
		}
		// Local OpenAI-compatible servers usually do not check the token.
		token = "none"
	}
	opts := []openai.Option{openai.WithToken(token)}
	if c.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(c.BaseURL, "/")))
	}
	return opts, nil
}

// Embedder implements embedding.Provider.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

func NewEmbedder(cfg Config, logger *slog.Logger) (*Embedder, error) {
	opts, err := cfg.clientOptions()
	if err != nil {
		return nil, err
	}
	client, err := openai.New(append(opts, openai.WithEmbeddingModel(cfg.Model))...)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder: embedder,
		model:    cfg.Model,
		logger:   logger.With("component", "openai-embedder"),
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.DebugContext(ctx, "generating embeddings", "model", e.model, "count", len(texts))
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, classify(err)
	}
	return vecs, nil
}

// ChatModel implements the single-turn completion used by the query pipeline.
type ChatModel struct {
	client llms.Model
	model  string
	logger *slog.Logger
}

func NewChatModel(cfg Config, logger *slog.Logger) (*ChatModel, error) {
	opts, err := cfg.clientOptions()
	if err != nil {
		return nil, err
	}
	client, err := openai.New(append(opts, openai.WithModel(cfg.Model))...)
	if err != nil {
		return nil, err
	}
	return &ChatModel{client: client, model: cfg.Model, logger: logger.With("component", "openai-chat")}, nil
}

func (m *ChatModel) Complete(ctx context.Context, systemPrompt, userInput string) (string, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userInput),
	}

	resp, err := m.client.GenerateContent(ctx, content, llms.WithTemperature(0))
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		m.logger.WarnContext(ctx, "no choices returned from model", "model", m.model)
		return "", nil
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}
