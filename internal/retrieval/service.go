// Package retrieval answers questions from the indexed corpus: embed the question, fetch the
// nearest chunks, and ask the LLM with those chunks as context.
package retrieval

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"medichat/internal/apperr"
	"medichat/internal/embedding"
	"medichat/internal/middleware"
	"medichat/internal/retry"
	"medichat/internal/vector"
)

// SystemPromptTemplate is the medical-assistant instruction; {context} is replaced by the
// retrieved chunk texts.
const SystemPromptTemplate = "You are a medical assistant for question-answering tasks. " +
	"Use the following pieces of retrieved context to answer " +
	"the question. If you don't know the answer, say that you " +
	"don't know. Use three sentences maximum and keep the " +
	"answer concise.\n\n{context}"

// InsufficientContextAnswer is returned when retrieval finds nothing; the LLM is not called.
const InsufficientContextAnswer = "I don't have enough information in the indexed documents to answer that question. " +
	"Please consult a healthcare professional."

type LLM interface {
	Complete(ctx context.Context, systemPrompt, userInput string) (string, error)
}

type Answer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

type Service struct {
	embedder  embedding.Provider
	store     vector.Store
	llm       LLM
	dimension int
	defaultK  int
	maxK      int
	llmPolicy retry.Policy
	queryLog  *QueryLogger
	logger    *slog.Logger
}

type Option func(*Service)

// WithTopK sets the default used for topK <= 0 and the upper clamp.
func WithTopK(defaultK, maxK int) Option {
	return func(s *Service) {
		if defaultK > 0 {
			s.defaultK = defaultK
		}
		if maxK > 0 {
			s.maxK = maxK
		}
	}
}

// WithDimension enables the question-vector dimension check.
func WithDimension(n int) Option {
	return func(s *Service) { s.dimension = n }
}

func WithLLMRetry(p retry.Policy) Option {
	return func(s *Service) { s.llmPolicy = p }
}

func WithQueryLogger(l *QueryLogger) Option {
	return func(s *Service) { s.queryLog = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(e embedding.Provider, store vector.Store, llm LLM, opts ...Option) *Service {
	s := &Service{
		embedder:  e,
		store:     store,
		llm:       llm,
		defaultK:  3,
		maxK:      20,
		llmPolicy: retry.Policy{MaxAttempts: 2},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) resolveK(topK int) int {
	if topK <= 0 {
		topK = s.defaultK
	}
	return min(topK, s.maxK)
}

// Retrieve embeds the question and returns the topK nearest chunks.
func (s *Service) Retrieve(ctx context.Context, question string, topK int) ([]vector.Match, error) {
	if strings.TrimSpace(question) == "" {
		return nil, apperr.Configuration("answer", "question must not be empty")
	}

	// Kinded errors were logged where they were classified.
	vecs, err := s.embedder.Embed(ctx, []string{question})
	if err != nil {
		if apperr.KindOf(err) == nil {
			return nil, s.fail(ctx, apperr.Embedding("question", err))
		}
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, s.fail(ctx, apperr.Embedding("question", fmt.Errorf("provider returned %d vectors for 1 text", len(vecs))))
	}
	if s.dimension > 0 && len(vecs[0]) != s.dimension {
		return nil, s.fail(ctx, apperr.Configuration("answer", "%w: question vector has %d dimensions, index has %d",
			apperr.ErrDimensionMismatch, len(vecs[0]), s.dimension))
	}

	matches, err := s.store.Query(ctx, vecs[0], s.resolveK(topK))
	if err != nil {
		if apperr.KindOf(err) == nil {
			return nil, s.fail(ctx, apperr.Index("query", "", err))
		}
		return nil, err
	}
	return matches, nil
}

func (s *Service) fail(ctx context.Context, err error) error {
	s.logger.ErrorContext(ctx, "retrieval failed", "error", err)
	return err
}

// Answer runs one retrieval-augmented completion. An empty retrieval returns
// InsufficientContextAnswer with no sources.
func (s *Service) Answer(ctx context.Context, question string, topK int) (*Answer, error) {
	start := time.Now()

	matches, err := s.Retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		if strings.TrimSpace(m.Text) != "" {
			texts = append(texts, m.Text)
		}
	}

	if len(texts) == 0 {
		s.logger.InfoContext(ctx, "no context retrieved, skipping llm", "top_k", s.resolveK(topK))
		ans := &Answer{Answer: InsufficientContextAnswer, Sources: []string{}}
		s.record(ctx, question, s.resolveK(topK), ans, 0, start)
		return ans, nil
	}

	prompt := strings.Replace(SystemPromptTemplate, "{context}", strings.Join(texts, "\n\n"), 1)

	var completion string
	err = retry.Do(ctx, s.llmPolicy, s.logger, "complete", func(ctx context.Context) error {
		var err error
		completion, err = s.llm.Complete(ctx, prompt, question)
		return err
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.ErrConfiguration {
			err = apperr.LLM(err)
		}
		s.logger.ErrorContext(ctx, "completion failed", "error", err)
		return nil, err
	}

	ans := &Answer{Answer: completion, Sources: Sources(matches)}
	s.record(ctx, question, s.resolveK(topK), ans, len(matches), start)
	return ans, nil
}

// Sources returns the distinct non-empty source values of matches in retrieval order.
func Sources(matches []vector.Match) []string {
	seen := make(map[string]bool, len(matches))
	out := []string{}
	for _, m := range matches {
		src, _ := m.Metadata["source"].(string)
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		out = append(out, src)
	}
	return out
}

func (s *Service) record(ctx context.Context, question string, k int, ans *Answer, n int, start time.Time) {
	d := time.Since(start)
	s.logger.InfoContext(ctx, "question answered", "matches", n, "sources", len(ans.Sources), "duration", d)
	if s.queryLog == nil {
		return
	}
	s.queryLog.Log(QueryLogEntry{
		Query:         question,
		TopK:          k,
		NumResults:    n,
		Sources:       ans.Sources,
		Answered:      n > 0,
		Duration:      d,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
}
