// Package answer runs the question-answering pipeline: retrieve evidence,
// assemble a prompt, generate an answer and attach citations.
package answer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/askany/askany/internal/citation"
	"github.com/askany/askany/internal/conversation"
	"github.com/askany/askany/internal/log"
	"github.com/askany/askany/internal/prompt"
	"github.com/askany/askany/internal/search"
)

// FallbackText is returned when generation fails. Retrieval results, when
// available, are still cited alongside it.
const FallbackText = "I could not produce an answer right now. Please try asking again in a moment."

// Answer is the result of one question.
type Answer struct {
	SessionID string              `json:"session_id"`
	Text      string              `json:"text"`
	Sources   []citation.Citation `json:"sources,omitempty"`
}

// Retriever is the slice of the search layer the service needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, mode search.Mode) ([]search.RetrievedChunk, error)
}

// Config tunes the pipeline.
type Config struct {
	// TopK is how many chunks to retrieve per query.
	TopK int
	// ContextBudgetTokens caps the evidence packed into the prompt.
	ContextBudgetTokens int
	// HistoryPairs is how many recent user/assistant exchanges the prompt
	// carries.
	HistoryPairs int
	// RetrievalTimeout bounds each retrieval call.
	RetrievalTimeout time.Duration
	// GenerationTimeout bounds the model call.
	GenerationTimeout time.Duration
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		TopK:                8,
		ContextBudgetTokens: 2000,
		HistoryPairs:        3,
		RetrievalTimeout:    10 * time.Second,
		GenerationTimeout:   30 * time.Second,
	}
}

// Service answers questions against the knowledge base.
type Service struct {
	retriever     Retriever
	mapper        *citation.Mapper
	assembler     *prompt.Assembler
	generator     Generator
	conversations *conversation.Manager
	cfg           Config
	logger        log.Logger
}

// NewService wires the pipeline. Zero config fields fall back to defaults.
func NewService(retriever Retriever, mapper *citation.Mapper, generator Generator, conversations *conversation.Manager, cfg Config, logger log.Logger) *Service {
	defaults := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = defaults.TopK
	}
	if cfg.ContextBudgetTokens <= 0 {
		cfg.ContextBudgetTokens = defaults.ContextBudgetTokens
	}
	if cfg.HistoryPairs <= 0 {
		cfg.HistoryPairs = defaults.HistoryPairs
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = defaults.RetrievalTimeout
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaults.GenerationTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Service{
		retriever:     retriever,
		mapper:        citationMapper(mapper),
		assembler:     prompt.NewAssembler(cfg.HistoryPairs),
		generator:     generator,
		conversations: conversations,
		cfg:           cfg,
		logger:        logger,
	}
}

func citationMapper(m *citation.Mapper) *citation.Mapper {
	if m == nil {
		return citation.NewMapper(nil, nil)
	}
	return m
}

// Ask answers query within the given session. A missing sessionID starts a
// new session. Failures along the query path degrade rather than error: a
// dead retrieval backend answers without evidence and a dead model answers
// with FallbackText, so the returned error covers context cancellation
// only.
func (s *Service) Ask(ctx context.Context, sessionID, query string, mode search.Mode) (Answer, error) {
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	history := s.conversations.History(sessionID)

	retrievedChunks := s.retrieve(ctx, query, mode)

	assembled := s.assembler.Assemble(query, retrievedChunks, history, s.cfg.ContextBudgetTokens)
	text := s.generate(ctx, assembled.Render(query))

	sources := s.mapper.Resolve(ctx, retrievedChunks)
	if len(sources) == 0 {
		// The primary retrieval came back empty. Try once more with a
		// plain semantic pass before answering without sources.
		if secondary := s.retrieve(ctx, query, search.Semantic); len(secondary) > 0 {
			sources = s.mapper.Resolve(ctx, secondary)
		}
	}

	s.conversations.Append(sessionID, conversation.Turn{Role: conversation.RoleUser, Content: query})
	s.conversations.Append(sessionID, conversation.Turn{
		Role:    conversation.RoleAssistant,
		Content: text,
		Sources: sources,
	})

	return Answer{SessionID: sessionID, Text: text, Sources: sources}, nil
}

// History returns the session's turns oldest first.
func (s *Service) History(sessionID string) []conversation.Turn {
	return s.conversations.History(sessionID)
}

// Reset drops the session.
func (s *Service) Reset(sessionID string) {
	s.conversations.Reset(sessionID)
}

// Sessions lists live session ids.
func (s *Service) Sessions() []string {
	return s.conversations.Sessions()
}

func (s *Service) retrieve(ctx context.Context, query string, mode search.Mode) []search.RetrievedChunk {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RetrievalTimeout)
	defer cancel()

	chunks, err := s.retriever.Retrieve(rctx, query, s.cfg.TopK, mode)
	if err != nil {
		s.logger.Warn("retrieval failed, answering without evidence",
			"mode", string(mode),
			"error", err,
		)
		return nil
	}
	return chunks
}

func (s *Service) generate(ctx context.Context, renderedPrompt string) string {
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()

	text, err := s.generator.Generate(gctx, renderedPrompt)
	if err != nil {
		s.logger.Warn("generation failed, using fallback answer", "error", err)
		return FallbackText
	}
	if text == "" {
		s.logger.Warn("generation returned empty text, using fallback answer")
		return FallbackText
	}
	return text
}
