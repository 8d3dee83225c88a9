// Package chat runs a streamed chat request end to end: the conversation is
// annotated for prompt caching, the stream is established with per-model
// retries, and the inbound events are reduced to text fragments.
package chat

import (
	"context"
	"fmt"
	"slices"

	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/aschepis/backscratcher/streamchat/llm/cache"
	"github.com/aschepis/backscratcher/streamchat/llm/retry"
	"github.com/aschepis/backscratcher/streamchat/llm/stream"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Defaults fill the request fields a caller leaves empty.
type Defaults struct {
	Model         string
	MaxTokens     int64
	Temperature   float64
	ThinkingLevel string
	Betas         []string
	// Component is the id usage is recorded under.
	Component string
}

// Request is one chat call.
type Request struct {
	// ConversationID keys the cache snapshot. Empty shares the service's
	// default conversation.
	ConversationID string
	// Turns is the full conversation. Turns[0] must be the system turn.
	Turns []llm.Turn

	Model         string
	ThinkingLevel string
	MaxTokens     int64
	Temperature   *float64 // nil uses the default
	Betas         []string
}

// Service streams chat completions.
type Service struct {
	provider   llm.Provider
	selector   *cache.Selector
	loop       *retry.Loop
	sink       llm.UsageSink
	defaults   Defaults
	defaultKey string
	logger     zerolog.Logger
}

// NewService creates a Service. sink may be nil to skip usage reporting.
func NewService(provider llm.Provider, selector *cache.Selector, loop *retry.Loop, sink llm.UsageSink, defaults Defaults, logger zerolog.Logger) *Service {
	return &Service{
		provider:   provider,
		selector:   selector,
		loop:       loop,
		sink:       sink,
		defaults:   defaults,
		defaultKey: uuid.NewString(),
		logger:     logger.With().Str("component", "chatService").Logger(),
	}
}

// conversationKey returns the snapshot key for id.
func (s *Service) conversationKey(id string) string {
	if id == "" {
		return s.defaultKey
	}
	return id
}

// Forget drops the cache snapshot of a conversation.
func (s *Service) Forget(conversationID string) {
	s.selector.Forget(s.conversationKey(conversationID))
}

// StreamChat annotates the conversation, establishes the stream and returns a
// reducer over it. The caller must drain or Close the reducer.
//
// Establishment failures are returned after retries run out. Failures after
// establishment surface through the reducer's Err.
func (s *Service) StreamChat(ctx context.Context, req Request) (*stream.Reducer, error) {
	out, err := s.buildRequest(req)
	if err != nil {
		return nil, err
	}

	key := s.conversationKey(req.ConversationID)
	sel, err := s.selector.Select(key, req.Turns)
	if err != nil {
		return nil, fmt.Errorf("failed to annotate conversation: %w", err)
	}
	out.System = sel.System
	out.Turns = sel.Turns

	s.logger.Debug().
		Str("conversation", key).
		Str("model", out.Model).
		Int("turns", len(sel.Turns)).
		Ints("changed", sel.Changed).
		Ints("cached", sel.Cached).
		Bool("thinking", out.Thinking.Enabled).
		Int64("thinking_budget", out.Thinking.BudgetTokens).
		Msg("Streaming chat")

	events, err := retry.Establish(ctx, s.loop, out.Model, func(ctx context.Context) (llm.EventStream, error) {
		return s.provider.Stream(ctx, out)
	})
	if err != nil {
		return nil, err
	}

	return stream.NewReducer(ctx, events, stream.Options{
		ThinkingEnabled: out.Thinking.Enabled,
		Sink:            s.sink,
		Component:       s.defaults.Component,
		Model:           out.Model,
		ConversationID:  req.ConversationID,
	}, s.logger), nil
}

// buildRequest applies defaults and thinking to everything but the turns.
func (s *Service) buildRequest(req Request) (*llm.Request, error) {
	if len(req.Turns) == 0 {
		return nil, llm.NewInvalidRequestError("conversation is empty", cache.ErrMissingSystemTurn)
	}

	out := &llm.Request{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: s.defaults.Temperature,
		Betas:       req.Betas,
	}
	if out.Model == "" {
		out.Model = s.defaults.Model
	}
	if out.Model == "" {
		return nil, llm.NewInvalidRequestError("model is required", nil)
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = s.defaults.MaxTokens
	}
	if out.MaxTokens <= 0 {
		return nil, llm.NewInvalidRequestError("max tokens must be positive", nil)
	}
	if req.Temperature != nil {
		out.Temperature = *req.Temperature
	}
	if out.Betas == nil {
		out.Betas = slices.Clone(s.defaults.Betas)
	}

	level := req.ThinkingLevel
	if level == "" {
		level = s.defaults.ThinkingLevel
	}
	out.ApplyThinking(llm.ThinkingFor(level))
	return out, nil
}
