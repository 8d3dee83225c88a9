package stream

import (
	"context"
	"iter"
	"unicode/utf8"

	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/rs/zerolog"
)

// Options configures a Reducer.
type Options struct {
	// ThinkingEnabled frames the reasoning transcript with OpenReasoning and
	// CloseReasoning.
	ThinkingEnabled bool

	// Sink receives token usage. Nil disables usage reporting.
	Sink llm.UsageSink
	// Component, Model and ConversationID are copied onto every usage record.
	Component      string
	Model          string
	ConversationID string
}

// Reducer pulls events from an EventStream one at a time and yields the text
// fragments they produce. It never reads ahead of the caller.
//
// The zero value is not usable; create one with NewReducer.
type Reducer struct {
	ctx    context.Context
	src    llm.EventStream
	opts   Options
	logger zerolog.Logger

	state     State
	opened    bool
	blockOpen bool
	answerLen int

	fragment string
	err      error
	done     bool
	closed   bool
}

// NewReducer wraps src. The reducer owns src and closes it when the stream is
// exhausted, fails, or Close is called.
func NewReducer(ctx context.Context, src llm.EventStream, opts Options, logger zerolog.Logger) *Reducer {
	return &Reducer{
		ctx:    ctx,
		src:    src,
		opts:   opts,
		logger: logger.With().Str("component", "streamReducer").Str("model", opts.Model).Logger(),
	}
}

// State returns the current reducer state.
func (r *Reducer) State() State {
	return r.state
}

// Next advances to the next fragment. It returns false once the source is
// exhausted or has failed; Err reports the failure.
// Fragments may be empty: every inbound event yields exactly one.
func (r *Reducer) Next() bool {
	if r.done {
		return false
	}

	if r.opts.ThinkingEnabled && !r.opened {
		r.opened = true
		r.fragment = OpenReasoning
		return true
	}

	if err := r.ctx.Err(); err != nil {
		r.finish(err)
		return false
	}

	if !r.src.Next() {
		r.finish(r.src.Err())
		return false
	}

	ev := r.src.Event()
	r.observe(ev)

	fragment, next := Step(r.state, ev, r.opts.ThinkingEnabled)
	if next != r.state {
		r.logger.Debug().Stringer("from", r.state).Stringer("to", next).Msg("Reducer state changed")
	}
	r.state = next
	if next == Answer && ev.Type == llm.StreamEventTypeBlockDelta {
		r.answerLen += utf8.RuneCountInString(ev.Text)
	}
	r.fragment = fragment
	return true
}

// Fragment returns the fragment produced by the last call to Next.
func (r *Reducer) Fragment() string {
	return r.fragment
}

// Err returns the error that ended the stream, if any.
func (r *Reducer) Err() error {
	return r.err
}

// Close closes the underlying stream. It is safe to call more than once.
func (r *Reducer) Close() error {
	r.done = true
	if r.closed {
		return nil
	}
	r.closed = true
	return r.src.Close()
}

// All returns the fragments as an iterator. A failure is yielded once as the
// final element. Breaking out of the loop closes the underlying stream.
func (r *Reducer) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer r.Close()
		for r.Next() {
			if !yield(r.fragment, nil) {
				return
			}
		}
		if r.err != nil {
			yield("", r.err)
		}
	}
}

func (r *Reducer) finish(err error) {
	r.err = err
	r.fragment = ""
	if r.state == Thinking {
		r.logger.Warn().Msg("Stream ended inside a thinking block; reasoning framing left open")
	}
	if err != nil {
		r.logger.Error().Err(err).Msg("Stream failed")
	}
	if cerr := r.Close(); cerr != nil {
		r.logger.Warn().Err(cerr).Msg("Failed to close stream")
	}
}

// observe forwards usage and logs ordering anomalies. It never fails.
func (r *Reducer) observe(ev llm.StreamEvent) {
	switch ev.Type {
	case llm.StreamEventTypeMessageStart:
		if ev.Usage == nil {
			return
		}
		r.logger.Debug().
			Int64("input_tokens", ev.Usage.InputTokens).
			Int64("cache_creation_tokens", ev.Usage.CacheCreationInputTokens).
			Int64("cache_read_tokens", ev.Usage.CacheReadInputTokens).
			Msg("Prompt cache stats")
		r.track(llm.MetricInputTokens, ev.Usage.InputTokens+ev.Usage.CacheCreationInputTokens, map[string]any{
			"cache_creation_tokens": ev.Usage.CacheCreationInputTokens,
			"cache_read_tokens":     ev.Usage.CacheReadInputTokens,
		})

	case llm.StreamEventTypeMessageDelta:
		if ev.Usage == nil {
			return
		}
		r.track(llm.MetricOutputTokens, ev.Usage.OutputTokens+ev.Usage.CacheCreationInputTokens, map[string]any{
			"total_output_length": r.answerLen,
		})

	case llm.StreamEventTypeBlockStart:
		if r.blockOpen {
			r.logger.Warn().Str("kind", string(ev.Kind)).Msg("Block started before the previous block stopped")
		}
		r.blockOpen = true

	case llm.StreamEventTypeBlockDelta:
		if !r.blockOpen {
			r.logger.Warn().Str("kind", string(ev.Kind)).Msg("Block delta outside of a block")
		} else if (ev.Kind == llm.BlockKindThinking) != (r.state == Thinking) {
			r.logger.Warn().Str("kind", string(ev.Kind)).Stringer("state", r.state).Msg("Block delta does not match reducer state")
		}

	case llm.StreamEventTypeBlockStop:
		if !r.blockOpen {
			r.logger.Warn().Stringer("state", r.state).Msg("Block stop without a matching start")
		}
		r.blockOpen = false
	}
}

// track sends one usage record to the sink. Zero quantities are skipped and
// sink failures are logged, never returned.
func (r *Reducer) track(metric string, quantity int64, metadata map[string]any) {
	if r.opts.Sink == nil || quantity == 0 {
		return
	}
	rec := llm.UsageRecord{
		Component:      r.opts.Component,
		Metric:         metric,
		Quantity:       quantity,
		Metadata:       metadata,
		Model:          r.opts.Model,
		ConversationID: r.opts.ConversationID,
	}
	if err := r.opts.Sink.TrackUsage(r.ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("metric", metric).Msg("Failed to track usage")
	}
}
