package anthropic

import (
	"context"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	ctxpkg "github.com/aschepis/backscratcher/streamchat/context"
	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/rs/zerolog"
)

// eventStream implements llm.EventStream over an Anthropic SSE stream. Each
// call to Next decodes exactly one event from the wire; nothing is buffered.
type eventStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	hook    ctxpkg.RawEventHook
	current llm.StreamEvent
	count   int
	logger  zerolog.Logger
}

// newEventStream creates a new eventStream.
func newEventStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], logger zerolog.Logger) *eventStream {
	hook, _ := ctxpkg.GetRawEventHook(ctx)
	return &eventStream{
		stream: stream,
		hook:   hook,
		logger: logger,
	}
}

// Next advances to the next event in the stream.
func (s *eventStream) Next() bool {
	if !s.stream.Next() {
		s.logger.Debug().Int("events", s.count).Msg("Stream ended")
		return false
	}

	raw := s.stream.Current()
	if s.hook != nil {
		s.hook(raw.Type, raw.RawJSON())
	}
	s.current = FromStreamEvent(raw)
	s.count++
	return true
}

// Event returns the current event.
func (s *eventStream) Event() llm.StreamEvent {
	return s.current
}

// Err returns any error that occurred while reading the stream. Mid-stream
// errors are returned as-is and never retried.
func (s *eventStream) Err() error {
	return s.stream.Err()
}

// Close closes the stream and releases resources.
func (s *eventStream) Close() error {
	return s.stream.Close()
}

var _ llm.EventStream = (*eventStream)(nil)
