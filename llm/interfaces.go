package llm

import (
	"context"
)

// Provider establishes streaming completions against a remote endpoint.
// Implementations handle provider-specific details internally.
type Provider interface {
	// Stream sends an annotated request and returns the live event stream.
	// An error here means the stream could not be established.
	Stream(ctx context.Context, req *Request) (EventStream, error)
}

// EventStream represents the inbound events of an established streaming response.
type EventStream interface {
	// Next advances to the next event in the stream.
	// Returns false when the stream is complete or an error occurs.
	Next() bool

	// Event returns the current event.
	// Should only be called after Next() returns true.
	Event() StreamEvent

	// Err returns any error that occurred during streaming.
	Err() error

	// Close closes the stream and releases resources.
	Close() error
}

// UsageSink receives token usage metrics.
type UsageSink interface {
	TrackUsage(ctx context.Context, rec UsageRecord) error
}

// UsageSinkFunc adapts a function to the UsageSink interface.
type UsageSinkFunc func(ctx context.Context, rec UsageRecord) error

// TrackUsage calls f.
func (f UsageSinkFunc) TrackUsage(ctx context.Context, rec UsageRecord) error {
	return f(ctx, rec)
}

// ModelLister returns the identifiers of currently available models.
// Implementations return an empty list instead of an error when the provider fails.
type ModelLister interface {
	ListModels(ctx context.Context) []string
}

// SliceStream is an EventStream over a fixed list of events. It is useful for
// replaying recorded responses.
type SliceStream struct {
	events  []StreamEvent
	current int
	err     error
	closed  bool
}

// NewSliceStream creates a stream that yields events and then ends with err.
func NewSliceStream(events []StreamEvent, err error) *SliceStream {
	return &SliceStream{events: events, current: -1, err: err}
}

// Next implements EventStream.Next.
func (s *SliceStream) Next() bool {
	if s.closed {
		return false
	}
	if s.current+1 >= len(s.events) {
		s.current = len(s.events)
		return false
	}
	s.current++
	return true
}

// Event implements EventStream.Event.
func (s *SliceStream) Event() StreamEvent {
	if s.current < 0 || s.current >= len(s.events) {
		return StreamEvent{}
	}
	return s.events[s.current]
}

// Err implements EventStream.Err.
func (s *SliceStream) Err() error {
	if s.current >= len(s.events) {
		return s.err
	}
	return nil
}

// Close implements EventStream.Close.
func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *SliceStream) Closed() bool {
	return s.closed
}

// Consumed returns how many events have been pulled from the stream.
func (s *SliceStream) Consumed() int {
	if s.current < 0 {
		return 0
	}
	if s.current >= len(s.events) {
		return len(s.events)
	}
	return s.current + 1
}

var _ EventStream = (*SliceStream)(nil)
