// Package stream turns provider stream events into an ordered sequence of text
// fragments, framing thinking output ahead of the answer.
package stream

import (
	"bytes"
	"encoding/json"

	"github.com/aschepis/backscratcher/streamchat/llm"
)

// Framing written around the reasoning transcript when thinking is enabled.
const (
	OpenReasoning  = `[{"reasoning": "`
	CloseReasoning = `"}] ` + "\n"
)

// State is the reducer's position in the response.
type State uint8

const (
	// Answer is the initial state. Deltas are emitted verbatim.
	Answer State = iota
	// Thinking is entered by a thinking block start. Deltas are JSON-escaped.
	Thinking
)

func (s State) String() string {
	switch s {
	case Answer:
		return "answer"
	case Thinking:
		return "thinking"
	default:
		return "unknown"
	}
}

// Step is the reducer's transition function. It returns the fragment to emit
// for ev in state and the state that follows. The closing framing is emitted
// only when a block stop leaves Thinking with thinking enabled.
func Step(state State, ev llm.StreamEvent, thinkingEnabled bool) (string, State) {
	switch ev.Type {
	case llm.StreamEventTypeBlockStart:
		if ev.Kind == llm.BlockKindThinking {
			return "", Thinking
		}
		return "", state

	case llm.StreamEventTypeBlockDelta:
		if state == Thinking {
			return EscapeThinking(ev.Text), Thinking
		}
		return ev.Text, Answer

	case llm.StreamEventTypeBlockStop:
		if state == Thinking && thinkingEnabled {
			return CloseReasoning, Answer
		}
		return "", Answer

	default:
		// message start, message delta and anything unrecognised
		return "", state
	}
}

// EscapeThinking returns text encoded as the body of a JSON string, without
// the surrounding quotes.
func EscapeThinking(text string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(text); err != nil {
		return text
	}
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return string(out[1 : len(out)-1])
}
