package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	// MaxBreakpoints is the provider's cap on cache breakpoints per request.
	MaxBreakpoints = 4
	// MaxTurnBreakpoints is how many non-system turns may be marked cacheable.
	// The system turn always takes the remaining slot.
	MaxTurnBreakpoints = MaxBreakpoints - 1
)

// ErrMissingSystemTurn is wrapped by the error Select returns when turn 0 is
// not the system turn.
var ErrMissingSystemTurn = errors.New("turn 0 must be the system turn")

// Selection is the annotated form of a conversation, ready to send.
type Selection struct {
	// System is the system turn content, with its final text part marked cacheable.
	System llm.Content
	// Turns are the non-system turns, each normalized to a part list.
	Turns []llm.Turn
	// Changed holds the indices into Turns that differ from the previous request.
	Changed []int
	// Cached holds the indices into Turns that received a cache annotation.
	Cached []int
}

// snapshot is the last sent conversation for one conversation key.
type snapshot struct {
	mu    sync.Mutex
	turns []llm.Turn
}

// Selector decides which turns of a conversation are marked cacheable, based on
// which turns are unchanged since the previous request with the same key.
type Selector struct {
	mu        sync.Mutex
	snapshots map[string]*snapshot
	logger    zerolog.Logger
}

// NewSelector creates a Selector with an empty snapshot store.
func NewSelector(logger zerolog.Logger) *Selector {
	return &Selector{
		snapshots: make(map[string]*snapshot),
		logger:    logger.With().Str("component", "cacheSelector").Logger(),
	}
}

// entry gets or creates the snapshot for key.
func (s *Selector) entry(key string) *snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap, ok := s.snapshots[key]; ok {
		return snap
	}
	snap := &snapshot{}
	s.snapshots[key] = snap
	return snap
}

// Forget drops the snapshot held for key.
func (s *Selector) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, key)
}

// Snapshot returns a copy of the turns last sent under key.
func (s *Selector) Snapshot(key string) []llm.Turn {
	snap := s.entry(key)
	snap.mu.Lock()
	defer snap.mu.Unlock()
	return llm.CloneTurns(snap.turns)
}

// Select annotates a conversation for sending. turns[0] must be the system turn.
// The input is never mutated; any cache annotations it carries are discarded.
// The annotated non-system turns become the new snapshot for key.
func (s *Selector) Select(key string, turns []llm.Turn) (*Selection, error) {
	if len(turns) == 0 {
		return &Selection{}, nil
	}
	if turns[0].Role != llm.RoleSystem {
		return nil, llm.NewInvalidRequestError(fmt.Sprintf("got role %q", turns[0].Role), ErrMissingSystemTurn)
	}

	current := make([]llm.Turn, 0, len(turns)-1)
	for i, turn := range turns[1:] {
		if turn.Role != llm.RoleUser && turn.Role != llm.RoleAssistant {
			return nil, llm.NewInvalidRequestError(fmt.Sprintf("turn %d has unsupported role %q", i+1, turn.Role), nil)
		}
		current = append(current, llm.Turn{Role: turn.Role, Content: llm.PartList(stripCacheable(turn.Content.AsParts())...)})
	}

	snap := s.entry(key)
	snap.mu.Lock()
	defer snap.mu.Unlock()

	changed := Changed(snap.turns, current)
	candidates := lo.Without(lo.Range(len(current)), changed...)
	selected := candidates[max(0, len(candidates)-MaxTurnBreakpoints):]

	var cached []int
	used := 1 // the system turn
	for _, i := range selected {
		if used >= MaxBreakpoints {
			break
		}
		if markFirstText(current[i]) {
			cached = append(cached, i)
			used++
		}
	}

	snap.turns = llm.CloneTurns(current)

	s.logger.Debug().
		Str("conversation", key).
		Int("turns", len(current)).
		Ints("changed", changed).
		Ints("cached", cached).
		Msg("Selected cache breakpoints")

	return &Selection{
		System:  systemContent(turns[0].Content),
		Turns:   current,
		Changed: changed,
		Cached:  cached,
	}, nil
}

// systemContent normalizes the system turn and marks its last text part cacheable.
func systemContent(c llm.Content) llm.Content {
	parts := stripCacheable(c.AsParts())
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == llm.ContentPartTypeText {
			parts[i].Cacheable = true
			break
		}
	}
	return llm.PartList(parts...)
}

// markFirstText marks the first text part of turn cacheable. The turn's parts
// must be owned by the caller.
func markFirstText(turn llm.Turn) bool {
	parts, _ := turn.Content.Parts()
	for i := range parts {
		if parts[i].Type == llm.ContentPartTypeText {
			parts[i].Cacheable = true
			return true
		}
	}
	return false
}

func stripCacheable(parts []llm.ContentPart) []llm.ContentPart {
	for i := range parts {
		parts[i].Cacheable = false
	}
	return parts
}
