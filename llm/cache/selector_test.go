package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conversation(n int) []llm.Turn {
	turns := []llm.Turn{llm.NewTextTurn(llm.RoleSystem, "You are helpful.")}
	for i := 0; i < n; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.NewTextTurn(role, fmt.Sprintf("turn %d", i)))
	}
	return turns
}

func cacheableCount(turns []llm.Turn) int {
	count := 0
	for _, turn := range turns {
		parts, _ := turn.Content.Parts()
		for _, p := range parts {
			if p.Cacheable {
				count++
			}
		}
	}
	return count
}

func TestChanged(t *testing.T) {
	prev := conversation(3)[1:]
	cur := conversation(5)[1:]
	cur[1] = llm.NewTextTurn(llm.RoleAssistant, "edited")

	assert.Equal(t, []int{1, 3, 4}, Changed(prev, cur))
	assert.Empty(t, Changed(cur, cur))
	assert.Equal(t, []int{0, 1}, Changed(nil, cur[:2]))
}

func TestChangedIgnoresCacheAnnotations(t *testing.T) {
	prev := []llm.Turn{{Role: llm.RoleUser, Content: llm.PartList(llm.ContentPart{Type: llm.ContentPartTypeText, Text: "a", Cacheable: true})}}
	cur := []llm.Turn{{Role: llm.RoleUser, Content: llm.PartList(llm.NewTextPart("a"))}}
	assert.Empty(t, Changed(prev, cur))
}

func TestChangedShorterConversation(t *testing.T) {
	prev := conversation(6)[1:]
	cur := conversation(3)[1:]
	assert.Empty(t, Changed(prev, cur))
}

func TestSelectFirstCallCachesOnlySystem(t *testing.T) {
	s := NewSelector(zerolog.Nop())
	sel, err := s.Select("c1", conversation(4))
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 2, 3}, sel.Changed)
	assert.Empty(t, sel.Cached)
	assert.Zero(t, cacheableCount(sel.Turns))

	parts, ok := sel.System.Parts()
	require.True(t, ok)
	require.Len(t, parts, 1)
	assert.True(t, parts[0].Cacheable)
}

func TestSelectIdempotentOnRepeat(t *testing.T) {
	s := NewSelector(zerolog.Nop())
	turns := conversation(5)

	_, err := s.Select("c1", turns)
	require.NoError(t, err)
	sel, err := s.Select("c1", turns)
	require.NoError(t, err)

	assert.Empty(t, sel.Changed)
	assert.Equal(t, []int{2, 3, 4}, sel.Cached)
	assert.Equal(t, MaxTurnBreakpoints, cacheableCount(sel.Turns))
}

func TestSelectRecencyTieBreak(t *testing.T) {
	s := NewSelector(zerolog.Nop())
	_, err := s.Select("c1", conversation(10))
	require.NoError(t, err)

	// Change turns 0, 3, 4, 6 and 8 so the unchanged candidates are 1, 2, 5, 7, 9.
	next := conversation(10)
	for _, i := range []int{0, 3, 4, 6, 8} {
		next[i+1] = llm.NewTextTurn(next[i+1].Role, fmt.Sprintf("edited %d", i))
	}
	sel, err := s.Select("c1", next)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 3, 4, 6, 8}, sel.Changed)
	assert.Equal(t, []int{5, 7, 9}, sel.Cached)
}

func TestSelectNeverExceedsBudget(t *testing.T) {
	for _, n := range []int{0, 1, 2, 3, 4, 10, 50} {
		t.Run(fmt.Sprintf("%d turns", n), func(t *testing.T) {
			s := NewSelector(zerolog.Nop())
			turns := conversation(n)
			_, err := s.Select("c", turns)
			require.NoError(t, err)
			sel, err := s.Select("c", append(turns, llm.NewTextTurn(llm.RoleUser, "new")))
			require.NoError(t, err)
			assert.LessOrEqual(t, cacheableCount(sel.Turns), MaxTurnBreakpoints)
			assert.Equal(t, min(n, MaxTurnBreakpoints), len(sel.Cached))
		})
	}
}

func TestSelectMarksOnlyFirstTextPart(t *testing.T) {
	s := NewSelector(zerolog.Nop())
	turns := []llm.Turn{
		llm.NewTextTurn(llm.RoleSystem, "sys"),
		{Role: llm.RoleUser, Content: llm.PartList(
			llm.NewImagePart("image/png", []byte{1, 2, 3}),
			llm.NewTextPart("first"),
			llm.NewTextPart("second"),
		)},
		{Role: llm.RoleAssistant, Content: llm.PartList(llm.NewImagePart("image/png", []byte{4}))},
	}
	_, err := s.Select("c", turns)
	require.NoError(t, err)
	sel, err := s.Select("c", turns)
	require.NoError(t, err)

	assert.Equal(t, []int{0}, sel.Cached)
	parts, _ := sel.Turns[0].Content.Parts()
	assert.False(t, parts[0].Cacheable)
	assert.True(t, parts[1].Cacheable)
	assert.False(t, parts[2].Cacheable)
}

func TestSelectDoesNotMutateInputOrSnapshot(t *testing.T) {
	s := NewSelector(zerolog.Nop())
	turns := []llm.Turn{
		llm.NewTextTurn(llm.RoleSystem, "sys"),
		{Role: llm.RoleUser, Content: llm.PartList(llm.ContentPart{Type: llm.ContentPartTypeText, Text: "hi", Cacheable: true})},
	}
	_, err := s.Select("c", turns)
	require.NoError(t, err)
	sel, err := s.Select("c", turns)
	require.NoError(t, err)

	inParts, _ := turns[1].Content.Parts()
	assert.True(t, inParts[0].Cacheable, "input must not be rewritten")

	// Mutating the returned request must not alter the stored snapshot.
	outParts, _ := sel.Turns[0].Content.Parts()
	outParts[0].Text = "tampered"
	snap := s.Snapshot("c")
	snapParts, _ := snap[0].Content.Parts()
	assert.Equal(t, "hi", snapParts[0].Text)
}

func TestSelectKeepsConversationsApart(t *testing.T) {
	s := NewSelector(zerolog.Nop())
	a := conversation(4)
	b := conversation(4)
	b[1] = llm.NewTextTurn(llm.RoleUser, "different")

	_, err := s.Select("a", a)
	require.NoError(t, err)
	_, err = s.Select("b", b)
	require.NoError(t, err)

	sel, err := s.Select("a", a)
	require.NoError(t, err)
	assert.Empty(t, sel.Changed, "another conversation must not disturb change detection")

	s.Forget("a")
	sel, err = s.Select("a", a)
	require.NoError(t, err)
	assert.Len(t, sel.Changed, 4)
}

func TestSelectEmptyAndSystemOnly(t *testing.T) {
	s := NewSelector(zerolog.Nop())
	sel, err := s.Select("c", nil)
	require.NoError(t, err)
	assert.Empty(t, sel.Turns)

	sel, err = s.Select("c", conversation(0))
	require.NoError(t, err)
	assert.Empty(t, sel.Turns)
	assert.Empty(t, sel.Cached)
}

func TestSelectRejectsMalformedConversations(t *testing.T) {
	s := NewSelector(zerolog.Nop())

	_, err := s.Select("c", []llm.Turn{llm.NewTextTurn(llm.RoleUser, "hi")})
	require.Error(t, err)
	assert.True(t, llm.IsInvalidRequestError(err))
	assert.True(t, errors.Is(err, ErrMissingSystemTurn))

	_, err = s.Select("c", []llm.Turn{
		llm.NewTextTurn(llm.RoleSystem, "sys"),
		llm.NewTextTurn(llm.RoleSystem, "again"),
	})
	require.Error(t, err)
	assert.True(t, llm.IsInvalidRequestError(err))
}

func TestSelectConcurrentConversations(t *testing.T) {
	s := NewSelector(zerolog.Nop())
	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			key := fmt.Sprintf("conv-%d", c)
			turns := conversation(c + 2)
			for i := 0; i < 20; i++ {
				if _, err := s.Select(key, turns); err != nil {
					t.Error(err)
					return
				}
			}
			sel, err := s.Select(key, turns)
			if err != nil {
				t.Error(err)
				return
			}
			if len(sel.Changed) != 0 {
				t.Errorf("conversation %s saw changes %v", key, sel.Changed)
			}
		}(c)
	}
	wg.Wait()
}
