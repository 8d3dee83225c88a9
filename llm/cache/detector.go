package cache

import (
	"github.com/aschepis/backscratcher/streamchat/llm"
)

// Changed returns, in ascending order, the indices of current whose content
// differs from the turn at the same position in previous, plus every index past
// the end of previous. Cache annotations never count as a change.
func Changed(previous, current []llm.Turn) []int {
	var changed []int
	for i, turn := range current {
		if i >= len(previous) || !turn.Content.Equal(previous[i].Content) {
			changed = append(changed, i)
		}
	}
	return changed
}
