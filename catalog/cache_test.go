package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLister returns its results in order, repeating the last one.
type scriptedLister struct {
	mu      sync.Mutex
	results [][]string
	calls   int
}

func (l *scriptedLister) ListModels(ctx context.Context) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := min(l.calls, len(l.results)-1)
	l.calls++
	return l.results[i]
}

func (l *scriptedLister) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// tickSchedule fires every d.
type tickSchedule time.Duration

func (s tickSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}

func TestRefreshKeepsListWhenEmpty(t *testing.T) {
	lister := &scriptedLister{results: [][]string{
		{"claude-a", "claude-b", "claude-a", ""},
		{},
		{"claude-c"},
	}}
	c := NewCache(lister, zerolog.Nop())
	assert.Empty(t, c.Models())
	assert.True(t, c.RefreshedAt().IsZero())

	assert.Equal(t, []string{"claude-a", "claude-b"}, c.Refresh(context.Background()))
	assert.True(t, c.Has("claude-b"))
	assert.False(t, c.RefreshedAt().IsZero())

	assert.Equal(t, []string{"claude-a", "claude-b"}, c.Refresh(context.Background()), "an empty result keeps the cached list")

	assert.Equal(t, []string{"claude-c"}, c.Refresh(context.Background()))
	assert.False(t, c.Has("claude-a"))
}

func TestModelsReturnsCopy(t *testing.T) {
	c := NewCache(&scriptedLister{results: [][]string{{"claude-a"}}}, zerolog.Nop())
	c.Refresh(context.Background())

	models := c.Models()
	models[0] = "mutated"
	assert.Equal(t, []string{"claude-a"}, c.Models())
}

func TestStartSchedule(t *testing.T) {
	lister := &scriptedLister{results: [][]string{{"claude-a"}}}
	c := NewCache(lister, zerolog.Nop())

	require.NoError(t, c.StartSchedule(context.Background(), tickSchedule(5*time.Millisecond)))
	assert.Error(t, c.StartSchedule(context.Background(), tickSchedule(time.Millisecond)), "only one loop may run")

	require.Eventually(t, func() bool { return lister.Calls() >= 3 }, 2*time.Second, 5*time.Millisecond)
	c.Stop()

	calls := lister.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, lister.Calls(), "no refreshes after Stop")
	assert.Equal(t, []string{"claude-a"}, c.Models())

	c.Stop()
	require.NoError(t, c.StartSchedule(context.Background(), tickSchedule(time.Hour)), "a stopped cache can start again")
	c.Stop()
}

func TestOnRefresh(t *testing.T) {
	lister := &scriptedLister{results: [][]string{{"claude-a"}, {}, {"claude-b"}}}
	var seen [][]string
	c := NewCache(lister, zerolog.Nop(), WithOnRefresh(func(models []string) {
		seen = append(seen, models)
	}))

	for i := 0; i < 3; i++ {
		c.Refresh(context.Background())
	}
	assert.Equal(t, [][]string{{"claude-a"}, {"claude-b"}}, seen, "empty results are not reported")
}

func TestStartStopsWithContext(t *testing.T) {
	lister := &scriptedLister{results: [][]string{{"claude-a"}}}
	c := NewCache(lister, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Start(ctx, "@every 1h"))
	require.Eventually(t, func() bool { return lister.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	c.Stop()
	assert.Equal(t, 1, lister.Calls())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	c := NewCache(&scriptedLister{results: [][]string{{}}}, zerolog.Nop())
	assert.Error(t, c.Start(context.Background(), "whenever"))
}

func TestParseSchedule(t *testing.T) {
	base := time.Date(2025, 3, 1, 10, 7, 0, 0, time.UTC)
	tests := []struct {
		spec string
		want time.Time
	}{
		{"*/15 * * * *", time.Date(2025, 3, 1, 10, 15, 0, 0, time.UTC)},
		{"0 0 * * * *", time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)},
		{"@hourly", time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)},
		{"@every 1h", base.Add(time.Hour)},
		{"30m", base.Add(30 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			sched, err := ParseSchedule(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sched.Next(base))
		})
	}

	for _, bad := range []string{"", "not a schedule", "-5m", "0s"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}
