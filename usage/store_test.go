package usage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/aschepis/backscratcher/streamchat/migrations"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory database and runs migrations
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.RunMigrations(db, zerolog.Nop()))
	return db
}

func newTestStore(t *testing.T, now time.Time) *Store {
	t.Helper()
	s := NewStore(setupTestDB(t), zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestRegisterDefaultsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Unix(1000, 0))

	require.NoError(t, s.RegisterDefaults(ctx, DefaultComponent))
	require.NoError(t, s.RegisterDefaults(ctx, DefaultComponent))

	var types, costs int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM cost_types").Scan(&types))
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM costs").Scan(&costs))
	assert.Equal(t, 2, types)
	assert.Equal(t, 2, costs)

	var unit string
	require.NoError(t, s.db.QueryRow("SELECT unit FROM cost_types WHERE metric = ?", llm.MetricOutputTokens).Scan(&unit))
	assert.Equal(t, "tokens", unit)
}

func TestSetCostUpdatesPrice(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Unix(1000, 0))

	require.NoError(t, s.SetCost(ctx, "c", "m", 0.5, "model-a"))
	require.NoError(t, s.SetCost(ctx, "c", "m", 0.25, "model-a"))

	var price float64
	require.NoError(t, s.db.QueryRow("SELECT cost_per_unit FROM costs WHERE model = 'model-a'").Scan(&price))
	assert.Equal(t, 0.25, price)

	assert.Error(t, s.SetCost(ctx, "c", "m", -1, "model-a"))
}

func TestTrackUsageAndTotals(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Unix(5000, 0))
	require.NoError(t, s.RegisterDefaults(ctx, DefaultComponent))

	priced := "claude-3-5-sonnet-20241022"
	records := []llm.UsageRecord{
		{Component: DefaultComponent, Metric: llm.MetricInputTokens, Quantity: 1000, Model: priced, ConversationID: "a",
			Metadata: map[string]any{"cache_read_tokens": 10}},
		{Component: DefaultComponent, Metric: llm.MetricOutputTokens, Quantity: 200, Model: priced, ConversationID: "a"},
		{Component: DefaultComponent, Metric: llm.MetricInputTokens, Quantity: 500, Model: priced, ConversationID: "b"},
		{Component: DefaultComponent, Metric: llm.MetricInputTokens, Quantity: 7, Model: "unpriced", ConversationID: "b"},
	}
	for _, rec := range records {
		require.NoError(t, s.TrackUsage(ctx, rec))
	}

	totals, err := s.Totals(ctx, time.Unix(0, 0))
	require.NoError(t, err)
	require.Len(t, totals, 3)

	byKey := map[string]Total{}
	for _, tot := range totals {
		byKey[tot.Model+"/"+tot.Metric] = tot
	}
	in := byKey[priced+"/"+llm.MetricInputTokens]
	assert.Equal(t, int64(1500), in.Quantity)
	assert.InDelta(t, 0.0045, in.Cost, 1e-9)
	out := byKey[priced+"/"+llm.MetricOutputTokens]
	assert.InDelta(t, 0.003, out.Cost, 1e-9)
	assert.Zero(t, byKey["unpriced/"+llm.MetricInputTokens].Cost)

	later, err := s.Totals(ctx, time.Unix(6000, 0))
	require.NoError(t, err)
	assert.Empty(t, later)
}

func TestRecords(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, time.Unix(5000, 0))

	require.NoError(t, s.TrackUsage(ctx, llm.UsageRecord{
		Component: DefaultComponent, Metric: llm.MetricOutputTokens, Quantity: 3, Model: "m", ConversationID: "conv",
		Metadata: map[string]any{"total_output_length": 12},
	}))
	require.NoError(t, s.TrackUsage(ctx, llm.UsageRecord{Component: DefaultComponent, Metric: llm.MetricInputTokens, Quantity: 4, ConversationID: "other"}))

	recs, err := s.Records(ctx, "conv")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
	assert.Equal(t, int64(3), recs[0].Quantity)
	assert.Equal(t, float64(12), recs[0].Metadata["total_output_length"])
	assert.Equal(t, time.Unix(5000, 0), recs[0].CreatedAt)
}
