// Package usage persists token usage and per-model prices in sqlite.
package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aschepis/backscratcher/streamchat/llm"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultComponent is the component id usage is recorded under.
const DefaultComponent = "ah_anthropic"

// defaultPriceModel is the model the built-in prices apply to.
const defaultPriceModel = "claude-3-5-sonnet-20241022"

// Record is one stored usage sample.
type Record struct {
	ID string
	llm.UsageRecord
	CreatedAt time.Time
}

// Total aggregates usage for one component, metric and model.
type Total struct {
	Component string
	Metric    string
	Model     string
	Quantity  int64
	Cost      float64
}

// Store handles persistence of usage records and cost metadata.
// It implements llm.UsageSink.
type Store struct {
	db     *sql.DB
	now    func() time.Time
	logger zerolog.Logger
}

// NewStore creates a new Store. The database must already be migrated.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		now:    time.Now,
		logger: logger.With().Str("component", "usageStore").Logger(),
	}
}

// RegisterCostType declares a metric a component reports, replacing its
// description and unit if it already exists.
func (s *Store) RegisterCostType(ctx context.Context, component, metric, description, unit string) error {
	query := sq.Insert("cost_types").
		Columns("component", "metric", "description", "unit", "created_at").
		Values(component, metric, description, unit, s.now().Unix()).
		Suffix("ON CONFLICT(component, metric) DO UPDATE SET description = excluded.description, unit = excluded.unit")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("register cost type %s/%s: %w", component, metric, err)
	}
	return nil
}

// SetCost sets the price of one unit of metric for model.
func (s *Store) SetCost(ctx context.Context, component, metric string, costPerUnit float64, model string) error {
	if costPerUnit < 0 {
		return fmt.Errorf("cost per unit must not be negative, got %v", costPerUnit)
	}

	query := sq.Insert("costs").
		Columns("component", "metric", "model", "cost_per_unit", "updated_at").
		Values(component, metric, model, costPerUnit, s.now().Unix()).
		Suffix("ON CONFLICT(component, metric, model) DO UPDATE SET cost_per_unit = excluded.cost_per_unit, updated_at = excluded.updated_at")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("set cost %s/%s for %s: %w", component, metric, model, err)
	}
	return nil
}

// RegisterDefaults registers the token metrics reported for streamed chats and
// their default prices. It is safe to call on every startup.
func (s *Store) RegisterDefaults(ctx context.Context, component string) error {
	if err := s.RegisterCostType(ctx, component, llm.MetricInputTokens, "Claude stream_chat input token cost", "tokens"); err != nil {
		return err
	}
	if err := s.RegisterCostType(ctx, component, llm.MetricOutputTokens, "Claude stream_chat output token cost", "tokens"); err != nil {
		return err
	}

	// $3 and $15 per million tokens
	if err := s.SetCost(ctx, component, llm.MetricInputTokens, 0.000003, defaultPriceModel); err != nil {
		return err
	}
	if err := s.SetCost(ctx, component, llm.MetricOutputTokens, 0.000015, defaultPriceModel); err != nil {
		return err
	}

	s.logger.Debug().Str("usage_component", component).Msg("Registered default cost types")
	return nil
}

// TrackUsage implements llm.UsageSink.TrackUsage.
func (s *Store) TrackUsage(ctx context.Context, rec llm.UsageRecord) error {
	var metadata any
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal usage metadata: %w", err)
		}
		metadata = string(data)
	}

	query := sq.Insert("usage_records").
		Columns("id", "component", "metric", "quantity", "metadata", "model", "conversation_id", "created_at").
		Values(uuid.NewString(), rec.Component, rec.Metric, rec.Quantity, metadata, rec.Model, rec.ConversationID, s.now().Unix())

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Totals sums usage recorded at or after since, grouped by component, metric
// and model. Cost is zero when no price is set for the model.
func (s *Store) Totals(ctx context.Context, since time.Time) ([]Total, error) {
	query := sq.Select(
		"u.component", "u.metric", "u.model",
		"SUM(u.quantity)",
		"COALESCE(SUM(u.quantity * c.cost_per_unit), 0)",
	).
		From("usage_records u").
		LeftJoin("costs c ON c.component = u.component AND c.metric = u.metric AND c.model = u.model").
		Where(sq.GtOrEq{"u.created_at": since.Unix()}).
		GroupBy("u.component", "u.metric", "u.model").
		OrderBy("u.model", "u.metric")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage totals: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var totals []Total
	for rows.Next() {
		var t Total
		if err := rows.Scan(&t.Component, &t.Metric, &t.Model, &t.Quantity, &t.Cost); err != nil {
			return nil, fmt.Errorf("scan usage total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// Records returns the usage recorded for one conversation, oldest first.
func (s *Store) Records(ctx context.Context, conversationID string) ([]Record, error) {
	query := sq.Select("id", "component", "metric", "quantity", "metadata", "model", "conversation_id", "created_at").
		From("usage_records").
		Where(sq.Eq{"conversation_id": conversationID}).
		OrderBy("created_at", "rowid")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only query

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Component, &rec.Metric, &rec.Quantity, &metadata, &rec.Model, &rec.ConversationID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
				s.logger.Warn().Err(err).Str("id", rec.ID).Msg("Ignoring unreadable usage metadata")
			}
		}
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ llm.UsageSink = (*Store)(nil)
