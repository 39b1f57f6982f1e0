package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"stock-sentinel/models"
	"stock-sentinel/observability"
)

// GetAlertState returns the deduplication state for one (user, entity)
// pair. A pair that has never been evaluated gets a zero-valued state, not
// an error.
func (r *Repository) GetAlertState(ctx context.Context, userID, entityID uuid.UUID) (models.AlertState, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "user_entity_settings")

	s := models.AlertState{UserID: userID, EntityID: entityID}
	var trend, regime *string
	err := r.db.QueryRow(ctx, `
		SELECT s.ticker, s.last_trend_position, s.last_price_close, s.last_valuation_regime,
		       s.last_valuation_percentile, s.last_alerted_templates, s.last_evaluated_at
		FROM user_entity_settings s
		WHERE s.user_id = $1 AND s.entity_id = $2
	`, userID, entityID).Scan(&s.Ticker, &trend, &s.LastClose, &regime, &s.LastValuationPercentile, &s.LastAlertedTemplates, &s.LastEvaluatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "user_entity_settings")
		return s, fmt.Errorf("failed to query alert state: %w", err)
	}

	if trend != nil {
		s.LastTrendPosition = models.TrendPosition(*trend)
	}
	if regime != nil {
		s.LastValuationRegime = models.Regime(*regime)
	}
	return s, nil
}

// UpsertAlertState replaces the full deduplication state for one
// (user, entity) pair.
func (r *Repository) UpsertAlertState(ctx context.Context, state models.AlertState) error {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "user_entity_settings")

	templates := state.LastAlertedTemplates
	if templates == nil {
		templates = map[string]string{}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO user_entity_settings (user_id, entity_id, ticker, last_trend_position, last_price_close,
			last_valuation_regime, last_valuation_percentile, last_alerted_templates, last_evaluated_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, NOW())
		ON CONFLICT (user_id, entity_id)
		DO UPDATE SET
			ticker = EXCLUDED.ticker,
			last_trend_position = EXCLUDED.last_trend_position,
			last_price_close = EXCLUDED.last_price_close,
			last_valuation_regime = EXCLUDED.last_valuation_regime,
			last_valuation_percentile = EXCLUDED.last_valuation_percentile,
			last_alerted_templates = EXCLUDED.last_alerted_templates,
			last_evaluated_at = EXCLUDED.last_evaluated_at,
			updated_at = NOW()
	`, state.UserID, state.EntityID, state.Ticker, string(state.LastTrendPosition), state.LastClose,
		string(state.LastValuationRegime), state.LastValuationPercentile, templates, state.LastEvaluatedAt)

	if err != nil {
		metrics.RecordDBError("insert", "user_entity_settings")
		return fmt.Errorf("failed to upsert alert state: %w", err)
	}
	return nil
}

// MarkTemplateAlerted records that a template fired for a (user, entity)
// pair on runDate. The JSONB merge preserves other templates' dates.
func (r *Repository) MarkTemplateAlerted(ctx context.Context, userID, entityID uuid.UUID, templateID string, runDate time.Time) error {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("update", "user_entity_settings")

	_, err := r.db.Exec(ctx, `
		INSERT INTO user_entity_settings (user_id, entity_id, last_alerted_templates, updated_at)
		VALUES ($1, $2, jsonb_build_object($3::text, $4::text), NOW())
		ON CONFLICT (user_id, entity_id)
		DO UPDATE SET
			last_alerted_templates = COALESCE(user_entity_settings.last_alerted_templates, '{}'::jsonb)
				|| jsonb_build_object($3::text, $4::text),
			updated_at = NOW()
	`, userID, entityID, templateID, runDate.Format(models.DateOnly))

	if err != nil {
		metrics.RecordDBError("update", "user_entity_settings")
		return fmt.Errorf("failed to mark template %s alerted: %w", templateID, err)
	}
	return nil
}
