package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertState is the per-(user, ticker) deduplication record. It carries the
// last observed trend and valuation state plus the dates each template last
// alerted. Owned exclusively by the state tracker.
type AlertState struct {
	UserID   uuid.UUID `json:"user_id"`
	EntityID uuid.UUID `json:"entity_id"`
	Ticker   string    `json:"ticker"`

	LastTrendPosition       TrendPosition `json:"last_trend_position,omitempty"`
	LastClose               *float64      `json:"last_price_close,omitempty"`
	LastValuationRegime     Regime        `json:"last_valuation_regime,omitempty"`
	LastValuationPercentile *float64      `json:"last_valuation_percentile,omitempty"`

	// LastAlertedTemplates maps template id to the date it last fired for
	// this user/ticker, ISO formatted. Absence means never alerted.
	LastAlertedTemplates map[string]string `json:"last_alerted_templates,omitempty"`

	LastEvaluatedAt time.Time `json:"last_evaluated_at,omitempty"`
}

// TemplateLastAlerted returns the last alert date for a template, if any.
func (s *AlertState) TemplateLastAlerted(templateID string) (time.Time, bool) {
	if s.LastAlertedTemplates == nil {
		return time.Time{}, false
	}
	raw, ok := s.LastAlertedTemplates[templateID]
	if !ok {
		return time.Time{}, false
	}
	d, err := time.Parse(DateOnly, raw)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// WatchEntry links a user to a ticker they subscribe to for alerts.
type WatchEntry struct {
	UserID        uuid.UUID `json:"user_id"`
	EntityID      uuid.UUID `json:"entity_id"`
	Ticker        string    `json:"ticker"`
	Email         string    `json:"email"`
	AlertsEnabled bool      `json:"alerts_enabled"`
}

// SendStatus is the per-recipient outcome of a digest delivery attempt.
type SendStatus struct {
	UserID     uuid.UUID `json:"user_id"`
	Email      string    `json:"email"`
	AlertCount int       `json:"alert_count"`
	Sent       bool      `json:"sent"`
	Err        string    `json:"error,omitempty"`
}
