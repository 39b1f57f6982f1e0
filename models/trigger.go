package models

import (
	"encoding/json"
	"time"
)

// Trigger records a single template firing for a ticker on an evaluation
// date. Triggers are written per run and never mutated afterwards.
type Trigger struct {
	Date         time.Time `json:"date" parquet:"date"`
	Ticker       string    `json:"ticker" parquet:"ticker"`
	TemplateID   string    `json:"template_id" parquet:"template_id"`
	TemplateName string    `json:"template_name" parquet:"template_name"`
	Strength     float64   `json:"trigger_strength" parquet:"trigger_strength"`
	ReasonsJSON  string    `json:"reasons_json" parquet:"reasons_json"`
}

// Reasons decodes the structured reason payload captured at trigger time.
func (t *Trigger) Reasons() map[string]float64 {
	out := map[string]float64{}
	if t.ReasonsJSON == "" {
		return out
	}
	_ = json.Unmarshal([]byte(t.ReasonsJSON), &out)
	return out
}
