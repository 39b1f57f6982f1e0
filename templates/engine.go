package templates

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"stock-sentinel/models"
)

// Engine evaluates a template set over daily snapshots. A template that
// panics or fails is isolated and counted; the rest still run.
type Engine struct {
	templates []Template
	logger    *slog.Logger
}

// NewEngine builds an engine over the given templates. Pass Catalogue for
// the full set or Basic() when no valuation stats are loaded.
func NewEngine(ts []Template, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{templates: ts, logger: logger}
}

// EvalStats summarizes one engine run.
type EvalStats struct {
	SnapshotsIn    int
	Triggers       int
	SkippedMissing int
	TemplateErrors int
}

// Evaluate runs every template against every snapshot and returns the
// triggered rows. Snapshots missing a template's required fields are
// skipped for that template only.
func (e *Engine) Evaluate(snapshots []Snapshot) ([]models.Trigger, EvalStats) {
	stats := EvalStats{SnapshotsIn: len(snapshots)}
	var out []models.Trigger

	for _, tpl := range e.templates {
		fired := 0
		for _, snap := range snapshots {
			if !hasRequired(snap, tpl.Required) {
				stats.SkippedMissing++
				continue
			}
			res, ok, err := evalOne(tpl, snap)
			if err != nil {
				stats.TemplateErrors++
				e.logger.Error("template evaluation failed",
					"template_id", tpl.ID, "ticker", snap.Ticker, "error", err)
				continue
			}
			if !ok {
				continue
			}
			out = append(out, models.Trigger{
				Date:         snap.Date,
				Ticker:       snap.Ticker,
				TemplateID:   tpl.ID,
				TemplateName: tpl.Name,
				Strength:     res.Strength,
				ReasonsJSON:  marshalReasons(res.Reasons),
			})
			fired++
		}
		if fired > 0 {
			e.logger.Info("template triggered", "template_id", tpl.ID, "name", tpl.Name, "count", fired)
		}
	}

	stats.Triggers = len(out)
	return out, stats
}

// evalOne wraps a single template evaluation so a panicking template cannot
// take down the whole run.
func evalOne(tpl Template, snap Snapshot) (res Result, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, ok = Result{}, false
			err = fmt.Errorf("template %s panicked on %s: %v", tpl.ID, snap.Ticker, r)
		}
	}()
	res, ok = tpl.Eval(snap)
	return res, ok, nil
}

func hasRequired(snap Snapshot, fields []Field) bool {
	for _, f := range fields {
		if _, present := snap.Value(f); !present {
			return false
		}
	}
	return true
}

func marshalReasons(reasons map[string]float64) string {
	if len(reasons) == 0 {
		return "{}"
	}
	b, err := json.Marshal(reasons)
	if err != nil {
		return "{}"
	}
	return string(b)
}
