package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"stock-sentinel/models"
)

// Notify statuses.
const (
	StatusSuccess    = "success"
	StatusDryRun     = "dry_run"
	StatusNoTriggers = "no_triggers"
)

// AlertStore is the persistence surface for watchlists and per-user alert
// state.
type AlertStore interface {
	WatchlistByTicker(ctx context.Context) (map[string][]models.WatchEntry, error)
	GetAlertState(ctx context.Context, userID, entityID uuid.UUID) (models.AlertState, error)
	MarkTemplateAlerted(ctx context.Context, userID, entityID uuid.UUID, templateID string, runDate time.Time) error
}

// Sender delivers one digest email.
type Sender interface {
	SendDigest(ctx context.Context, email string, alerts []Alert) error
}

// Notifier fans triggers out to watching users as one digest per user.
type Notifier struct {
	store  AlertStore
	sender Sender
	logger *slog.Logger
	dryRun bool
}

// NewNotifier wires a notifier. Logger may be nil.
func NewNotifier(store AlertStore, sender Sender, logger *slog.Logger, dryRun bool) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{store: store, sender: sender, logger: logger, dryRun: dryRun}
}

// NotifySummary reports one notification run. Statuses carries one entry per
// attempted recipient, successes and failures both.
type NotifySummary struct {
	Status            string
	TriggersProcessed int
	EmailsSent        int
	AlertsInDigests   int
	AlertsSkipped     int
	Statuses          []models.SendStatus
}

type pendingAlert struct {
	alert      Alert
	entityID   uuid.UUID
	templateID string
}

type pendingDigest struct {
	userID uuid.UUID
	email  string
	alerts []pendingAlert
}

// Notify joins the day's triggers against user watchlists, applies the
// per-template cooldown, and sends one digest per user. Alert state is only
// marked after a successful send, so a failed digest retries tomorrow.
func (n *Notifier) Notify(ctx context.Context, runDate time.Time, triggers []models.Trigger) (NotifySummary, error) {
	summary := NotifySummary{TriggersProcessed: len(triggers)}
	if len(triggers) == 0 {
		summary.Status = StatusNoTriggers
		return summary, nil
	}

	watchlist, err := n.store.WatchlistByTicker(ctx)
	if err != nil {
		return summary, fmt.Errorf("loading watchlists: %w", err)
	}

	// State lookups cached per (user, entity) pair for the run.
	type pairKey struct{ user, entity uuid.UUID }
	stateCache := make(map[pairKey]models.AlertState)

	digests := make(map[uuid.UUID]*pendingDigest)
	for _, trigger := range triggers {
		watchers := watchlist[trigger.Ticker]
		for _, w := range watchers {
			if !w.AlertsEnabled {
				continue
			}
			key := pairKey{w.UserID, w.EntityID}
			state, ok := stateCache[key]
			if !ok {
				state, err = n.store.GetAlertState(ctx, w.UserID, w.EntityID)
				if err != nil {
					return summary, fmt.Errorf("loading alert state for %s: %w", trigger.Ticker, err)
				}
				stateCache[key] = state
			}

			if !ShouldSendTemplate(state, trigger.TemplateID, runDate) {
				summary.AlertsSkipped++
				continue
			}

			d, ok := digests[w.UserID]
			if !ok {
				d = &pendingDigest{userID: w.UserID, email: w.Email}
				digests[w.UserID] = d
			}
			d.alerts = append(d.alerts, pendingAlert{
				alert:      BuildAlert(trigger, runDate),
				entityID:   w.EntityID,
				templateID: trigger.TemplateID,
			})
			summary.AlertsInDigests++
		}
	}

	// Deterministic send order.
	ordered := make([]*pendingDigest, 0, len(digests))
	for _, d := range digests {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].email < ordered[j].email })

	for _, d := range ordered {
		if n.dryRun {
			n.logger.Info("dry run, digest not sent", "email", d.email, "alerts", len(d.alerts))
			summary.EmailsSent++
			continue
		}

		rendered := make([]Alert, len(d.alerts))
		for i, p := range d.alerts {
			rendered[i] = p.alert
		}
		if err := n.sender.SendDigest(ctx, d.email, rendered); err != nil {
			n.logger.Error("digest delivery failed", "email", d.email, "error", err)
			summary.Statuses = append(summary.Statuses, models.SendStatus{
				UserID:     d.userID,
				Email:      d.email,
				AlertCount: len(d.alerts),
				Err:        err.Error(),
			})
			continue
		}

		summary.EmailsSent++
		summary.Statuses = append(summary.Statuses, models.SendStatus{
			UserID:     d.userID,
			Email:      d.email,
			AlertCount: len(d.alerts),
			Sent:       true,
		})
		for _, p := range d.alerts {
			if err := n.store.MarkTemplateAlerted(ctx, d.userID, p.entityID, p.templateID, runDate); err != nil {
				n.logger.Error("could not mark template alerted",
					"user_id", d.userID, "template_id", p.templateID, "error", err)
			}
		}
		n.logger.Info("digest sent", "email", d.email, "alerts", len(d.alerts))
	}

	if n.dryRun {
		summary.Status = StatusDryRun
	} else {
		summary.Status = StatusSuccess
	}
	return summary, nil
}
