package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"plantdash/internal/broadcast"
	"plantdash/internal/domain"
)

// LastCleanupKey holds the epoch-ms time of the last retention sweep.
const LastCleanupKey = "lastCleanup"

// outboxRetention bounds how long relayed broadcasts stay in the outbox.
const outboxRetention = 24 * time.Hour

// RetainedCollections are pruned by CleanupOldData.
var RetainedCollections = []string{domain.CollSensors, domain.CollAudit, domain.CollAlerts}

type CleanupReport struct {
	// Skipped is true when a sweep already ran today.
	Skipped      bool             `json:"skipped"`
	Cutoff       time.Time        `json:"cutoff"`
	Removed      map[string]int64 `json:"removed"`
	Failed       []string         `json:"failed,omitempty"`
	OutboxPruned int64            `json:"outboxPruned"`
}

// CleanupOldData removes time-series records older than the retention window.
// It runs at most once per calendar day.
func (d *Database) CleanupOldData(ctx context.Context) (CleanupReport, error) {
	return d.cleanup(ctx, false)
}

// ForceCleanup runs the retention sweep even if one already ran today.
func (d *Database) ForceCleanup(ctx context.Context) (CleanupReport, error) {
	return d.cleanup(ctx, true)
}

func (d *Database) cleanup(ctx context.Context, force bool) (CleanupReport, error) {
	now := d.now()
	rep := CleanupReport{Cutoff: now.Add(-d.opts.Retention), Removed: map[string]int64{}}
	log := d.logger.Named("cleanup")

	if !force {
		var last int64
		ok, err := d.Settings.GetInto(ctx, LastCleanupKey, &last)
		if err != nil {
			return rep, err
		}
		if ok && domain.DayKey(time.UnixMilli(last), d.Location()) == domain.DayKey(now, d.Location()) {
			rep.Skipped = true
			return rep, nil
		}
	}

	for _, coll := range RetainedCollections {
		n, err := d.Store.DeleteOlderThan(ctx, coll, rep.Cutoff)
		if err != nil {
			rep.Failed = append(rep.Failed, coll)
			log.Warn("prune collection", zap.String("collection", coll), zap.Error(err))
			continue
		}
		rep.Removed[coll] = n
	}
	n, err := broadcast.PruneOutbox(ctx, d.DB, now.Add(-outboxRetention))
	if err != nil {
		log.Warn("prune broadcast outbox", zap.Error(err))
	}
	rep.OutboxPruned = n

	if err := d.Settings.Set(ctx, LastCleanupKey, now.UnixMilli()); err != nil {
		return rep, err
	}
	log.Info("old data removed", zap.Any("removed", rep.Removed), zap.Int("failed", len(rep.Failed)))
	return rep, nil
}
