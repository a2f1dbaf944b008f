package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"plantdash/internal/config"
	"plantdash/internal/domain"
)

// SeedReport describes what InitializeDefaultData did.
type SeedReport struct {
	// Seeded is false when configuration already existed.
	Seeded            bool           `json:"seeded"`
	HistoryBackfilled bool           `json:"historyBackfilled"`
	Created           map[string]int `json:"created"`
	Failed            int            `json:"failed"`
}

func (r *SeedReport) count(collection string, err error, log *zap.Logger, item string) {
	if err != nil {
		r.Failed++
		log.Warn("seed item failed", zap.String("collection", collection), zap.String("item", item), zap.Error(err))
		return
	}
	r.Created[collection]++
}

// InitializeDefaultData seeds the default dataset on a fresh database. It is
// safe on every boot: once any config entry exists it only backfills quality
// history when that is missing. Config values are written last so an
// interrupted seed is retried on the next boot; collections that already
// hold rows are skipped on that retry.
func (d *Database) InitializeDefaultData(ctx context.Context) (SeedReport, error) {
	rep := SeedReport{Created: map[string]int{}}
	log := d.logger.Named("seed")

	exists, err := d.Settings.Any(ctx)
	if err != nil {
		return rep, err
	}
	if exists {
		days, err := d.Repo.GetQualityHistoryDays(ctx)
		if err != nil {
			return rep, err
		}
		if len(days) == 0 {
			if _, err := d.Stats.SeedQualityHistory(ctx, d.opts.HistorySeed); err != nil {
				return rep, fmt.Errorf("backfill quality history: %w", err)
			}
			rep.HistoryBackfilled = true
		}
		return rep, nil
	}

	cat := d.opts.Catalog
	now := d.now()
	d.seedOrders(ctx, cat, now, &rep, log)
	d.seedQuality(ctx, cat, now, &rep, log)
	d.seedTimeSeries(ctx, cat, now, &rep, log)

	days, err := d.Stats.SeedQualityHistory(ctx, d.opts.HistorySeed)
	rep.count(domain.CollQualityHistory, err, log, "history")
	if err == nil {
		rep.Created[domain.CollQualityHistory] = len(days)
	}
	_, err = d.Stats.RecordDailyMetric(ctx, now)
	rep.count(domain.CollDailyMetrics, err, log, domain.DayKey(now, d.Location()))

	keys := make([]string, 0, len(cat.Config))
	for k := range cat.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rep.count(domain.CollConfig, d.Settings.Set(ctx, k, cat.Config[k]), log, k)
	}
	if rep.Created[domain.CollConfig] == 0 {
		return rep, fmt.Errorf("seed config: every value failed")
	}

	if _, err := d.Stats.CalculateDashboardStats(ctx); err != nil {
		log.Warn("initial dashboard stats", zap.Error(err))
	}
	_, err = d.Repo.AddAuditLog(ctx, "system", "initialize default data")
	rep.count(domain.CollAudit, err, log, "initialize")
	rep.Seeded = true
	log.Info("default data seeded", zap.Int("failed", rep.Failed), zap.Any("created", rep.Created))
	return rep, nil
}

// skipSeeded reports whether collection already has rows from an earlier,
// interrupted seed.
func (d *Database) skipSeeded(ctx context.Context, collection string, log *zap.Logger) bool {
	n, err := d.Store.Count(ctx, collection)
	if err != nil {
		log.Warn("seed count failed", zap.String("collection", collection), zap.Error(err))
		return false
	}
	if n > 0 {
		log.Info("seed skipped, collection not empty", zap.String("collection", collection), zap.Int("rows", n))
		return true
	}
	return false
}

func (d *Database) seedOrders(ctx context.Context, cat *config.Catalog, now time.Time, rep *SeedReport, log *zap.Logger) {
	if d.skipSeeded(ctx, domain.CollOrders, log) {
		return
	}
	for _, s := range cat.Orders {
		o := domain.ProductionOrder{
			ID:       s.ID,
			Product:  s.Product,
			Quantity: s.Quantity,
			Status:   domain.OrderStatus(s.Status),
			Priority: domain.Priority(s.Priority),
			Progress: s.Progress,
		}
		o.Produced = o.Quantity * o.Progress / 100
		if o.Status != domain.OrderWaiting && o.Status != "" {
			start := now.AddDate(0, 0, -s.DaysAgo)
			o.StartDate = &start
		}
		if s.DeadlineDays != 0 {
			deadline := now.AddDate(0, 0, s.DeadlineDays)
			o.Deadline = &deadline
		}
		if o.Status == domain.OrderCompleted {
			done := now
			if o.StartDate != nil {
				done = o.StartDate.AddDate(0, 0, s.DaysAgo/2)
			}
			o.CompletedAt = &done
		}
		_, err := d.Repo.SaveProductionOrder(ctx, o)
		rep.count(domain.CollOrders, err, log, s.ID)
	}
}

func (d *Database) seedQuality(ctx context.Context, cat *config.Catalog, now time.Time, rep *SeedReport, log *zap.Logger) {
	if !d.skipSeeded(ctx, domain.CollNonConformances, log) {
		d.seedNonConformances(ctx, cat, now, rep, log)
	}
	if !d.skipSeeded(ctx, domain.CollInspections, log) {
		d.seedInspections(ctx, cat, now, rep, log)
	}
	if !d.skipSeeded(ctx, domain.CollReports, log) {
		d.seedReports(ctx, cat, now, rep, log)
	}
}

func (d *Database) seedNonConformances(ctx context.Context, cat *config.Catalog, now time.Time, rep *SeedReport, log *zap.Logger) {
	for _, s := range cat.NonConformances {
		n := domain.NonConformance{
			ID:          s.ID,
			Type:        s.Type,
			Description: s.Description,
			Severity:    domain.Severity(s.Severity),
			Status:      domain.NCStatus(s.Status),
			Lot:         s.Lot,
			Responsible: s.Responsible,
			Date:        now.Add(-time.Duration(s.HoursAgo) * time.Hour),
			CreatedBy:   "system",
		}
		if s.AffectedQuantity > 0 {
			q := s.AffectedQuantity
			n.AffectedQuantity = &q
		}
		if n.Status == domain.NCResolved {
			resolved := n.Date.Add(time.Duration(s.ResolvedAfter) * time.Hour)
			n.ResolvedDate = &resolved
		}
		_, err := d.Repo.SaveNonConformance(ctx, n)
		rep.count(domain.CollNonConformances, err, log, s.ID)
	}
}

func (d *Database) seedInspections(ctx context.Context, cat *config.Catalog, now time.Time, rep *SeedReport, log *zap.Logger) {
	for _, s := range cat.Inspections {
		_, err := d.Repo.SaveInspection(ctx, domain.Inspection{
			ID:            s.ID,
			Lot:           s.Lot,
			Inspector:     s.Inspector,
			ApprovedCount: s.Approved,
			RejectedCount: s.Rejected,
			Date:          now.Add(-time.Duration(s.HoursAgo) * time.Hour),
		})
		rep.count(domain.CollInspections, err, log, s.ID)
	}
}

func (d *Database) seedReports(ctx context.Context, cat *config.Catalog, now time.Time, rep *SeedReport, log *zap.Logger) {
	for _, s := range cat.Reports {
		start := domain.StartOfDay(now, d.Location()).AddDate(0, 0, -s.Days)
		end := now
		_, err := d.Repo.SaveReport(ctx, domain.Report{
			ID:          s.ID,
			Title:       s.Title,
			Type:        s.Type,
			PeriodStart: &start,
			PeriodEnd:   &end,
			GeneratedBy: "system",
			OrderIDs:    s.OrderIDs,
		})
		rep.count(domain.CollReports, err, log, s.ID)
	}
}

func (d *Database) seedTimeSeries(ctx context.Context, cat *config.Catalog, now time.Time, rep *SeedReport, log *zap.Logger) {
	ago := func(h int) time.Time { return now.Add(-time.Duration(h) * time.Hour) }
	if !d.skipSeeded(ctx, domain.CollCollections, log) {
		d.seedCollections(ctx, cat, ago, rep, log)
	}
	if !d.skipSeeded(ctx, domain.CollProduction, log) {
		for i, s := range cat.Production {
			_, err := d.Repo.AddProductionRecord(ctx, domain.ProductionRecord{
				Timestamp: ago(s.HoursAgo),
				Line:      s.Line,
				Produced:  s.Produced,
				Rejected:  s.Rejected,
			})
			rep.count(domain.CollProduction, err, log, fmt.Sprint(i))
		}
	}
	if !d.skipSeeded(ctx, domain.CollSensors, log) {
		for _, s := range cat.Sensors {
			_, err := d.Repo.AddSensorReading(ctx, domain.SensorReading{
				Sensor:    s.Sensor,
				Value:     s.Value,
				Unit:      s.Unit,
				Timestamp: ago(s.HoursAgo),
			})
			rep.count(domain.CollSensors, err, log, s.Sensor)
		}
	}
	if !d.skipSeeded(ctx, domain.CollAlerts, log) {
		for _, s := range cat.Alerts {
			_, err := d.Repo.AddAlert(ctx, domain.AlertLevel(s.Level), s.Message)
			rep.count(domain.CollAlerts, err, log, s.Message)
		}
	}
}

func (d *Database) seedCollections(ctx context.Context, cat *config.Catalog, ago func(int) time.Time, rep *SeedReport, log *zap.Logger) {
	for i, s := range cat.Collections {
		_, err := d.Repo.SaveCollectionRecord(ctx, domain.CollectionRecord{
			DateTime:  ago(s.HoursAgo),
			Status:    domain.CollectionStatus(s.Status),
			Produced:  s.Produced,
			Material:  s.Material,
			Applicant: s.Applicant,
		})
		rep.count(domain.CollCollections, err, log, fmt.Sprint(i))
	}
}
