// Package stats derives dashboard figures and quality history from the raw
// collections. Results are cached in dashboardStats until invalidated.
package stats

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"plantdash/internal/domain"
	"plantdash/internal/repo"
)

// Stat keys persisted in dashboardStats.
const (
	KeyTotalProduced      = "totalProduced"
	KeyTotalRejected      = "totalRejected"
	KeyApprovalRate       = "approvalRate"
	KeyEfficiency         = "efficiency"
	KeyOpenNCsToday       = "openNCsToday"
	KeyResolvedNCsToday   = "resolvedNCsToday"
	KeyActiveOrders       = "activeOrders"
	KeyPendingCollections = "pendingCollections"
	KeyCalculatedAt       = "calculatedAt"
)

// Window is how far back production totals look.
const Window = 7 * 24 * time.Hour

// HistoryDays is the number of days GetQualityHistory returns.
const HistoryDays = 7

// DefaultSeed drives synthesized quality history.
const DefaultSeed int64 = 20240601

// Dashboard is the computed summary shown on the home page.
type Dashboard struct {
	TotalProduced      int       `json:"totalProduced"`
	TotalRejected      int       `json:"totalRejected"`
	ApprovalRate       float64   `json:"approvalRate"`
	Efficiency         float64   `json:"efficiency"`
	OpenNCsToday       int       `json:"openNCsToday"`
	ResolvedNCsToday   int       `json:"resolvedNCsToday"`
	ActiveOrders       int       `json:"activeOrders"`
	PendingCollections int       `json:"pendingCollections"`
	CalculatedAt       time.Time `json:"calculatedAt"`
	Cached             bool      `json:"cached"`
}

// History holds the latest days as parallel slices, oldest first.
type History struct {
	ApprovalRates   []float64 `json:"approvalRates"`
	NCCounts        []int     `json:"ncCounts"`
	ResolutionHours []float64 `json:"resolutionHours"`
	Dates           []string  `json:"dates"`
}

type Engine struct {
	Repo   repo.Repo
	Now    func() time.Time
	Loc    *time.Location
	Seed   int64
	Logger *zap.Logger
}

func New(r repo.Repo, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{Repo: r, Now: time.Now, Loc: r.Loc, Seed: DefaultSeed, Logger: logger}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) loc() *time.Location {
	if e.Loc != nil {
		return e.Loc
	}
	return time.UTC
}

// GetDashboardStats returns the cached stats, computing and storing them when
// the cache is empty.
func (e *Engine) GetDashboardStats(ctx context.Context) (Dashboard, error) {
	cached, err := e.Repo.GetDashboardStats(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	if len(cached) > 0 {
		d := fromStats(cached)
		d.Cached = true
		return d, nil
	}
	return e.CalculateDashboardStats(ctx)
}

// CalculateDashboardStats recomputes every figure from the raw collections
// and replaces the cache.
func (e *Engine) CalculateDashboardStats(ctx context.Context) (Dashboard, error) {
	now := e.now()
	d := Dashboard{CalculatedAt: now}

	prod, err := e.Repo.GetProductionRecordsBetween(ctx, now.Add(-Window), now.Add(time.Millisecond))
	if err != nil {
		return d, fmt.Errorf("production totals: %w", err)
	}
	for _, p := range prod {
		d.TotalProduced += p.Produced
		d.TotalRejected += p.Rejected
	}
	d.ApprovalRate = domain.Ratio(float64(d.TotalProduced-d.TotalRejected), float64(d.TotalProduced))

	orders, err := e.Repo.GetProductionOrders(ctx)
	if err != nil {
		return d, fmt.Errorf("orders: %w", err)
	}
	var progress, completed int
	for _, o := range orders {
		switch o.Status {
		case domain.OrderCompleted:
			progress += o.Progress
			completed++
		case domain.OrderInProgress:
			d.ActiveOrders++
		}
	}
	if completed > 0 {
		d.Efficiency = domain.Round(float64(progress)/float64(completed), 1)
	}

	ncs, err := e.Repo.GetNonConformances(ctx)
	if err != nil {
		return d, fmt.Errorf("non-conformances: %w", err)
	}
	today := domain.DayKey(now, e.loc())
	for _, n := range ncs {
		if n.Status != domain.NCResolved && domain.DayKey(n.Date, e.loc()) == today {
			d.OpenNCsToday++
		}
		if n.ResolvedDate != nil && domain.DayKey(*n.ResolvedDate, e.loc()) == today {
			d.ResolvedNCsToday++
		}
	}

	cols, err := e.Repo.GetCollectionRecords(ctx)
	if err != nil {
		return d, fmt.Errorf("collection records: %w", err)
	}
	for _, c := range cols {
		if c.Status == domain.CollectionPending {
			d.PendingCollections++
		}
	}

	if err := e.Repo.SaveDashboardStats(ctx, toStats(d)); err != nil {
		return d, fmt.Errorf("store dashboard stats: %w", err)
	}
	e.Logger.Debug("dashboard stats calculated",
		zap.Int("produced", d.TotalProduced), zap.Float64("approval_rate", d.ApprovalRate))
	return d, nil
}

// Invalidate drops the cached stats.
func (e *Engine) Invalidate(ctx context.Context) error {
	return e.Repo.ClearDashboardStats(ctx)
}

func toStats(d Dashboard) []domain.DashboardStat {
	at := d.CalculatedAt
	stat := func(key string, v float64) domain.DashboardStat {
		return domain.DashboardStat{ID: key, Key: key, Value: v, UpdatedAt: at}
	}
	return []domain.DashboardStat{
		stat(KeyTotalProduced, float64(d.TotalProduced)),
		stat(KeyTotalRejected, float64(d.TotalRejected)),
		stat(KeyApprovalRate, d.ApprovalRate),
		stat(KeyEfficiency, d.Efficiency),
		stat(KeyOpenNCsToday, float64(d.OpenNCsToday)),
		stat(KeyResolvedNCsToday, float64(d.ResolvedNCsToday)),
		stat(KeyActiveOrders, float64(d.ActiveOrders)),
		stat(KeyPendingCollections, float64(d.PendingCollections)),
		stat(KeyCalculatedAt, float64(at.UnixMilli())),
	}
}

func fromStats(stats []domain.DashboardStat) Dashboard {
	var d Dashboard
	for _, s := range stats {
		switch s.Key {
		case KeyTotalProduced:
			d.TotalProduced = int(s.Value)
		case KeyTotalRejected:
			d.TotalRejected = int(s.Value)
		case KeyApprovalRate:
			d.ApprovalRate = s.Value
		case KeyEfficiency:
			d.Efficiency = s.Value
		case KeyOpenNCsToday:
			d.OpenNCsToday = int(s.Value)
		case KeyResolvedNCsToday:
			d.ResolvedNCsToday = int(s.Value)
		case KeyActiveOrders:
			d.ActiveOrders = int(s.Value)
		case KeyPendingCollections:
			d.PendingCollections = int(s.Value)
		case KeyCalculatedAt:
			d.CalculatedAt = time.UnixMilli(int64(s.Value))
		}
	}
	return d
}

// GetQualityHistory returns the latest HistoryDays days, synthesizing them
// when nothing is stored yet.
func (e *Engine) GetQualityHistory(ctx context.Context) (History, error) {
	days, err := e.Repo.GetQualityHistoryDays(ctx)
	if err != nil {
		return History{}, err
	}
	if len(days) == 0 {
		if days, err = e.SeedQualityHistory(ctx, e.Seed); err != nil {
			return History{}, err
		}
	}
	if len(days) > HistoryDays {
		days = days[len(days)-HistoryDays:]
	}
	var h History
	for _, d := range days {
		h.ApprovalRates = append(h.ApprovalRates, d.ApprovalRate)
		h.NCCounts = append(h.NCCounts, d.NonConformanceCount)
		h.ResolutionHours = append(h.ResolutionHours, d.AvgResolutionHours)
		h.Dates = append(h.Dates, d.Date)
	}
	return h, nil
}

// SeedQualityHistory writes HistoryDays placeholder days ending today. The
// same seed always yields the same values.
func (e *Engine) SeedQualityHistory(ctx context.Context, seed int64) ([]domain.QualityHistoryDay, error) {
	rng := rand.New(rand.NewSource(seed))
	today := domain.StartOfDay(e.now(), e.loc())
	days := make([]domain.QualityHistoryDay, 0, HistoryDays)
	for i := HistoryDays - 1; i >= 0; i-- {
		day := domain.QualityHistoryDay{
			Date:                domain.DayKey(today.AddDate(0, 0, -i), e.loc()),
			ApprovalRate:        domain.Round(92+rng.Float64()*7, 1),
			NonConformanceCount: rng.Intn(5),
			AvgResolutionHours:  domain.Round(8+rng.Float64()*40, 1),
			Inspections:         10 + rng.Intn(20),
		}
		saved, err := e.Repo.UpsertQualityHistoryDay(ctx, day)
		if err != nil {
			return days, fmt.Errorf("seed quality history %s: %w", day.Date, err)
		}
		days = append(days, saved)
	}
	return days, nil
}

// RecordQualityDay aggregates the calendar day containing day from
// inspections and non-conformances and stores it.
func (e *Engine) RecordQualityDay(ctx context.Context, day time.Time) (domain.QualityHistoryDay, error) {
	start := domain.StartOfDay(day, e.loc())
	end := start.AddDate(0, 0, 1)
	out := domain.QualityHistoryDay{Date: domain.DayKey(start, e.loc())}

	insp, err := e.Repo.GetInspectionsBetween(ctx, start, end)
	if err != nil {
		return out, err
	}
	var approved, total int
	for _, i := range insp {
		approved += i.ApprovedCount
		total += i.ApprovedCount + i.RejectedCount
	}
	out.Inspections = len(insp)
	out.ApprovalRate = domain.Ratio(float64(approved), float64(total))

	opened, err := e.Repo.GetNonConformancesByDateRange(ctx, start, start)
	if err != nil {
		return out, err
	}
	out.NonConformanceCount = len(opened)

	all, err := e.Repo.GetNonConformances(ctx)
	if err != nil {
		return out, err
	}
	var hours float64
	var resolved int
	for _, n := range all {
		if n.ResolvedDate == nil || n.ResolvedDate.Before(start) || !n.ResolvedDate.Before(end) {
			continue
		}
		hours += n.ResolutionHours()
		resolved++
	}
	if resolved > 0 {
		out.AvgResolutionHours = domain.Round(hours/float64(resolved), 1)
	}
	return e.Repo.UpsertQualityHistoryDay(ctx, out)
}

// RecordDailyMetric rolls up production and completed orders for the day
// containing day.
func (e *Engine) RecordDailyMetric(ctx context.Context, day time.Time) (domain.DailyMetric, error) {
	start := domain.StartOfDay(day, e.loc())
	end := start.AddDate(0, 0, 1)
	m := domain.DailyMetric{Date: domain.DayKey(start, e.loc())}

	prod, err := e.Repo.GetProductionRecordsBetween(ctx, start, end)
	if err != nil {
		return m, err
	}
	for _, p := range prod {
		m.Produced += p.Produced
		m.Rejected += p.Rejected
	}
	m.Efficiency = domain.Ratio(float64(m.Produced-m.Rejected), float64(m.Produced))

	orders, err := e.Repo.GetProductionOrders(ctx)
	if err != nil {
		return m, err
	}
	for _, o := range orders {
		if o.CompletedAt != nil && !o.CompletedAt.Before(start) && o.CompletedAt.Before(end) {
			m.OrdersCompleted++
		}
	}
	return e.Repo.UpsertDailyMetric(ctx, m)
}
