package repo

import (
	"context"
	"time"

	"plantdash/internal/domain"
)

// SaveDashboardStats upserts each stat under its key.
func (r Repo) SaveDashboardStats(ctx context.Context, stats []domain.DashboardStat) error {
	for _, s := range stats {
		if s.ID == "" {
			s.ID = s.Key
		}
		if _, err := put(ctx, r, domain.CollDashboardStats, s.ID, s.UpdatedAt, s, false); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetDashboardStats(ctx context.Context) ([]domain.DashboardStat, error) {
	return list[domain.DashboardStat](ctx, r, domain.CollDashboardStats)
}

// ClearDashboardStats drops the cached stats so the next read recomputes.
func (r Repo) ClearDashboardStats(ctx context.Context) error {
	return r.Store.Clear(ctx, domain.CollDashboardStats)
}

// GetProductionRecordsBetween returns samples with from <= timestamp < to.
func (r Repo) GetProductionRecordsBetween(ctx context.Context, from, to time.Time) ([]domain.ProductionRecord, error) {
	recs, err := r.Store.Range(ctx, domain.CollProduction, from, to)
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.ProductionRecord](recs)
}
