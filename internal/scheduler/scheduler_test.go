package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantdash/internal/app"
	"plantdash/internal/config"
	"plantdash/internal/db"
	"plantdash/internal/domain"
)

func openDB(t *testing.T) *app.Database {
	t.Helper()
	d, err := app.Open(context.Background(), app.Options{
		DB:        db.Config{Path: filepath.Join(t.TempDir(), "s.db")},
		Transport: app.TransportNone,
	})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestStartRegistersJobs(t *testing.T) {
	s := New(openDB(t), config.SchedulerSettings{
		TickInterval: time.Minute,
		TickStep:     5,
		CleanupSpec:  "@daily",
		StatsRefresh: time.Minute,
	}, nil)
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Equal(t, 3, s.Jobs())
}

func TestStartRejectsBadCleanupSpec(t *testing.T) {
	s := New(openDB(t), config.SchedulerSettings{CleanupSpec: "not a spec"}, nil)
	require.Error(t, s.Start())
}

func TestTickOrdersCompletesRunningOrder(t *testing.T) {
	d := openDB(t)
	ctx := context.Background()
	_, err := d.Repo.SaveProductionOrder(ctx, domain.ProductionOrder{ID: "OP-2025-100", Product: "Chapa", Quantity: 100})
	require.NoError(t, err)
	_, err = d.Repo.StartOrder(ctx, "OP-2025-100")
	require.NoError(t, err)

	s := New(d, config.SchedulerSettings{TickStep: 50}, nil)
	require.NoError(t, s.TickOrders(ctx))
	require.NoError(t, s.TickOrders(ctx))

	o, err := d.Repo.GetProductionOrder(ctx, "OP-2025-100")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderCompleted, o.Status)
	assert.Equal(t, 100, o.Produced)
}

func TestRefreshStatsAndCleanup(t *testing.T) {
	d := openDB(t)
	ctx := context.Background()
	s := New(d, config.SchedulerSettings{}, nil)

	require.NoError(t, s.RefreshStats(ctx))
	stats, err := d.Repo.GetDashboardStats(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stats)
	metrics, err := d.Repo.GetDailyMetrics(ctx)
	require.NoError(t, err)
	assert.Len(t, metrics, 1)

	require.NoError(t, s.Cleanup(ctx))
	var last int64
	ok, err := d.Settings.GetInto(ctx, app.LastCleanupKey, &last)
	require.NoError(t, err)
	assert.True(t, ok)
}
