package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantdash/internal/db"
	"plantdash/internal/domain"
	"plantdash/internal/migrate"
	"plantdash/internal/repo"
	"plantdash/internal/store"
)

var testNow = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))

	now := func() time.Time { return testNow }
	st := store.New(conn, nil, nil)
	st.Now = now
	r := repo.New(st, time.UTC)
	r.Now = now
	e := New(r, nil)
	e.Now = now
	return e
}

func TestCalculateDashboardStats_EmptyIsZeroNotNaN(t *testing.T) {
	e := newTestEngine(t)

	d, err := e.CalculateDashboardStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, d.TotalProduced)
	assert.Equal(t, 0.0, d.ApprovalRate)
	assert.Equal(t, 0.0, d.Efficiency)
}

func TestCalculateDashboardStats_Figures(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	r := e.Repo

	_, err := r.AddProductionRecord(ctx, domain.ProductionRecord{Timestamp: testNow.Add(-time.Hour), Produced: 180, Rejected: 20})
	require.NoError(t, err)
	_, err = r.AddProductionRecord(ctx, domain.ProductionRecord{Timestamp: testNow.AddDate(0, 0, -2), Produced: 20})
	require.NoError(t, err)
	_, err = r.AddProductionRecord(ctx, domain.ProductionRecord{Timestamp: testNow.AddDate(0, 0, -9), Produced: 500, Rejected: 100})
	require.NoError(t, err)

	for _, id := range []string{"OP-2025-001", "OP-2025-002", "OP-2025-003"} {
		_, err := r.SaveProductionOrder(ctx, domain.ProductionOrder{ID: id, Product: "Chapa", Quantity: 10})
		require.NoError(t, err)
		_, err = r.StartOrder(ctx, id)
		require.NoError(t, err)
	}
	_, err = r.CompleteOrder(ctx, "OP-2025-001")
	require.NoError(t, err)

	_, err = r.SaveNonConformance(ctx, domain.NonConformance{Type: "Visual", Description: "Risco", Date: testNow.Add(-2 * time.Hour)})
	require.NoError(t, err)
	nc, err := r.SaveNonConformance(ctx, domain.NonConformance{Type: "Visual", Description: "Mancha", Date: testNow.AddDate(0, 0, -1)})
	require.NoError(t, err)
	_, err = r.ResolveNonConformance(ctx, nc.ID, "")
	require.NoError(t, err)

	_, err = r.SaveCollectionRecord(ctx, domain.CollectionRecord{Produced: 10, Material: 8, Applicant: "Ana"})
	require.NoError(t, err)

	d, err := e.CalculateDashboardStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 200, d.TotalProduced)
	assert.Equal(t, 20, d.TotalRejected)
	assert.Equal(t, 90.0, d.ApprovalRate)
	assert.Equal(t, 100.0, d.Efficiency)
	assert.Equal(t, 2, d.ActiveOrders)
	assert.Equal(t, 1, d.OpenNCsToday)
	assert.Equal(t, 1, d.ResolvedNCsToday)
	assert.Equal(t, 1, d.PendingCollections)
	assert.False(t, d.Cached)
}

func TestGetDashboardStats_CacheAsideUntilInvalidated(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	first, err := e.GetDashboardStats(ctx)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	_, err = e.Repo.AddProductionRecord(ctx, domain.ProductionRecord{Timestamp: testNow.Add(-time.Minute), Produced: 50})
	require.NoError(t, err)

	cached, err := e.GetDashboardStats(ctx)
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, 0, cached.TotalProduced)
	assert.Equal(t, testNow.UnixMilli(), cached.CalculatedAt.UnixMilli())

	require.NoError(t, e.Invalidate(ctx))
	fresh, err := e.GetDashboardStats(ctx)
	require.NoError(t, err)
	assert.False(t, fresh.Cached)
	assert.Equal(t, 50, fresh.TotalProduced)
}

func TestGetQualityHistory_SynthesizesDeterministically(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	ctx := context.Background()

	ha, err := a.GetQualityHistory(ctx)
	require.NoError(t, err)
	hb, err := b.GetQualityHistory(ctx)
	require.NoError(t, err)

	require.Len(t, ha.Dates, HistoryDays)
	assert.Equal(t, ha, hb)
	assert.Equal(t, "2025-06-04", ha.Dates[0])
	assert.Equal(t, "2025-06-10", ha.Dates[HistoryDays-1])
	for _, rate := range ha.ApprovalRates {
		assert.GreaterOrEqual(t, rate, 92.0)
		assert.LessOrEqual(t, rate, 99.0)
	}

	again, err := a.GetQualityHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, ha, again)
}

func TestGetQualityHistory_KeepsLatestSevenAscending(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 9; i >= 0; i-- {
		_, err := e.Repo.UpsertQualityHistoryDay(ctx, domain.QualityHistoryDay{
			Date:                domain.DayKey(start.AddDate(0, 0, i), time.UTC),
			NonConformanceCount: i,
		})
		require.NoError(t, err)
	}

	h, err := e.GetQualityHistory(ctx)
	require.NoError(t, err)
	require.Len(t, h.Dates, HistoryDays)
	assert.Equal(t, "2025-06-04", h.Dates[0])
	assert.Equal(t, "2025-06-10", h.Dates[6])
	assert.Equal(t, []int{3, 4, 5, 6, 7, 8, 9}, h.NCCounts)
}

func TestRecordQualityDay(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	r := e.Repo

	_, err := r.SaveInspection(ctx, domain.Inspection{ID: "INS-1", Lot: "L1", Inspector: "Marta", ApprovedCount: 45, RejectedCount: 5, Date: testNow.Add(-3 * time.Hour)})
	require.NoError(t, err)
	_, err = r.SaveInspection(ctx, domain.Inspection{ID: "INS-2", Lot: "L2", Inspector: "Marta", ApprovedCount: 50, Date: testNow.Add(-2 * time.Hour)})
	require.NoError(t, err)
	_, err = r.SaveInspection(ctx, domain.Inspection{ID: "INS-3", Lot: "L3", Inspector: "Marta", RejectedCount: 50, Date: testNow.AddDate(0, 0, -1)})
	require.NoError(t, err)

	nc, err := r.SaveNonConformance(ctx, domain.NonConformance{Type: "Visual", Description: "Risco", Date: testNow.Add(-5 * time.Hour)})
	require.NoError(t, err)
	_, err = r.ResolveNonConformance(ctx, nc.ID, "Polimento")
	require.NoError(t, err)

	day, err := e.RecordQualityDay(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-10", day.Date)
	assert.Equal(t, "history_2025-06-10", day.ID)
	assert.Equal(t, 2, day.Inspections)
	assert.Equal(t, 95.0, day.ApprovalRate)
	assert.Equal(t, 1, day.NonConformanceCount)
	assert.Equal(t, 5.0, day.AvgResolutionHours)
}

func TestRecordDailyMetric(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Repo.AddProductionRecord(ctx, domain.ProductionRecord{Timestamp: testNow.Add(-time.Hour), Produced: 40, Rejected: 4})
	require.NoError(t, err)
	_, err = e.Repo.SaveProductionOrder(ctx, domain.ProductionOrder{ID: "OP-2025-001", Product: "Perfil", Quantity: 5})
	require.NoError(t, err)
	_, err = e.Repo.StartOrder(ctx, "OP-2025-001")
	require.NoError(t, err)
	_, err = e.Repo.CompleteOrder(ctx, "OP-2025-001")
	require.NoError(t, err)

	m, err := e.RecordDailyMetric(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, "2025-06-10", m.Date)
	assert.Equal(t, 40, m.Produced)
	assert.Equal(t, 90.0, m.Efficiency)
	assert.Equal(t, 1, m.OrdersCompleted)
}
