package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantdash/internal/domain"
)

func TestAuditLog_NewestFirstWithLimit(t *testing.T) {
	r, c := newTestRepo(t)
	ctx := context.Background()

	for _, action := range []string{"login", "create order", "logout"} {
		_, err := r.AddAuditLog(ctx, "ana", action)
		require.NoError(t, err)
		c.advance(time.Minute)
	}

	entries, err := r.GetAuditLog(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "logout", entries[0].Action)
	assert.Equal(t, "create order", entries[1].Action)

	_, err = r.AddAuditLog(ctx, "", "x")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAlerts_RejectUnknownLevel(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	a, err := r.AddAlert(ctx, domain.AlertWarning, "Temperatura alta")
	require.NoError(t, err)
	assert.Equal(t, "1", a.ID)

	_, err = r.AddAlert(ctx, domain.AlertLevel("fatal"), "x")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	alerts, err := r.GetAlerts(ctx, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertWarning, alerts[0].Level)
}

func TestSensorReadings_Since(t *testing.T) {
	r, c := newTestRepo(t)
	ctx := context.Background()

	_, err := r.AddSensorReading(ctx, domain.SensorReading{Sensor: "forno-1", Value: 210, Timestamp: c.t.Add(-2 * time.Hour)})
	require.NoError(t, err)
	_, err = r.AddSensorReading(ctx, domain.SensorReading{Sensor: "forno-1", Value: 215})
	require.NoError(t, err)

	got, err := r.GetSensorReadings(ctx, c.t.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 215.0, got[0].Value)
}

func TestOfflineQueue_Lifecycle(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	item, err := r.EnqueueOffline(ctx, "insert", domain.CollOrders, map[string]any{"id": "OP-2025-001"})
	require.NoError(t, err)

	item, err = r.MarkOfflineAttempt(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Attempts)

	queue, err := r.GetOfflineQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, 1, queue[0].Attempts)
	assert.JSONEq(t, `{"id":"OP-2025-001"}`, string(queue[0].Payload))

	require.NoError(t, r.RemoveOfflineItem(ctx, item.ID))
	queue, err = r.GetOfflineQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestReports_SerialAndOrdering(t *testing.T) {
	r, c := newTestRepo(t)
	ctx := context.Background()

	first, err := r.SaveReport(ctx, domain.Report{Title: "Semanal", Type: "weekly", OrderIDs: []string{"OP-2025-001"}})
	require.NoError(t, err)
	assert.Equal(t, "REL-2025-001", first.ID)

	c.advance(time.Hour)
	second, err := r.SaveReport(ctx, domain.Report{Title: "Mensal", Type: "monthly"})
	require.NoError(t, err)
	assert.Equal(t, "REL-2025-002", second.ID)

	reps, err := r.GetReports(ctx)
	require.NoError(t, err)
	require.Len(t, reps, 2)
	assert.Equal(t, second.ID, reps[0].ID)

	got, err := r.GetReport(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"OP-2025-001"}, got.OrderIDs)

	require.NoError(t, r.DeleteReport(ctx, first.ID))
	_, err = r.GetReport(ctx, first.ID)
	assert.True(t, IsNotFound(err))
}
