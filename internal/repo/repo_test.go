package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantdash/internal/db"
	"plantdash/internal/domain"
	"plantdash/internal/migrate"
	"plantdash/internal/store"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRepo(t *testing.T) (Repo, *clock) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))

	c := &clock{t: time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)}
	engine := store.New(conn, nil, nil)
	engine.Now = c.now
	r := New(engine, time.UTC)
	r.Now = c.now
	return r, c
}

func TestNextSerial_SkipsOtherYearsAndGaps(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"OP-2025-001", "OP-2025-007", "OP-2024-050"} {
		_, err := r.SaveProductionOrder(ctx, domain.ProductionOrder{ID: id, Product: "Tubo", Quantity: 10})
		require.NoError(t, err)
	}

	next, err := r.NextOrderID(ctx, 2025)
	require.NoError(t, err)
	assert.Equal(t, "OP-2025-008", next)

	next, err = r.NextOrderID(ctx, 2026)
	require.NoError(t, err)
	assert.Equal(t, "OP-2026-001", next)
}

func TestMissingRecords_ReturnNotFound(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := r.UpdateProductionOrder(ctx, "OP-2025-404", OrderPatch{})
	assert.True(t, IsNotFound(err))
	_, err = r.ResolveNonConformance(ctx, "NC-2025-404", "")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = r.UpdateCollectionStatus(ctx, "99", domain.CollectionCompleted)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(r.DeleteReport(ctx, "REL-2025-001")))
	_, err = r.MarkOfflineAttempt(ctx, "1")
	assert.True(t, IsNotFound(err))
}
