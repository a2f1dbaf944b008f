package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantdash/internal/broadcast"
	"plantdash/internal/db"
	"plantdash/internal/migrate"
)

type captured struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (c *captured) Publish(_ context.Context, msg broadcast.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *captured) last(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.msgs)
	var v map[string]any
	require.NoError(t, c.msgs[len(c.msgs)-1].Decode(&v))
	return v
}

func newTestEngine(t *testing.T) (*Engine, *captured) {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(ctx, conn))
	bus := &captured{}
	e := New(conn, bus, nil)
	e.Now = func() time.Time { return time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC) }
	return e, bus
}

func raw(v string) json.RawMessage { return json.RawMessage(v) }

func TestCreate_AutoIncrementAllocatesSequentialIDs(t *testing.T) {
	e, bus := newTestEngine(t)
	ctx := context.Background()

	id1, err := e.Create(ctx, "audit", Record{Data: raw(`{"user":"ana","action":"login"}`)})
	require.NoError(t, err)
	id2, err := e.Create(ctx, "audit", Record{Data: raw(`{"user":"ana","action":"logout"}`)})
	require.NoError(t, err)
	assert.Equal(t, "1", id1)
	assert.Equal(t, "2", id2)

	rec, err := e.GetByID(ctx, "audit", "2")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, rec.Decode(&body))
	assert.Equal(t, "2", body["id"])
	assert.Equal(t, "logout", body["action"])
	assert.Equal(t, "2", bus.last(t)["id"])
}

func TestCreate_CallerIDCollectionRequiresID(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.Create(context.Background(), "ordens", Record{Data: raw(`{"product":"x"}`)})
	assert.Error(t, err)
}

func TestCreate_DuplicateKey(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Create(ctx, "ordens", Record{ID: "OP-2025-001", Data: raw(`{"product":"x"}`)})
	require.NoError(t, err)
	_, err = e.Create(ctx, "ordens", Record{ID: "OP-2025-001", Data: raw(`{"product":"y"}`)})
	assert.True(t, errors.Is(err, ErrDuplicateKey), "got %v", err)

	_, err = e.Create(ctx, "config", Record{ID: "a", Data: raw(`{"key":"theme","value":"dark"}`)})
	require.NoError(t, err)
	_, err = e.Create(ctx, "config", Record{ID: "b", Data: raw(`{"key":"theme","value":"light"}`)})
	assert.True(t, errors.Is(err, ErrDuplicateKey), "unique key must be enforced, got %v", err)
}

func TestCreate_SuppliedNumericIDAdvancesSequence(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Create(ctx, "alerts", Record{ID: "10", Data: raw(`{"level":"info"}`)})
	require.NoError(t, err)
	id, err := e.Create(ctx, "alerts", Record{Data: raw(`{"level":"warn"}`)})
	require.NoError(t, err)
	assert.Equal(t, "11", id)
}

func TestUpsert_ReplacesAndKeepsOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	for _, id := range []string{"A", "B", "C"} {
		_, err := e.Upsert(ctx, "relatorios", Record{ID: id, Data: raw(`{"title":"v1"}`)})
		require.NoError(t, err)
	}
	_, err := e.Upsert(ctx, "relatorios", Record{ID: "A", Data: raw(`{"title":"v2"}`)})
	require.NoError(t, err)

	all, err := e.GetAll(ctx, "relatorios")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{all[0].ID, all[1].ID, all[2].ID})
	var first map[string]any
	require.NoError(t, all[0].Decode(&first))
	assert.Equal(t, "v2", first["title"])
}

func TestGetByKey(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Upsert(ctx, "qualityHistory", Record{ID: "history_2025-06-10", Data: raw(`{"date":"2025-06-10","approvalRate":97.5}`)})
	require.NoError(t, err)
	rec, err := e.GetByKey(ctx, "qualityHistory", "2025-06-10")
	require.NoError(t, err)
	assert.Equal(t, "history_2025-06-10", rec.ID)
	assert.Equal(t, "2025-06-10", rec.Key)

	_, err = e.GetByKey(ctx, "qualityHistory", "2025-06-11")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteByIDAndClear(t *testing.T) {
	e, bus := newTestEngine(t)
	ctx := context.Background()
	id, err := e.Create(ctx, "coletas", Record{Data: raw(`{"produced":10}`)})
	require.NoError(t, err)

	require.NoError(t, e.DeleteByID(ctx, "coletas", id))
	assert.Equal(t, true, bus.last(t)["deleted"])
	assert.ErrorIs(t, e.DeleteByID(ctx, "coletas", id), ErrNotFound)
	_, err = e.GetByID(ctx, "coletas", id)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Create(ctx, "coletas", Record{Data: raw(`{"produced":11}`)})
	require.NoError(t, err)
	require.NoError(t, e.Clear(ctx, "coletas"))
	assert.Equal(t, true, bus.last(t)["cleared"])
	n, err := e.Count(ctx, "coletas")
	require.NoError(t, err)
	assert.Zero(t, n)

	// Cleared collections never reuse ids.
	next, err := e.Create(ctx, "coletas", Record{Data: raw(`{"produced":12}`)})
	require.NoError(t, err)
	assert.Equal(t, "3", next)
}

func TestRangeAndDeleteOlderThan(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := e.Create(ctx, "sensors", Record{TS: base.AddDate(0, 0, i*10), Data: raw(`{"value":1}`)})
		require.NoError(t, err)
	}
	got, err := e.Range(ctx, "sensors", base.AddDate(0, 0, 10), base.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	n, err := e.DeleteOlderThan(ctx, "sensors", base.AddDate(0, 0, 20))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	left, err := e.GetAll(ctx, "sensors")
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestUnknownCollectionAndInvalidData(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.GetAll(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownCollection)
	_, err = e.Create(ctx, "audit", Record{Data: raw(`[1,2]`)})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestReplaceAll_IsAtomic(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Create(ctx, "relatorios", Record{ID: "keep", Data: raw(`{"title":"old"}`)})
	require.NoError(t, err)

	err = e.ReplaceAll(ctx, map[string][]Record{
		"relatorios": {
			{ID: "R1", Data: raw(`{"title":"new"}`)},
			{ID: "R1", Data: raw(`{"title":"dup"}`)},
		},
	})
	require.Error(t, err)
	all, err := e.GetAll(ctx, "relatorios")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "keep", all[0].ID)

	require.NoError(t, e.ReplaceAll(ctx, map[string][]Record{
		"relatorios": {{ID: "R1", Data: raw(`{"title":"new"}`)}},
	}))
	all, err = e.GetAll(ctx, "relatorios")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "R1", all[0].ID)
}

func TestCollections(t *testing.T) {
	e, _ := newTestEngine(t)
	colls, err := e.Collections(context.Background())
	require.NoError(t, err)
	assert.Len(t, colls, 14)
	byName := map[string]Collection{}
	for _, c := range colls {
		byName[c.Name] = c
	}
	assert.True(t, byName["coletas"].AutoIncrement)
	assert.False(t, byName["ordens"].AutoIncrement)
	assert.Equal(t, "key", byName["config"].KeyField)
}
