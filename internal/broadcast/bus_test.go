package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plantdash/internal/db"
	"plantdash/internal/migrate"
)

func openShared(t *testing.T, path string) *sql.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, db.Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(ctx, conn))
	t.Cleanup(func() { conn.Close() })
	return conn
}

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) add(m Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) all() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func TestBus_SQLTransportBetweenContexts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	connA := openShared(t, path)
	connB := openShared(t, path)
	ctx := context.Background()

	busA := New(NewSQLTransport(connA, 10*time.Millisecond, nil), nil)
	busB := New(NewSQLTransport(connB, 10*time.Millisecond, nil), nil)
	busA.Start(ctx)
	busB.Start(ctx)
	defer busA.Close()
	defer busB.Close()
	require.True(t, busA.Available())
	require.NoError(t, busB.Warning())

	var gotA, gotB recorder
	busA.Subscribe(gotA.add)
	busB.Subscribe(gotB.add)

	msg, err := NewConfigChanged("theme", "dark")
	require.NoError(t, err)
	busA.Publish(ctx, msg)

	require.Eventually(t, func() bool { return len(gotB.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	received := gotB.all()[0]
	assert.Equal(t, ConfigChanged, received.Type)
	assert.Equal(t, "theme", received.Key)
	assert.Equal(t, busA.Origin(), received.Origin)
	var v string
	require.NoError(t, received.Decode(&v))
	assert.Equal(t, "dark", v)

	// The sender never hears its own message back.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, gotA.all())
}

func TestBus_StartsAfterExistingHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	connA := openShared(t, path)
	connB := openShared(t, path)
	ctx := context.Background()

	busA := New(NewSQLTransport(connA, 10*time.Millisecond, nil), nil)
	busA.Start(ctx)
	defer busA.Close()
	old, _ := NewDataChanged("ordens", map[string]any{"id": "OP-1"})
	busA.Publish(ctx, old)

	busB := New(NewSQLTransport(connB, 10*time.Millisecond, nil), nil)
	busB.Start(ctx)
	defer busB.Close()
	var got recorder
	busB.Subscribe(got.add)

	fresh, _ := NewDataChanged("ordens", map[string]any{"id": "OP-2"})
	busA.Publish(ctx, fresh)

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	var payload map[string]any
	require.NoError(t, got.all()[0].Decode(&payload))
	assert.Equal(t, "OP-2", payload["id"])
}

func TestBus_NoTransportDegradesToNoop(t *testing.T) {
	bus := New(nil, nil)
	bus.Start(context.Background())
	defer bus.Close()

	assert.False(t, bus.Available())
	assert.True(t, errors.Is(bus.Warning(), ErrBroadcastUnavailable))

	var watched recorder
	bus.Watch(watched.add)
	msg, _ := NewConfigChanged("k", 1)
	bus.Publish(context.Background(), msg)
	assert.Len(t, watched.all(), 1, "local watchers still see local messages")
}

func TestBus_UnreachableRedisDegrades(t *testing.T) {
	tr := &RedisTransport{
		Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1}),
	}
	bus := New(tr, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bus.Start(ctx)
	defer bus.Close()

	assert.False(t, bus.Available())
	assert.True(t, errors.Is(bus.Warning(), ErrBroadcastUnavailable))
	msg, _ := NewConfigChanged("k", true)
	bus.Publish(ctx, msg)
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := New(nil, nil)
	var got recorder
	unsub := bus.Watch(got.add)
	unsub()
	unsub()
	msg, _ := NewConfigChanged("k", 1)
	bus.Publish(context.Background(), msg)
	assert.Empty(t, got.all())
}

func TestDecodeMessage_Rejects(t *testing.T) {
	_, err := decodeMessage([]byte(`{"type":"config_changed","value":1}`))
	assert.Error(t, err)
	_, err = decodeMessage([]byte(`{"type":"nope"}`))
	assert.Error(t, err)
	m, err := decodeMessage([]byte(`{"type":"data_changed","dataType":"coletas","value":{"id":"1","deleted":true}}`))
	require.NoError(t, err)
	assert.Equal(t, "coletas", m.DataType)
}

func TestPruneOutbox(t *testing.T) {
	conn := openShared(t, filepath.Join(t.TempDir(), "p.db"))
	ctx := context.Background()
	tr := NewSQLTransport(conn, time.Hour, nil)
	tr.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	msg, _ := NewConfigChanged("k", 1)
	require.NoError(t, tr.Send(ctx, msg))
	tr.Now = func() time.Time { return time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, tr.Send(ctx, msg))

	n, err := tr.Prune(ctx, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLTransport_DefaultPollInterval(t *testing.T) {
	assert.Equal(t, 250*time.Millisecond, defaultPollInterval)
}
