package broadcast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultPollBatch    = 100
)

// SQLTransport relays messages through the broadcasts outbox table of the shared
// database. Each context polls rows past its cursor, the same way webhook
// delivery walks the event log.
type SQLTransport struct {
	DB       *sql.DB
	Interval time.Duration
	Batch    int
	Now      func() time.Time
	Logger   *zap.Logger

	mu     sync.Mutex
	cursor int64
	done   chan struct{}
}

func NewSQLTransport(db *sql.DB, interval time.Duration, logger *zap.Logger) *SQLTransport {
	return &SQLTransport{DB: db, Interval: interval, Logger: logger}
}

func (t *SQLTransport) Name() string { return "sqlite" }

func (t *SQLTransport) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *SQLTransport) logger() *zap.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return zap.NewNop()
}

func (t *SQLTransport) Send(ctx context.Context, msg Message) error {
	data, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	_, err = t.DB.ExecContext(ctx, `INSERT INTO broadcasts(origin, ts, payload) VALUES (?,?,?)`,
		msg.Origin, t.now().UnixMilli(), string(data))
	return err
}

// Listen starts at the newest outbox row so a fresh context never replays history.
func (t *SQLTransport) Listen(ctx context.Context, origin string, deliver func(Message)) error {
	if t.DB == nil {
		return errors.New("sqlite transport without database")
	}
	var cursor int64
	if err := t.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM broadcasts`).Scan(&cursor); err != nil {
		return fmt.Errorf("init broadcast cursor: %w", err)
	}
	interval := t.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	t.mu.Lock()
	t.cursor = cursor
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.poll(ctx, origin, deliver)
			}
		}
	}()
	return nil
}

func (t *SQLTransport) poll(ctx context.Context, origin string, deliver func(Message)) {
	batch := t.Batch
	if batch <= 0 {
		batch = defaultPollBatch
	}
	t.mu.Lock()
	cursor := t.cursor
	t.mu.Unlock()

	rows, err := t.DB.QueryContext(ctx, `SELECT id, origin, payload FROM broadcasts WHERE id > ? ORDER BY id LIMIT ?`, cursor, batch)
	if err != nil {
		if ctx.Err() == nil {
			t.logger().Warn("broadcast poll failed", zap.Error(err))
		}
		return
	}
	type row struct {
		id      int64
		origin  string
		payload string
	}
	var pending []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.origin, &r.payload); err != nil {
			t.logger().Warn("broadcast scan failed", zap.Error(err))
			break
		}
		pending = append(pending, r)
	}
	rows.Close()

	// Deliver after the rows are released: handlers may hit the same connection.
	for _, r := range pending {
		t.setCursor(r.id)
		if r.origin == origin {
			continue
		}
		msg, err := decodeMessage([]byte(r.payload))
		if err != nil {
			t.logger().Warn("skip malformed broadcast", zap.Int64("id", r.id), zap.Error(err))
			continue
		}
		msg.Origin = r.origin
		deliver(msg)
	}
}

func (t *SQLTransport) setCursor(v int64) {
	t.mu.Lock()
	t.cursor = v
	t.mu.Unlock()
}

// Prune deletes outbox rows older than cutoff.
func (t *SQLTransport) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	return PruneOutbox(ctx, t.DB, cutoff)
}

// PruneOutbox deletes outbox rows older than cutoff from db.
func PruneOutbox(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM broadcasts WHERE ts < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close waits for the poll loop to stop. The caller cancels the Listen context first.
func (t *SQLTransport) Close() error {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}
