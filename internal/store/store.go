package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"plantdash/internal/broadcast"
	"plantdash/internal/db"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateKey      = errors.New("duplicate key")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrInvalidRecord     = errors.New("record data must be a JSON object")
)

// StorageUnavailableError is raised when the storage engine cannot be opened.
type StorageUnavailableError = db.StorageUnavailableError

// Record is one stored object.
type Record struct {
	ID   string
	Key  string
	TS   time.Time
	Data json.RawMessage
}

// Decode unmarshals the record body into dst.
func (r Record) Decode(dst any) error {
	return json.Unmarshal(r.Data, dst)
}

// Collection describes a named store.
type Collection struct {
	Name          string `json:"name"`
	AutoIncrement bool   `json:"autoIncrement"`
	KeyField      string `json:"keyField,omitempty"`
}

// Notifier receives data_changed messages. *broadcast.Bus implements it.
type Notifier interface {
	Publish(ctx context.Context, msg broadcast.Message)
}

type Engine struct {
	DB     *sql.DB
	Bus    Notifier
	Now    func() time.Time
	Logger *zap.Logger
}

func New(conn *sql.DB, bus Notifier, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{DB: conn, Bus: bus, Now: time.Now, Logger: logger}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lookupCollection(ctx context.Context, q queryer, name string) (Collection, error) {
	c := Collection{Name: name}
	var auto int
	err := q.QueryRowContext(ctx, `SELECT auto_increment, COALESCE(key_field,'') FROM collections WHERE name=?`, name).Scan(&auto, &c.KeyField)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	if err != nil {
		return c, err
	}
	c.AutoIncrement = auto == 1
	return c, nil
}

// Collections lists every registered collection in name order.
func (e *Engine) Collections(ctx context.Context) ([]Collection, error) {
	rows, err := e.DB.QueryContext(ctx, `SELECT name, auto_increment, COALESCE(key_field,'') FROM collections ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Collection
	for rows.Next() {
		var c Collection
		var auto int
		if err := rows.Scan(&c.Name, &auto, &c.KeyField); err != nil {
			return nil, err
		}
		c.AutoIncrement = auto == 1
		res = append(res, c)
	}
	return res, rows.Err()
}

// Collection returns the descriptor for name.
func (e *Engine) Collection(ctx context.Context, name string) (Collection, error) {
	return lookupCollection(ctx, e.DB, name)
}

// Create inserts rec and returns its id. Existing ids or unique keys fail with ErrDuplicateKey.
func (e *Engine) Create(ctx context.Context, collection string, rec Record) (string, error) {
	return e.write(ctx, collection, rec, false)
}

// Upsert inserts or replaces rec by id and returns the id.
func (e *Engine) Upsert(ctx context.Context, collection string, rec Record) (string, error) {
	return e.write(ctx, collection, rec, true)
}

func (e *Engine) write(ctx context.Context, collection string, rec Record, replace bool) (string, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	stored, err := putRecord(ctx, tx, collection, rec, replace, e.now())
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	e.notify(ctx, collection, stored.Data)
	return stored.ID, nil
}

func putRecord(ctx context.Context, tx *sql.Tx, collection string, rec Record, replace bool, now time.Time) (Record, error) {
	coll, err := lookupCollection(ctx, tx, collection)
	if err != nil {
		return rec, err
	}
	fields, err := objectFields(rec.Data)
	if err != nil {
		return rec, err
	}
	if rec.ID == "" {
		rec.ID = stringField(fields, "id")
	}
	if rec.ID == "" {
		if !coll.AutoIncrement {
			return rec, fmt.Errorf("%s: id required", collection)
		}
		id, err := nextID(ctx, tx, collection)
		if err != nil {
			return rec, err
		}
		rec.ID = id
	} else if coll.AutoIncrement {
		if err := bumpSequence(ctx, tx, collection, rec.ID); err != nil {
			return rec, err
		}
	}
	if rec.Key == "" && coll.KeyField != "" {
		rec.Key = stringField(fields, coll.KeyField)
	}
	if rec.TS.IsZero() {
		rec.TS = now
	}
	idJSON, _ := json.Marshal(rec.ID)
	fields["id"] = idJSON
	rec.Data, err = json.Marshal(fields)
	if err != nil {
		return rec, err
	}

	query := `INSERT INTO records(collection,id,ts,data,ukey) VALUES (?,?,?,?,?)`
	if replace {
		query += ` ON CONFLICT(collection,id) DO UPDATE SET ts=excluded.ts, data=excluded.data, ukey=excluded.ukey`
	}
	_, err = tx.ExecContext(ctx, query, collection, rec.ID, rec.TS.UnixMilli(), string(rec.Data), nullable(rec.Key))
	if err != nil {
		if isConstraint(err) {
			return rec, fmt.Errorf("%w: %s/%s", ErrDuplicateKey, collection, rec.ID)
		}
		return rec, err
	}
	return rec, nil
}

func nextID(ctx context.Context, tx *sql.Tx, collection string) (string, error) {
	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT next_id FROM collections WHERE name=?`, collection).Scan(&next); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE collections SET next_id=? WHERE name=?`, next+1, collection); err != nil {
		return "", err
	}
	return strconv.FormatInt(next, 10), nil
}

// bumpSequence keeps allocation ahead of caller-supplied numeric ids.
func bumpSequence(ctx context.Context, tx *sql.Tx, collection, id string) error {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil
	}
	_, err = tx.ExecContext(ctx, `UPDATE collections SET next_id=? WHERE name=? AND next_id<=?`, n+1, collection, n)
	return err
}

// GetByID returns the record or ErrNotFound.
func (e *Engine) GetByID(ctx context.Context, collection, id string) (Record, error) {
	if _, err := lookupCollection(ctx, e.DB, collection); err != nil {
		return Record{}, err
	}
	return scanRecord(e.DB.QueryRowContext(ctx, `SELECT id, COALESCE(ukey,''), ts, data FROM records WHERE collection=? AND id=?`, collection, id))
}

// GetByKey looks a record up by its unique secondary key.
func (e *Engine) GetByKey(ctx context.Context, collection, key string) (Record, error) {
	if _, err := lookupCollection(ctx, e.DB, collection); err != nil {
		return Record{}, err
	}
	return scanRecord(e.DB.QueryRowContext(ctx, `SELECT id, COALESCE(ukey,''), ts, data FROM records WHERE collection=? AND ukey=?`, collection, key))
}

// GetAll returns every record in insertion order.
func (e *Engine) GetAll(ctx context.Context, collection string) ([]Record, error) {
	if _, err := lookupCollection(ctx, e.DB, collection); err != nil {
		return nil, err
	}
	return e.query(ctx, `SELECT id, COALESCE(ukey,''), ts, data FROM records WHERE collection=? ORDER BY rowid`, collection)
}

// Range returns records with from <= ts < to, oldest first.
func (e *Engine) Range(ctx context.Context, collection string, from, to time.Time) ([]Record, error) {
	if _, err := lookupCollection(ctx, e.DB, collection); err != nil {
		return nil, err
	}
	return e.query(ctx, `SELECT id, COALESCE(ukey,''), ts, data FROM records WHERE collection=? AND ts>=? AND ts<? ORDER BY ts, rowid`,
		collection, from.UnixMilli(), to.UnixMilli())
}

// Latest returns up to limit records, newest timestamp first.
func (e *Engine) Latest(ctx context.Context, collection string, limit int) ([]Record, error) {
	if _, err := lookupCollection(ctx, e.DB, collection); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}
	return e.query(ctx, `SELECT id, COALESCE(ukey,''), ts, data FROM records WHERE collection=? ORDER BY ts DESC, rowid DESC LIMIT ?`, collection, limit)
}

func (e *Engine) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := e.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var r Record
		var ts int64
		var data string
		if err := rows.Scan(&r.ID, &r.Key, &ts, &data); err != nil {
			return nil, err
		}
		r.TS = time.UnixMilli(ts).UTC()
		r.Data = json.RawMessage(data)
		res = append(res, r)
	}
	return res, rows.Err()
}

func scanRecord(row *sql.Row) (Record, error) {
	var r Record
	var ts int64
	var data string
	err := row.Scan(&r.ID, &r.Key, &ts, &data)
	if err == sql.ErrNoRows {
		return r, ErrNotFound
	}
	if err != nil {
		return r, err
	}
	r.TS = time.UnixMilli(ts).UTC()
	r.Data = json.RawMessage(data)
	return r, nil
}

// Count returns the number of records in collection.
func (e *Engine) Count(ctx context.Context, collection string) (int, error) {
	if _, err := lookupCollection(ctx, e.DB, collection); err != nil {
		return 0, err
	}
	var n int
	err := e.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection=?`, collection).Scan(&n)
	return n, err
}

// DeleteByID removes one record; ErrNotFound when nothing matched.
func (e *Engine) DeleteByID(ctx context.Context, collection, id string) error {
	if _, err := lookupCollection(ctx, e.DB, collection); err != nil {
		return err
	}
	res, err := e.DB.ExecContext(ctx, `DELETE FROM records WHERE collection=? AND id=?`, collection, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	e.notify(ctx, collection, map[string]any{"id": id, "deleted": true})
	return nil
}

// DeleteOlderThan removes records with ts < cutoff and returns how many went.
func (e *Engine) DeleteOlderThan(ctx context.Context, collection string, cutoff time.Time) (int64, error) {
	if _, err := lookupCollection(ctx, e.DB, collection); err != nil {
		return 0, err
	}
	res, err := e.DB.ExecContext(ctx, `DELETE FROM records WHERE collection=? AND ts<?`, collection, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		e.notify(ctx, collection, map[string]any{"pruned": n, "before": cutoff.UTC().Format(time.RFC3339)})
	}
	return n, nil
}

// Clear empties a collection. The id sequence is left alone so ids are never reused.
func (e *Engine) Clear(ctx context.Context, collection string) error {
	if _, err := lookupCollection(ctx, e.DB, collection); err != nil {
		return err
	}
	if _, err := e.DB.ExecContext(ctx, `DELETE FROM records WHERE collection=?`, collection); err != nil {
		return err
	}
	e.notify(ctx, collection, map[string]any{"cleared": true})
	return nil
}

// ReplaceAll clears each named collection and repopulates it in a single
// transaction. Nothing changes unless every record is accepted.
func (e *Engine) ReplaceAll(ctx context.Context, data map[string][]Record) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now()
	for collection, recs := range data {
		if _, err := lookupCollection(ctx, tx, collection); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection=?`, collection); err != nil {
			return fmt.Errorf("clear %s: %w", collection, err)
		}
		for _, rec := range recs {
			if _, err := putRecord(ctx, tx, collection, rec, false, now); err != nil {
				return fmt.Errorf("restore %s: %w", collection, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for collection, recs := range data {
		e.notify(ctx, collection, map[string]any{"cleared": true, "restored": len(recs)})
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, collection string, payload any) {
	if e.Bus == nil {
		return
	}
	msg, err := broadcast.NewDataChanged(collection, payload)
	if err != nil {
		e.Logger.Warn("encode change notification", zap.String("collection", collection), zap.Error(err))
		return
	}
	e.Bus.Publish(ctx, msg)
}

func objectFields(data json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidRecord
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	return fields, nil
}

// stringField reads a string or integer field; anything else yields "".
func stringField(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if _, err := n.Int64(); err == nil {
			return n.String()
		}
	}
	return ""
}

func isConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
