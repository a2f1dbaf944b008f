package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"plantdash/internal/migrate"
	"plantdash/internal/store"
)

// Backup is a full snapshot of every collection.
type Backup struct {
	// Timestamp is epoch milliseconds.
	Timestamp int64                        `json:"timestamp"`
	Version   int                          `json:"version"`
	Data      map[string][]json.RawMessage `json:"data"`
}

// InvalidBackupError lists why a backup was rejected. Nothing was changed.
type InvalidBackupError struct {
	Problems []string
}

func (e *InvalidBackupError) Error() string {
	return "invalid backup: " + strings.Join(e.Problems, "; ")
}

type ImportReport struct {
	Collections int `json:"collections"`
	Records     int `json:"records"`
}

// ExportAllData snapshots every collection.
func (d *Database) ExportAllData(ctx context.Context) (Backup, error) {
	colls, err := d.Store.Collections(ctx)
	if err != nil {
		return Backup{}, err
	}
	b := Backup{Timestamp: d.now().UnixMilli(), Version: migrate.Latest(), Data: map[string][]json.RawMessage{}}
	for _, c := range colls {
		recs, err := d.Store.GetAll(ctx, c.Name)
		if err != nil {
			return Backup{}, fmt.Errorf("export %s: %w", c.Name, err)
		}
		rows := make([]json.RawMessage, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, r.Data)
		}
		b.Data[c.Name] = rows
	}
	return b, nil
}

// ImportAllData validates b completely, then clears and repopulates every
// collection it names in one transaction.
func (d *Database) ImportAllData(ctx context.Context, b Backup) (ImportReport, error) {
	data, err := d.validateBackup(ctx, b)
	if err != nil {
		return ImportReport{}, err
	}
	if err := d.Store.ReplaceAll(ctx, data); err != nil {
		return ImportReport{}, fmt.Errorf("restore backup: %w", err)
	}
	rep := ImportReport{Collections: len(data)}
	for _, recs := range data {
		rep.Records += len(recs)
	}
	if err := d.Stats.Invalidate(ctx); err != nil {
		d.logger.Warn("invalidate stats after import", zap.Error(err))
	}
	d.logger.Info("backup imported", zap.Int("collections", rep.Collections), zap.Int("records", rep.Records))
	return rep, nil
}

func (d *Database) validateBackup(ctx context.Context, b Backup) (map[string][]store.Record, error) {
	var problems []string
	addf := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }

	if b.Version < 1 || b.Version > migrate.Latest() {
		addf("version %d not in 1..%d", b.Version, migrate.Latest())
	}
	if b.Data == nil {
		addf("data is missing")
	}
	colls, err := d.Store.Collections(ctx)
	if err != nil {
		return nil, err
	}
	known := map[string]bool{}
	for _, c := range colls {
		known[c.Name] = true
	}

	names := make([]string, 0, len(b.Data))
	for name := range b.Data {
		names = append(names, name)
	}
	sort.Strings(names)

	out := map[string][]store.Record{}
	for _, name := range names {
		if !known[name] {
			addf("unknown collection %q", name)
			continue
		}
		seen := map[string]bool{}
		recs := make([]store.Record, 0, len(b.Data[name]))
		for i, raw := range b.Data[name] {
			fields, ok := objectOf(raw)
			if !ok {
				addf("%s[%d] is not an object", name, i)
				continue
			}
			id := idOf(fields["id"])
			if id == "" {
				addf("%s[%d] has no usable id", name, i)
				continue
			}
			if seen[id] {
				addf("%s[%d] repeats id %s", name, i, id)
				continue
			}
			seen[id] = true
			recs = append(recs, store.Record{ID: id, TS: recordTime(fields), Data: raw})
		}
		out[name] = recs
	}
	if len(problems) > 0 {
		return nil, &InvalidBackupError{Problems: problems}
	}
	return out, nil
}

func objectOf(raw json.RawMessage) (map[string]json.RawMessage, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, false
	}
	return fields, true
}

func idOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}

// timeFields are checked in order to recover a record's timestamp.
var timeFields = []string{"timestamp", "datetime", "date", "createdAt", "generatedAt", "startDate", "updatedAt"}

func recordTime(fields map[string]json.RawMessage) time.Time {
	for _, name := range timeFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t
			}
			if t, err := time.Parse("2006-01-02", s); err == nil {
				return t
			}
			continue
		}
		var ms int64
		if err := json.Unmarshal(raw, &ms); err == nil && ms > 0 {
			return time.UnixMilli(ms)
		}
	}
	return time.Time{}
}

// WriteBackup encodes b as indented JSON.
func WriteBackup(w io.Writer, b Backup) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// ReadBackup decodes a backup file. Malformed JSON is an *InvalidBackupError.
func ReadBackup(r io.Reader) (Backup, error) {
	var b Backup
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Backup{}, &InvalidBackupError{Problems: []string{err.Error()}}
	}
	return b, nil
}
