package repo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"plantdash/internal/domain"
	"plantdash/internal/store"
)

// ErrNotFound is returned by every accessor that targets a missing record,
// including updates and status transitions.
var ErrNotFound = store.ErrNotFound

var endOfTime = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Repo exposes typed operations per domain collection.
type Repo struct {
	Store *store.Engine
	Now   func() time.Time
	// Loc decides calendar days for date filters and daily rollups.
	Loc *time.Location
}

func New(engine *store.Engine, loc *time.Location) Repo {
	if loc == nil {
		loc = time.UTC
	}
	return Repo{Store: engine, Now: time.Now, Loc: loc}
}

func (r Repo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Repo) loc() *time.Location {
	if r.Loc != nil {
		return r.Loc
	}
	return time.UTC
}

func get[T any](ctx context.Context, r Repo, collection, id string) (T, error) {
	var v T
	rec, err := r.Store.GetByID(ctx, collection, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return v, fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
		}
		return v, err
	}
	if err := rec.Decode(&v); err != nil {
		return v, fmt.Errorf("decode %s %s: %w", collection, id, err)
	}
	return v, nil
}

func decodeAll[T any](recs []store.Record) ([]T, error) {
	return store.DecodeAll[T](recs)
}

func list[T any](ctx context.Context, r Repo, collection string) ([]T, error) {
	recs, err := r.Store.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[T](recs)
}

func put(ctx context.Context, r Repo, collection, id string, ts time.Time, v any, create bool) (string, error) {
	rec, err := store.Encode(id, v)
	if err != nil {
		return "", err
	}
	rec.TS = ts
	if create {
		return r.Store.Create(ctx, collection, rec)
	}
	return r.Store.Upsert(ctx, collection, rec)
}

func remove(ctx context.Context, r Repo, collection, id string) error {
	if err := r.Store.DeleteByID(ctx, collection, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%s %s: %w", collection, id, ErrNotFound)
		}
		return err
	}
	return nil
}

// nextSerial returns prefix-YYYY-NNN one past the highest serial of that year.
func nextSerial(ctx context.Context, r Repo, collection, prefix string, year int) (string, error) {
	recs, err := r.Store.GetAll(ctx, collection)
	if err != nil {
		return "", err
	}
	ids := make([]string, len(recs))
	for i, rec := range recs {
		ids[i] = rec.ID
	}
	return domain.NextSerial(prefix, year, ids), nil
}

func sortByTime[T any](items []T, at func(T) time.Time, desc bool) {
	sort.SliceStable(items, func(i, j int) bool {
		if desc {
			return at(items[i]).After(at(items[j]))
		}
		return at(items[i]).Before(at(items[j]))
	})
}

func optionalTime(t *time.Time, fallback time.Time) time.Time {
	if t != nil && !t.IsZero() {
		return *t
	}
	return fallback
}
