package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plantdash/internal/broadcast"
	"plantdash/internal/store"
)

const Collection = "config"

// Entry is a stored configuration value.
type Entry struct {
	ID    string          `json:"id"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Store is the key/value configuration store. Local subscribers are invoked
// synchronously by Set; subscribers in other contexts hear about the change
// through the bus.
type Store struct {
	engine *store.Engine
	bus    *broadcast.Bus
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[string]map[int]func(any)
	nextID int
	unbus  func()
}

func New(engine *store.Engine, bus *broadcast.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		engine: engine,
		bus:    bus,
		logger: logger,
		subs:   make(map[string]map[int]func(any)),
	}
	if bus != nil {
		s.unbus = bus.Subscribe(s.onRemote)
	}
	return s
}

// Get returns the decoded value for key, or nil when it was never set.
func (s *Store) Get(ctx context.Context, key string) (any, error) {
	var v any
	if _, err := s.GetInto(ctx, key, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// GetInto decodes the value for key into dst and reports whether it existed.
func (s *Store) GetInto(ctx context.Context, key string, dst any) (bool, error) {
	entry, err := s.entry(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(entry.Value, dst); err != nil {
		return true, fmt.Errorf("decode config %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) entry(ctx context.Context, key string) (Entry, error) {
	rec, err := s.engine.GetByKey(ctx, Collection, key)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := rec.Decode(&e); err != nil {
		return Entry{}, fmt.Errorf("decode config %s: %w", key, err)
	}
	return e, nil
}

// Entries lists every stored configuration entry.
func (s *Store) Entries(ctx context.Context) ([]Entry, error) {
	recs, err := s.engine.GetAll(ctx, Collection)
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[Entry](recs)
}

// Any reports whether at least one configuration entry exists.
func (s *Store) Any(ctx context.Context) (bool, error) {
	n, err := s.engine.Count(ctx, Collection)
	return n > 0, err
}

// Set stores value under key. The first write allocates an id; later writes reuse it.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	if key == "" {
		return errors.New("config key required")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode config %s: %w", key, err)
	}
	id := uuid.NewString()
	existing, err := s.entry(ctx, key)
	switch {
	case err == nil:
		id = existing.ID
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	rec, err := store.Encode(id, Entry{ID: id, Key: key, Value: raw})
	if err != nil {
		return err
	}
	rec.Key = key
	if _, err := s.engine.Upsert(ctx, Collection, rec); err != nil {
		return fmt.Errorf("save config %s: %w", key, err)
	}
	s.fire(key, value)
	if s.bus != nil {
		msg, err := broadcast.NewConfigChanged(key, json.RawMessage(raw))
		if err != nil {
			s.logger.Warn("encode config broadcast", zap.String("key", key), zap.Error(err))
			return nil
		}
		s.bus.Publish(ctx, msg)
	}
	return nil
}

// OnChange registers fn for changes of key. The returned function removes
// exactly this registration and may be called more than once.
func (s *Store) OnChange(key string, fn func(value any)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]func(any))
	}
	s.subs[key][id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs[key], id)
			if len(s.subs[key]) == 0 {
				delete(s.subs, key)
			}
		})
	}
}

func (s *Store) fire(key string, value any) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.subs[key]))
	for id := range s.subs[key] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(any), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[key][id])
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(value)
	}
}

func (s *Store) onRemote(msg broadcast.Message) {
	if msg.Type != broadcast.ConfigChanged {
		return
	}
	var v any
	if err := msg.Decode(&v); err != nil {
		s.logger.Warn("decode remote config change", zap.String("key", msg.Key), zap.Error(err))
		return
	}
	s.fire(msg.Key, v)
}

// Close detaches the store from the bus.
func (s *Store) Close() {
	if s.unbus != nil {
		s.unbus()
	}
}
