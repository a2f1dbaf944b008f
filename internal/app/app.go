// Package app owns the lifecycle of one process context: it opens the shared
// database, starts the broadcast bus and wires the stores on top of them.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"plantdash/internal/broadcast"
	"plantdash/internal/config"
	"plantdash/internal/db"
	"plantdash/internal/logger"
	"plantdash/internal/migrate"
	"plantdash/internal/repo"
	"plantdash/internal/settings"
	"plantdash/internal/stats"
	"plantdash/internal/store"
)

// DefaultRetention is how long time-series collections are kept.
const DefaultRetention = 30 * 24 * time.Hour

// Transport names accepted in Options.
const (
	TransportSQLite = "sqlite"
	TransportRedis  = "redis"
	TransportNone   = "none"
)

type Options struct {
	DB           db.Config
	Transport    string
	PollInterval time.Duration
	RedisAddr    string
	Location     *time.Location
	Retention    time.Duration
	Catalog      *config.Catalog
	// HistorySeed drives synthesized quality history.
	HistorySeed int64
	Now         func() time.Time
	Logger      *zap.Logger
}

// OptionsFrom maps process settings onto Options.
func OptionsFrom(s config.Settings, log *zap.Logger) (Options, error) {
	loc, err := s.Loc()
	if err != nil {
		return Options{}, err
	}
	return Options{
		DB:           db.Config{Workspace: s.Workspace, Path: s.DB.Path, OpenTimeout: s.DB.OpenTimeout},
		Transport:    s.Broadcast.Transport,
		PollInterval: s.Broadcast.PollInterval,
		RedisAddr:    s.Broadcast.RedisAddr,
		Location:     loc,
		Retention:    s.Retention,
		Logger:       log,
	}, nil
}

// Database is an open handle on the shared store for one context.
type Database struct {
	DB       *sql.DB
	Bus      *broadcast.Bus
	Store    *store.Engine
	Settings *settings.Store
	Repo     repo.Repo
	Stats    *stats.Engine

	opts      Options
	logger    *zap.Logger
	closeOnce sync.Once
	closeErr  error
}

// Open opens the database, migrates it to the latest schema and starts the
// bus. Storage failures are *store.StorageUnavailableError; a database written
// by a newer binary also matches migrate.ErrSchemaTooNew.
func Open(ctx context.Context, opts Options) (*Database, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Catalog == nil {
		opts.Catalog = config.DefaultCatalog()
	}
	if opts.HistorySeed == 0 {
		opts.HistorySeed = stats.DefaultSeed
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	conn, err := db.Open(ctx, opts.DB)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, &store.StorageUnavailableError{Path: db.Path(opts.DB), Err: err}
	}

	transport, err := newTransport(conn, opts, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	bus := broadcast.New(transport, logger.Named(log, "broadcast"))
	bus.Start(ctx)

	engine := store.New(conn, bus, logger.Named(log, "store"))
	engine.Now = opts.Now
	r := repo.New(engine, opts.Location)
	r.Now = opts.Now
	st := stats.New(r, logger.Named(log, "stats"))
	st.Now = opts.Now
	st.Loc = opts.Location
	st.Seed = opts.HistorySeed

	d := &Database{
		DB:       conn,
		Bus:      bus,
		Store:    engine,
		Settings: settings.New(engine, bus, logger.Named(log, "settings")),
		Repo:     r,
		Stats:    st,
		opts:     opts,
		logger:   log,
	}
	log.Debug("database open", zap.String("path", db.Path(opts.DB)), zap.Bool("broadcast", bus.Available()))
	return d, nil
}

func newTransport(conn *sql.DB, opts Options, log *zap.Logger) (broadcast.Transport, error) {
	switch opts.Transport {
	case "", TransportSQLite:
		t := broadcast.NewSQLTransport(conn, opts.PollInterval, logger.Named(log, "outbox"))
		t.Now = opts.Now
		return t, nil
	case TransportRedis:
		return broadcast.NewRedisTransport(opts.RedisAddr, logger.Named(log, "redis")), nil
	case TransportNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown broadcast transport %q", opts.Transport)
	}
}

func (d *Database) now() time.Time { return d.opts.Now() }

// Now is the handle's clock.
func (d *Database) Now() time.Time { return d.opts.Now() }

// Logger is the handle's logger.
func (d *Database) Logger() *zap.Logger { return d.logger }

// Location is the calendar used for day boundaries.
func (d *Database) Location() *time.Location { return d.opts.Location }

// Close stops the bus and releases the database. Calling it again is a no-op.
func (d *Database) Close() error {
	d.closeOnce.Do(func() {
		d.Settings.Close()
		busErr := d.Bus.Close()
		dbErr := d.DB.Close()
		d.closeErr = errors.Join(busErr, dbErr)
	})
	return d.closeErr
}
