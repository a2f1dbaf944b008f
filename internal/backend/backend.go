// Package backend abstracts where dashboard data lives: the local database
// shared by every process context, or a hosted REST service scoped by user.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"plantdash/internal/app"
	"plantdash/internal/config"
	"plantdash/internal/domain"
)

// Backend is the data surface the pages use.
type Backend interface {
	Init(ctx context.Context) error
	GetConfig(ctx context.Context, key string) (any, error)
	SetConfig(ctx context.Context, key string, value any) error
	OnConfigChange(key string, fn func(value any)) (unsubscribe func())

	GetCollectionRecords(ctx context.Context) ([]domain.CollectionRecord, error)
	SaveCollectionRecord(ctx context.Context, c domain.CollectionRecord) (domain.CollectionRecord, error)
	DeleteCollectionRecord(ctx context.Context, id string) error

	GetProductionOrders(ctx context.Context) ([]domain.ProductionOrder, error)
	SaveProductionOrder(ctx context.Context, o domain.ProductionOrder) (domain.ProductionOrder, error)
	DeleteProductionOrder(ctx context.Context, id string) error

	GetNonConformances(ctx context.Context) ([]domain.NonConformance, error)
	SaveNonConformance(ctx context.Context, n domain.NonConformance) (domain.NonConformance, error)
	DeleteNonConformance(ctx context.Context, id string) error

	GetReports(ctx context.Context) ([]domain.Report, error)
	SaveReport(ctx context.Context, r domain.Report) (domain.Report, error)
	DeleteReport(ctx context.Context, id string) error

	AddAuditLog(ctx context.Context, user, action string) error
	Close() error
}

const (
	KindLocal = "local"
	KindCloud = "cloud"
)

// RequireLocal fails for any kind other than local. Commands that serve the
// shared database directly use it to refuse a cloud configuration.
func RequireLocal(kind, command string) error {
	switch kind {
	case KindLocal, "":
		return nil
	case KindCloud:
		return fmt.Errorf("%s serves the local database; backend.kind=cloud is only used by sync", command)
	default:
		return fmt.Errorf("unknown backend kind %q", kind)
	}
}

// New opens the local database and, for the cloud kind, wraps it as the
// offline queue of a hosted adapter.
func New(ctx context.Context, s config.Settings, log *zap.Logger) (Backend, error) {
	opts, err := app.OptionsFrom(s, log)
	if err != nil {
		return nil, err
	}
	d, err := app.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	switch s.Backend {
	case KindLocal, "":
		return NewLocal(d), nil
	case KindCloud:
		c := NewCloud(s.Cloud, log)
		c.Offline = &d.Repo
		c.closeLocal = d.Close
		return c, nil
	default:
		d.Close()
		return nil, fmt.Errorf("unknown backend kind %q", s.Backend)
	}
}
