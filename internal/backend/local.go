package backend

import (
	"context"

	"plantdash/internal/app"
	"plantdash/internal/domain"
)

// Local serves every call from the shared SQLite database.
type Local struct {
	DB *app.Database
}

func NewLocal(d *app.Database) *Local { return &Local{DB: d} }

// Init seeds default data on first use.
func (l *Local) Init(ctx context.Context) error {
	_, err := l.DB.InitializeDefaultData(ctx)
	return err
}

func (l *Local) GetConfig(ctx context.Context, key string) (any, error) {
	return l.DB.Settings.Get(ctx, key)
}

func (l *Local) SetConfig(ctx context.Context, key string, value any) error {
	return l.DB.Settings.Set(ctx, key, value)
}

func (l *Local) OnConfigChange(key string, fn func(any)) func() {
	return l.DB.Settings.OnChange(key, fn)
}

func (l *Local) GetCollectionRecords(ctx context.Context) ([]domain.CollectionRecord, error) {
	return l.DB.Repo.GetCollectionRecords(ctx)
}

func (l *Local) SaveCollectionRecord(ctx context.Context, c domain.CollectionRecord) (domain.CollectionRecord, error) {
	return l.DB.Repo.SaveCollectionRecord(ctx, c)
}

func (l *Local) DeleteCollectionRecord(ctx context.Context, id string) error {
	return l.DB.Repo.DeleteCollectionRecord(ctx, id)
}

func (l *Local) GetProductionOrders(ctx context.Context) ([]domain.ProductionOrder, error) {
	return l.DB.Repo.GetProductionOrders(ctx)
}

func (l *Local) SaveProductionOrder(ctx context.Context, o domain.ProductionOrder) (domain.ProductionOrder, error) {
	return l.DB.Repo.SaveProductionOrder(ctx, o)
}

func (l *Local) DeleteProductionOrder(ctx context.Context, id string) error {
	return l.DB.Repo.DeleteProductionOrder(ctx, id)
}

func (l *Local) GetNonConformances(ctx context.Context) ([]domain.NonConformance, error) {
	return l.DB.Repo.GetNonConformances(ctx)
}

func (l *Local) SaveNonConformance(ctx context.Context, n domain.NonConformance) (domain.NonConformance, error) {
	return l.DB.Repo.SaveNonConformance(ctx, n)
}

func (l *Local) DeleteNonConformance(ctx context.Context, id string) error {
	return l.DB.Repo.DeleteNonConformance(ctx, id)
}

func (l *Local) GetReports(ctx context.Context) ([]domain.Report, error) {
	return l.DB.Repo.GetReports(ctx)
}

func (l *Local) SaveReport(ctx context.Context, r domain.Report) (domain.Report, error) {
	return l.DB.Repo.SaveReport(ctx, r)
}

func (l *Local) DeleteReport(ctx context.Context, id string) error {
	return l.DB.Repo.DeleteReport(ctx, id)
}

func (l *Local) AddAuditLog(ctx context.Context, user, action string) error {
	_, err := l.DB.Repo.AddAuditLog(ctx, user, action)
	return err
}

func (l *Local) Close() error { return l.DB.Close() }
