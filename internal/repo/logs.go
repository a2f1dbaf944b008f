package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"plantdash/internal/domain"
)

// AddAuditLog appends an audit entry stamped now.
func (r Repo) AddAuditLog(ctx context.Context, user, action string) (domain.AuditLogEntry, error) {
	if user == "" || action == "" {
		return domain.AuditLogEntry{}, &domain.ValidationError{Entity: "audit entry", Problems: []string{"user and action are required"}}
	}
	e := domain.AuditLogEntry{Timestamp: r.now(), User: user, Action: action}
	id, err := put(ctx, r, domain.CollAudit, "", e.Timestamp, e, true)
	e.ID = id
	return e, err
}

// GetAuditLog returns up to limit entries, newest first. limit <= 0 means all.
func (r Repo) GetAuditLog(ctx context.Context, limit int) ([]domain.AuditLogEntry, error) {
	recs, err := r.Store.Latest(ctx, domain.CollAudit, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.AuditLogEntry](recs)
}

// AddAlert appends an alert stamped now.
func (r Repo) AddAlert(ctx context.Context, level domain.AlertLevel, message string) (domain.Alert, error) {
	if !level.Valid() || message == "" {
		return domain.Alert{}, &domain.ValidationError{Entity: "alert", Problems: []string{fmt.Sprintf("level %q with message %q", level, message)}}
	}
	a := domain.Alert{Level: level, Message: message, Timestamp: r.now()}
	id, err := put(ctx, r, domain.CollAlerts, "", a.Timestamp, a, true)
	a.ID = id
	return a, err
}

// GetAlerts returns up to limit alerts, newest first.
func (r Repo) GetAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	recs, err := r.Store.Latest(ctx, domain.CollAlerts, limit)
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.Alert](recs)
}

func (r Repo) AddSensorReading(ctx context.Context, s domain.SensorReading) (domain.SensorReading, error) {
	if s.Sensor == "" {
		return s, &domain.ValidationError{Entity: "sensor reading", Problems: []string{"sensor is required"}}
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = r.now()
	}
	id, err := put(ctx, r, domain.CollSensors, "", s.Timestamp, s, true)
	s.ID = id
	return s, err
}

// GetSensorReadings returns readings at or after since, oldest first.
func (r Repo) GetSensorReadings(ctx context.Context, since time.Time) ([]domain.SensorReading, error) {
	recs, err := r.Store.Range(ctx, domain.CollSensors, since, endOfTime)
	if err != nil {
		return nil, err
	}
	return decodeAll[domain.SensorReading](recs)
}

// EnqueueOffline records a write to replay once the hosted backend is reachable.
func (r Repo) EnqueueOffline(ctx context.Context, operation, collection string, payload any) (domain.OfflineItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.OfflineItem{}, fmt.Errorf("encode offline payload: %w", err)
	}
	item := domain.OfflineItem{Operation: operation, Collection: collection, Payload: raw, CreatedAt: r.now()}
	id, err := put(ctx, r, domain.CollOfflineQueue, "", item.CreatedAt, item, true)
	item.ID = id
	return item, err
}

// GetOfflineQueue returns queued writes, oldest first.
func (r Repo) GetOfflineQueue(ctx context.Context) ([]domain.OfflineItem, error) {
	return list[domain.OfflineItem](ctx, r, domain.CollOfflineQueue)
}

// MarkOfflineAttempt bumps the attempt counter of a queued write.
func (r Repo) MarkOfflineAttempt(ctx context.Context, id string) (domain.OfflineItem, error) {
	item, err := get[domain.OfflineItem](ctx, r, domain.CollOfflineQueue, id)
	if err != nil {
		return item, err
	}
	item.Attempts++
	_, err = put(ctx, r, domain.CollOfflineQueue, id, item.CreatedAt, item, false)
	return item, err
}

func (r Repo) RemoveOfflineItem(ctx context.Context, id string) error {
	return remove(ctx, r, domain.CollOfflineQueue, id)
}

// SaveReport creates or replaces a report.
func (r Repo) SaveReport(ctx context.Context, rep domain.Report) (domain.Report, error) {
	if rep.GeneratedAt.IsZero() {
		rep.GeneratedAt = r.now()
	}
	if rep.ID == "" {
		id, err := nextSerial(ctx, r, domain.CollReports, "REL", rep.GeneratedAt.In(r.loc()).Year())
		if err != nil {
			return rep, err
		}
		rep.ID = id
	}
	if err := rep.Validate(); err != nil {
		return rep, err
	}
	_, err := put(ctx, r, domain.CollReports, rep.ID, rep.GeneratedAt, rep, false)
	return rep, err
}

func (r Repo) GetReports(ctx context.Context) ([]domain.Report, error) {
	reps, err := list[domain.Report](ctx, r, domain.CollReports)
	if err != nil {
		return nil, err
	}
	sortByTime(reps, func(x domain.Report) time.Time { return x.GeneratedAt }, true)
	return reps, nil
}

func (r Repo) GetReport(ctx context.Context, id string) (domain.Report, error) {
	return get[domain.Report](ctx, r, domain.CollReports, id)
}

func (r Repo) DeleteReport(ctx context.Context, id string) error {
	return remove(ctx, r, domain.CollReports, id)
}

// IsNotFound reports whether err came from a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
