package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"plantdash/internal/app"
	"plantdash/internal/domain"
)

func registerLogs(api huma.API, d *app.Database) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit entries, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" default:"50"`
	}) (*output[ListResponse[domain.AuditLogEntry]], error) {
		items, err := d.Repo.GetAuditLog(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return list(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-audit",
		Method:        http.MethodPost,
		Path:          "/audit",
		Summary:       "Append an audit entry for the caller",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAuditRequest `json:"body"`
	}) (*output[domain.AuditLogEntry], error) {
		e, err := d.Repo.AddAuditLog(ctx, userFromContext(ctx), strings.TrimSpace(input.Body.Action))
		if err != nil {
			return nil, handleError(err)
		}
		return respond(e), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "List alerts, newest first",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" minimum:"0" default:"20"`
	}) (*output[ListResponse[domain.Alert]], error) {
		items, err := d.Repo.GetAlerts(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return list(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-alert",
		Method:        http.MethodPost,
		Path:          "/alerts",
		Summary:       "Raise an alert",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateAlertRequest `json:"body"`
	}) (*output[domain.Alert], error) {
		a, err := d.Repo.AddAlert(ctx, domain.AlertLevel(input.Body.Level), input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(a), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sensors",
		Method:      http.MethodGet,
		Path:        "/sensors",
		Summary:     "List sensor readings",
	}, func(ctx context.Context, input *struct {
		Since time.Time `query:"since"`
	}) (*output[ListResponse[domain.SensorReading]], error) {
		items, err := d.Repo.GetSensorReadings(ctx, input.Since)
		if err != nil {
			return nil, handleError(err)
		}
		return list(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-sensor-reading",
		Method:        http.MethodPost,
		Path:          "/sensors",
		Summary:       "Record a sensor reading",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateSensorReadingRequest `json:"body"`
	}) (*output[domain.SensorReading], error) {
		s := domain.SensorReading{Sensor: input.Body.Sensor, Value: input.Body.Value, Unit: input.Body.Unit}
		if input.Body.Timestamp != nil {
			s.Timestamp = *input.Body.Timestamp
		}
		s, err := d.Repo.AddSensorReading(ctx, s)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-offline-queue",
		Method:      http.MethodGet,
		Path:        "/offline-queue",
		Summary:     "List writes waiting for the hosted backend",
	}, func(ctx context.Context, _ *struct{}) (*output[ListResponse[domain.OfflineItem]], error) {
		items, err := d.Repo.GetOfflineQueue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return list(items), nil
	})
}

func registerReports(api huma.API, d *app.Database) {
	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports, newest first",
	}, func(ctx context.Context, _ *struct{}) (*output[ListResponse[domain.Report]], error) {
		items, err := d.Repo.GetReports(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return list(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Save a generated report",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateReportRequest `json:"body"`
	}) (*output[domain.Report], error) {
		b := input.Body
		rep, err := d.Repo.SaveReport(ctx, domain.Report{
			Title:       b.Title,
			Type:        b.Type,
			PeriodStart: b.PeriodStart,
			PeriodEnd:   b.PeriodEnd,
			GeneratedBy: userFromContext(ctx),
			OrderIDs:    b.OrderIDs,
			Summary:     b.Summary,
		})
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "create report %s", rep.ID)
		return respond(rep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{id}",
		Summary:     "Get a report",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.Report], error) {
		rep, err := d.Repo.GetReport(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(rep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-report",
		Method:      http.MethodDelete,
		Path:        "/reports/{id}",
		Summary:     "Delete a report",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[DeletedResponse], error) {
		if err := d.Repo.DeleteReport(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "delete report %s", input.ID)
		return respond(DeletedResponse{ID: input.ID, Deleted: true}), nil
	})
}
