package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"plantdash/internal/app"
	"plantdash/internal/stats"
)

func registerStats(api huma.API, d *app.Database) {
	huma.Register(api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Dashboard summary",
		Description: "Served from the stats cache when present; refresh=true recomputes.",
	}, func(ctx context.Context, input *struct {
		Refresh bool `query:"refresh"`
	}) (*output[stats.Dashboard], error) {
		get := d.Stats.GetDashboardStats
		if input.Refresh {
			get = d.Stats.CalculateDashboardStats
		}
		dash, err := get(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(dash), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "invalidate-stats",
		Method:        http.MethodDelete,
		Path:          "/stats",
		Summary:       "Drop cached dashboard stats",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		if err := d.Stats.Invalidate(ctx); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-quality-history",
		Method:      http.MethodGet,
		Path:        "/stats/history",
		Summary:     "Quality history for the last seven days",
	}, func(ctx context.Context, _ *struct{}) (*output[stats.History], error) {
		h, err := d.Stats.GetQualityHistory(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(h), nil
	})
}
