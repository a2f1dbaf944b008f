package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"plantdash/internal/app"
	"plantdash/internal/domain"
)

func registerQuality(api huma.API, d *app.Database) {
	huma.Register(api, huma.Operation{
		OperationID: "list-non-conformances",
		Method:      http.MethodGet,
		Path:        "/non-conformances",
		Summary:     "List non-conformances",
		Description: "Filter by status, or by an inclusive day range (YYYY-MM-DD or DD/MM/YYYY).",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"open,under_review,resolved"`
		From   string `query:"from"`
		To     string `query:"to"`
	}) (*output[ListResponse[domain.NonConformance]], error) {
		var (
			items []domain.NonConformance
			err   error
		)
		switch {
		case input.From != "" || input.To != "":
			items, err = ncRange(ctx, d, input.From, input.To)
		case input.Status != "":
			items, err = d.Repo.GetNonConformancesByStatus(ctx, domain.NCStatus(input.Status))
		default:
			items, err = d.Repo.GetNonConformances(ctx)
		}
		if err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" && (input.From != "" || input.To != "") {
			filtered := items[:0]
			for _, n := range items {
				if string(n.Status) == input.Status {
					filtered = append(filtered, n)
				}
			}
			items = filtered
		}
		return list(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-non-conformance",
		Method:        http.MethodPost,
		Path:          "/non-conformances",
		Summary:       "Log a non-conformance",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateNonConformanceRequest `json:"body"`
	}) (*output[domain.NonConformance], error) {
		n, err := d.Repo.SaveNonConformance(ctx, input.Body.nc(userFromContext(ctx)))
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "create non-conformance %s", n.ID)
		return respond(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-non-conformance",
		Method:      http.MethodGet,
		Path:        "/non-conformances/{id}",
		Summary:     "Get a non-conformance",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.NonConformance], error) {
		n, err := d.Repo.GetNonConformance(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-non-conformance",
		Method:      http.MethodPatch,
		Path:        "/non-conformances/{id}",
		Summary:     "Edit a non-conformance",
	}, func(ctx context.Context, input *struct {
		ID   string                      `path:"id"`
		Body UpdateNonConformanceRequest `json:"body"`
	}) (*output[domain.NonConformance], error) {
		n, err := d.Repo.GetNonConformance(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		input.Body.apply(&n)
		n, err = d.Repo.UpdateNonConformance(ctx, n)
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "update non-conformance %s", n.ID)
		return respond(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-non-conformance",
		Method:      http.MethodPost,
		Path:        "/non-conformances/{id}/review",
		Summary:     "Move a non-conformance under review",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.NonConformance], error) {
		n, err := d.Repo.ReviewNonConformance(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "review non-conformance %s", n.ID)
		return respond(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-non-conformance",
		Method:      http.MethodPost,
		Path:        "/non-conformances/{id}/resolve",
		Summary:     "Resolve a non-conformance",
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ResolveRequest `json:"body"`
	}) (*output[domain.NonConformance], error) {
		n, err := d.Repo.ResolveNonConformance(ctx, input.ID, input.Body.CorrectiveActions)
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "resolve non-conformance %s", n.ID)
		return respond(n), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-non-conformance",
		Method:      http.MethodDelete,
		Path:        "/non-conformances/{id}",
		Summary:     "Delete a non-conformance",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[DeletedResponse], error) {
		if err := d.Repo.DeleteNonConformance(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "delete non-conformance %s", input.ID)
		return respond(DeletedResponse{ID: input.ID, Deleted: true}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-inspections",
		Method:      http.MethodGet,
		Path:        "/inspections",
		Summary:     "List inspections",
	}, func(ctx context.Context, _ *struct{}) (*output[ListResponse[domain.Inspection]], error) {
		items, err := d.Repo.GetInspections(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return list(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-inspection",
		Method:        http.MethodPost,
		Path:          "/inspections",
		Summary:       "Record a lot inspection",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateInspectionRequest `json:"body"`
	}) (*output[domain.Inspection], error) {
		i, err := d.Repo.SaveInspection(ctx, input.Body.inspection())
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "record inspection %s", i.ID)
		return respond(i), nil
	})
}

func ncRange(ctx context.Context, d *app.Database, from, to string) ([]domain.NonConformance, error) {
	loc := d.Location()
	today := d.Now()
	start, end := today, today
	var err error
	if from != "" {
		if start, err = domain.ParseDisplayDate(from, loc); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid from date", map[string]any{"from": from})
		}
	}
	if to != "" {
		if end, err = domain.ParseDisplayDate(to, loc); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid to date", map[string]any{"to": to})
		}
	}
	if from != "" && to == "" {
		end = today
	}
	if to != "" && from == "" {
		start = end
	}
	if end.Before(start) {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", "to is before from", nil)
	}
	items, err := d.Repo.GetNonConformancesByDateRange(ctx, start, end)
	if err != nil {
		return nil, handleError(err)
	}
	return items, nil
}
