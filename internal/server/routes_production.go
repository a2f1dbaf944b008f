package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"plantdash/internal/app"
	"plantdash/internal/domain"
	"plantdash/internal/repo"
)

const defaultTickStep = 5

func registerCollections(api huma.API, d *app.Database) {
	huma.Register(api, huma.Operation{
		OperationID: "list-collections",
		Method:      http.MethodGet,
		Path:        "/collections",
		Summary:     "List collection records",
	}, func(ctx context.Context, _ *struct{}) (*output[ListResponse[domain.CollectionRecord]], error) {
		items, err := d.Repo.GetCollectionRecords(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return list(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-collection",
		Method:        http.MethodPost,
		Path:          "/collections",
		Summary:       "Record a production batch",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateCollectionRequest `json:"body"`
	}) (*output[domain.CollectionRecord], error) {
		c, err := d.Repo.SaveCollectionRecord(ctx, input.Body.record())
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "create collection %s", c.ID)
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-collection",
		Method:      http.MethodGet,
		Path:        "/collections/{id}",
		Summary:     "Get a collection record",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.CollectionRecord], error) {
		c, err := d.Repo.GetCollectionRecord(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-collection-status",
		Method:      http.MethodPut,
		Path:        "/collections/{id}/status",
		Summary:     "Change a collection record status",
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body CollectionStatusRequest `json:"body"`
	}) (*output[domain.CollectionRecord], error) {
		c, err := d.Repo.UpdateCollectionStatus(ctx, input.ID, domain.CollectionStatus(input.Body.Status))
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "collection %s status %s", c.ID, c.Status)
		return respond(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-collection",
		Method:      http.MethodDelete,
		Path:        "/collections/{id}",
		Summary:     "Delete a collection record",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[DeletedResponse], error) {
		if err := d.Repo.DeleteCollectionRecord(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "delete collection %s", input.ID)
		return respond(DeletedResponse{ID: input.ID, Deleted: true}), nil
	})
}

func registerOrders(api huma.API, d *app.Database) {
	huma.Register(api, huma.Operation{
		OperationID: "list-orders",
		Method:      http.MethodGet,
		Path:        "/orders",
		Summary:     "List production orders",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"waiting,in_progress,completed,cancelled"`
	}) (*output[ListResponse[domain.ProductionOrder]], error) {
		orders, err := d.Repo.GetProductionOrders(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" {
			filtered := orders[:0]
			for _, o := range orders {
				if string(o.Status) == input.Status {
					filtered = append(filtered, o)
				}
			}
			orders = filtered
		}
		return list(orders), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/orders",
		Summary:       "Create a production order",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateOrderRequest `json:"body"`
	}) (*output[domain.ProductionOrder], error) {
		if input.Body.ID != "" {
			if _, err := d.Repo.GetProductionOrder(ctx, input.Body.ID); err == nil {
				return nil, newAPIError(http.StatusConflict, "conflict", "order "+input.Body.ID+" already exists", nil)
			} else if !repo.IsNotFound(err) {
				return nil, handleError(err)
			}
		}
		o, err := d.Repo.SaveProductionOrder(ctx, input.Body.order())
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "create order %s", o.ID)
		return respond(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-order",
		Method:      http.MethodGet,
		Path:        "/orders/{id}",
		Summary:     "Get a production order",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[domain.ProductionOrder], error) {
		o, err := d.Repo.GetProductionOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-order",
		Method:      http.MethodPatch,
		Path:        "/orders/{id}",
		Summary:     "Update a production order",
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateOrderRequest `json:"body"`
	}) (*output[domain.ProductionOrder], error) {
		o, err := d.Repo.UpdateProductionOrder(ctx, input.ID, input.Body.patch())
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "update order %s", o.ID)
		return respond(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-order",
		Method:      http.MethodDelete,
		Path:        "/orders/{id}",
		Summary:     "Delete a production order",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*output[DeletedResponse], error) {
		if err := d.Repo.DeleteProductionOrder(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "delete order %s", input.ID)
		return respond(DeletedResponse{ID: input.ID, Deleted: true}), nil
	})

	actions := map[string]func(context.Context, string) (domain.ProductionOrder, error){
		"start":    d.Repo.StartOrder,
		"pause":    d.Repo.PauseOrder,
		"resume":   d.Repo.ResumeOrder,
		"cancel":   d.Repo.CancelOrder,
		"complete": d.Repo.CompleteOrder,
	}
	huma.Register(api, huma.Operation{
		OperationID: "order-action",
		Method:      http.MethodPost,
		Path:        "/orders/{id}/{action}",
		Summary:     "Apply a lifecycle action to an order",
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Action string `path:"action" enum:"start,pause,resume,cancel,complete,tick"`
		Body   *TickRequest `required:"false"`
	}) (*output[domain.ProductionOrder], error) {
		var (
			o   domain.ProductionOrder
			err error
		)
		if input.Action == "tick" {
			step := defaultTickStep
			if input.Body != nil && input.Body.Step > 0 {
				step = input.Body.Step
			}
			o, err = d.Repo.TickOrderProgress(ctx, input.ID, step)
		} else {
			o, err = actions[input.Action](ctx, input.ID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "%s order %s", input.Action, o.ID)
		return respond(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "tick-orders",
		Method:      http.MethodPost,
		Path:        "/orders/tick",
		Summary:     "Advance every running order",
	}, func(ctx context.Context, input *struct {
		Body *TickRequest `required:"false"`
	}) (*output[TickResponse], error) {
		step := defaultTickStep
		if input.Body != nil && input.Body.Step > 0 {
			step = input.Body.Step
		}
		n, err := d.Repo.TickAllOrders(ctx, step)
		if err != nil {
			return nil, handleError(err)
		}
		if n > 0 {
			invalidateStats(ctx, d)
		}
		return respond(TickResponse{Advanced: n}), nil
	})
}

func registerProductionRecords(api huma.API, d *app.Database) {
	huma.Register(api, huma.Operation{
		OperationID: "list-production",
		Method:      http.MethodGet,
		Path:        "/production",
		Summary:     "List production records",
	}, func(ctx context.Context, input *struct {
		Since time.Time `query:"since"`
	}) (*output[ListResponse[domain.ProductionRecord]], error) {
		items, err := d.Repo.GetProductionRecords(ctx, input.Since)
		if err != nil {
			return nil, handleError(err)
		}
		return list(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-production",
		Method:        http.MethodPost,
		Path:          "/production",
		Summary:       "Record produced and rejected counts",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateProductionRecordRequest `json:"body"`
	}) (*output[domain.ProductionRecord], error) {
		rec := domain.ProductionRecord{Line: input.Body.Line, Produced: input.Body.Produced, Rejected: input.Body.Rejected}
		if input.Body.Timestamp != nil {
			rec.Timestamp = *input.Body.Timestamp
		}
		rec, err := d.Repo.AddProductionRecord(ctx, rec)
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "record production %d/%d", rec.Produced, rec.Rejected)
		return respond(rec), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-daily-metrics",
		Method:      http.MethodGet,
		Path:        "/metrics/daily",
		Summary:     "List daily production rollups",
	}, func(ctx context.Context, _ *struct{}) (*output[ListResponse[domain.DailyMetric]], error) {
		items, err := d.Repo.GetDailyMetrics(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return list(items), nil
	})
}
