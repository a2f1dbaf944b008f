package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"plantdash/internal/app"
	"plantdash/internal/repo"
)

func registerConfig(api huma.API, d *app.Database) {
	huma.Register(api, huma.Operation{
		OperationID: "list-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "List configuration entries",
	}, func(ctx context.Context, _ *struct{}) (*output[ListResponse[ConfigEntryResponse]], error) {
		entries, err := d.Settings.Entries(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]ConfigEntryResponse, 0, len(entries))
		for _, e := range entries {
			var v any
			if err := json.Unmarshal(e.Value, &v); err != nil {
				return nil, handleError(err)
			}
			items = append(items, ConfigEntryResponse{Key: e.Key, Value: v})
		}
		return list(items), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config/{key}",
		Summary:     "Get a configuration value",
	}, func(ctx context.Context, input *struct {
		Key string `path:"key"`
	}) (*output[ConfigEntryResponse], error) {
		var value any
		found, err := d.Settings.GetInto(ctx, input.Key, &value)
		if err != nil {
			return nil, handleError(err)
		}
		if !found {
			return nil, handleError(repo.ErrNotFound)
		}
		return respond(ConfigEntryResponse{Key: input.Key, Value: value}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-config",
		Method:      http.MethodPut,
		Path:        "/config/{key}",
		Summary:     "Set a configuration value",
	}, func(ctx context.Context, input *struct {
		Key  string           `path:"key"`
		Body SetConfigRequest `json:"body"`
	}) (*output[ConfigEntryResponse], error) {
		if input.Body.Value == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "value is required", nil)
		}
		if err := d.Settings.Set(ctx, input.Key, input.Body.Value); err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "set config %s", input.Key)
		return respond(ConfigEntryResponse{Key: input.Key, Value: input.Body.Value}), nil
	})
}
