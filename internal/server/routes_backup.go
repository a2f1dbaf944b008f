package server

import (
	"bytes"
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"plantdash/internal/app"
)

// maxBackupBytes bounds an imported backup body.
const maxBackupBytes = 64 << 20

func registerBackup(api huma.API, d *app.Database) {
	huma.Register(api, huma.Operation{
		OperationID: "export-backup",
		Method:      http.MethodGet,
		Path:        "/backup",
		Summary:     "Export every collection",
	}, func(ctx context.Context, _ *struct{}) (*output[app.Backup], error) {
		b, err := d.ExportAllData(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(b), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "import-backup",
		Method:       http.MethodPut,
		Path:         "/backup",
		Summary:      "Replace every collection from a backup",
		Description:  "The backup is validated first; an invalid backup changes nothing.",
		MaxBodyBytes: maxBackupBytes,
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*output[app.ImportReport], error) {
		b, err := app.ReadBackup(bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, handleError(err)
		}
		rep, err := d.ImportAllData(ctx, b)
		if err != nil {
			return nil, handleError(err)
		}
		written(ctx, d, "import backup")
		return respond(rep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cleanup",
		Method:      http.MethodPost,
		Path:        "/maintenance/cleanup",
		Summary:     "Prune time-series data past retention",
	}, func(ctx context.Context, input *struct {
		Force bool `query:"force"`
	}) (*output[app.CleanupReport], error) {
		run := d.CleanupOldData
		if input.Force {
			run = d.ForceCleanup
		}
		rep, err := run(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return respond(rep), nil
	})
}
