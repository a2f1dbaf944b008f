package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"plantdash/internal/app"
	"plantdash/internal/db"
)

var testNow = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	DB     *app.Database
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	d, err := app.Open(context.Background(), app.Options{
		DB:        db.Config{Path: filepath.Join(t.TempDir(), "plant.db")},
		Transport: app.TransportNone,
		Now:       func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	handler, err := New(Config{DB: d, BasePath: "/v0", Auth: auth})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		DB:     d,
		client: &http.Client{},
		close: func() {
			handler.Close()
			srv.Shutdown(context.Background())
			ln.Close()
			d.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if raw, ok := body.([]byte); ok {
		reader = bytes.NewReader(raw)
	} else if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeBody(t *testing.T, data []byte, dst any) {
	t.Helper()
	if err := json.Unmarshal(data, dst); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func expectError(t *testing.T, resp *http.Response, data []byte, status int, code string) errorEnvelope {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d: %s", status, resp.StatusCode, string(data))
	}
	var env errorEnvelope
	decodeBody(t, data, &env)
	if env.Error.Code != code {
		t.Fatalf("expected code %s, got %s", code, env.Error.Code)
	}
	return env
}

func TestHealthReportsDegradedBroadcast(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()

	resp, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", resp.StatusCode, string(data))
	}
	var body HealthResponse
	decodeBody(t, data, &body)
	if body.Status != "ok" || body.Broadcast || body.Warning == "" {
		t.Fatalf("unexpected health %+v", body)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	base := srv.URL + "/v0"
	user := map[string]string{"X-User": "maria"}

	resp, data := doJSON(t, srv.Client(), http.MethodPost, base+"/orders", map[string]any{
		"product":  "Parafuso M8",
		"quantity": 500,
		"priority": "high",
	}, user)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order: %d %s", resp.StatusCode, string(data))
	}
	var order struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Progress int    `json:"progress"`
	}
	decodeBody(t, data, &order)
	if order.ID != "OP-2025-001" || order.Status != "waiting" {
		t.Fatalf("unexpected order %+v", order)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/orders/OP-2025-001/start", nil, user)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: %d %s", resp.StatusCode, string(data))
	}
	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/orders/OP-2025-001/tick", map[string]any{"step": 30}, user)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tick: %d %s", resp.StatusCode, string(data))
	}
	decodeBody(t, data, &order)
	if order.Status != "in_progress" || order.Progress != 30 {
		t.Fatalf("unexpected order after tick %+v", order)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/orders/OP-2025-001/cancel", nil, user)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: %d %s", resp.StatusCode, string(data))
	}
	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/orders/OP-2025-001/resume", nil, user)
	expectError(t, resp, data, http.StatusConflict, "invalid_transition")
	resp, data = doJSON(t, srv.Client(), http.MethodPatch, base+"/orders/OP-2025-001", map[string]any{"status": "in_progress"}, user)
	expectError(t, resp, data, http.StatusConflict, "invalid_transition")

	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/audit?limit=10", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("audit: %d %s", resp.StatusCode, string(data))
	}
	var audit ListResponse[struct {
		User   string `json:"user"`
		Action string `json:"action"`
	}]
	decodeBody(t, data, &audit)
	if len(audit.Items) != 4 {
		t.Fatalf("expected 4 audit entries, got %d", len(audit.Items))
	}
	if audit.Items[0].User != "maria" || audit.Items[0].Action != "cancel order OP-2025-001" {
		t.Fatalf("unexpected newest audit entry %+v", audit.Items[0])
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	base := srv.URL + "/v0"

	resp, data := doJSON(t, srv.Client(), http.MethodGet, base+"/orders/OP-2025-404", nil, nil)
	expectError(t, resp, data, http.StatusNotFound, "not_found")

	resp, data = doJSON(t, srv.Client(), http.MethodPatch, base+"/orders/OP-2025-404", map[string]any{"progress": 10}, nil)
	expectError(t, resp, data, http.StatusNotFound, "not_found")

	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/collections", map[string]any{
		"produced":  100,
		"material":  120,
		"applicant": "joao",
	}, nil)
	env := expectError(t, resp, data, http.StatusUnprocessableEntity, "validation_failed")
	if env.Error.Details["problems"] == nil {
		t.Fatalf("expected problems in details: %s", string(data))
	}

	inspection := map[string]any{"id": "INS-1", "lot": "L-77", "inspector": "ana", "approvedCount": 9, "rejectedCount": 1}
	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/inspections", inspection, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("inspection: %d %s", resp.StatusCode, string(data))
	}
	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/inspections", inspection, nil)
	expectError(t, resp, data, http.StatusConflict, "conflict")

	resp, data = doJSON(t, srv.Client(), http.MethodPut, base+"/backup", map[string]any{
		"timestamp": 1,
		"version":   99,
		"data":      map[string]any{"ordens": []any{}},
	}, nil)
	expectError(t, resp, data, http.StatusBadRequest, "invalid_backup")
}

func TestNonConformanceRangeAndResolve(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	base := srv.URL + "/v0"

	for _, date := range []string{"2025-06-08T10:00:00Z", "2025-06-10T09:00:00Z"} {
		resp, data := doJSON(t, srv.Client(), http.MethodPost, base+"/non-conformances", map[string]any{
			"type":        "dimensional",
			"description": "Diametro fora da tolerancia",
			"severity":    "high",
			"date":        date,
		}, nil)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create nc: %d %s", resp.StatusCode, string(data))
		}
	}

	resp, data := doJSON(t, srv.Client(), http.MethodGet, base+"/non-conformances?from=10/06/2025&to=2025-06-10", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("range: %d %s", resp.StatusCode, string(data))
	}
	var ncs ListResponse[struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}]
	decodeBody(t, data, &ncs)
	if len(ncs.Items) != 1 || ncs.Items[0].ID != "NC-2025-002" {
		t.Fatalf("unexpected range result %+v", ncs.Items)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/non-conformances/NC-2025-001/resolve", map[string]any{
		"correctiveActions": "Ajuste do torno",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: %d %s", resp.StatusCode, string(data))
	}
	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/non-conformances?status=resolved", nil, nil)
	decodeBody(t, data, &ncs)
	if len(ncs.Items) != 1 || ncs.Items[0].ID != "NC-2025-001" {
		t.Fatalf("unexpected resolved list %+v", ncs.Items)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/non-conformances?from=not-a-date", nil, nil)
	expectError(t, resp, data, http.StatusBadRequest, "bad_request")
}

func TestConfigRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	base := srv.URL + "/v0"

	var notified any
	srv.DB.Settings.OnChange("theme", func(v any) { notified = v })

	resp, data := doJSON(t, srv.Client(), http.MethodPut, base+"/config/theme", map[string]any{"value": "dark"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set: %d %s", resp.StatusCode, string(data))
	}
	if notified != "dark" {
		t.Fatalf("expected local subscriber to see dark, got %v", notified)
	}
	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/config/theme", nil, nil)
	var entry ConfigEntryResponse
	decodeBody(t, data, &entry)
	if entry.Value != "dark" {
		t.Fatalf("unexpected value %v", entry.Value)
	}
	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/config/missing", nil, nil)
	expectError(t, resp, data, http.StatusNotFound, "not_found")
}

func TestStatsAndHistory(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	base := srv.URL + "/v0"

	resp, data := doJSON(t, srv.Client(), http.MethodPost, base+"/production", map[string]any{"produced": 200, "rejected": 10}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("production: %d %s", resp.StatusCode, string(data))
	}
	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/stats", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: %d %s", resp.StatusCode, string(data))
	}
	var dash struct {
		TotalProduced int     `json:"totalProduced"`
		ApprovalRate  float64 `json:"approvalRate"`
		Cached        bool    `json:"cached"`
	}
	decodeBody(t, data, &dash)
	if dash.TotalProduced != 200 || dash.ApprovalRate != 95 || dash.Cached {
		t.Fatalf("unexpected stats %+v", dash)
	}
	_, data = doJSON(t, srv.Client(), http.MethodGet, base+"/stats", nil, nil)
	decodeBody(t, data, &dash)
	if !dash.Cached {
		t.Fatalf("expected cached stats on second read")
	}

	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/stats/history", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", resp.StatusCode, string(data))
	}
	var hist struct {
		Dates []string `json:"dates"`
	}
	decodeBody(t, data, &hist)
	if len(hist.Dates) != 7 || hist.Dates[6] != "2025-06-10" {
		t.Fatalf("unexpected history dates %v", hist.Dates)
	}
}

func TestJWTAuth(t *testing.T) {
	secret := "test-secret"
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: secret, DevLogin: true})
	defer cleanup()
	base := srv.URL + "/v0"

	resp, data := doJSON(t, srv.Client(), http.MethodGet, base+"/orders", nil, nil)
	expectError(t, resp, data, http.StatusUnauthorized, "unauthorized")

	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/orders", nil, map[string]string{"Authorization": "Bearer nope"})
	expectError(t, resp, data, http.StatusUnauthorized, "invalid_credentials")

	resp, _ = doJSON(t, srv.Client(), http.MethodGet, base+"/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", resp.StatusCode)
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/auth/dev/login", map[string]any{"user": "carlos"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", resp.StatusCode, string(data))
	}
	var tok TokenResponse
	decodeBody(t, data, &tok)
	headers := map[string]string{"Authorization": "Bearer " + tok.Token}

	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/alerts", map[string]any{"level": "warning", "message": "Temperatura alta"}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("alert: %d %s", resp.StatusCode, string(data))
	}
	resp, data = doJSON(t, srv.Client(), http.MethodPost, base+"/audit", map[string]any{"action": "viewed dashboard"}, headers)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("audit: %d %s", resp.StatusCode, string(data))
	}
	var entry struct {
		User string `json:"user"`
	}
	decodeBody(t, data, &entry)
	if entry.User != "carlos" {
		t.Fatalf("expected token subject as audit user, got %q", entry.User)
	}
}

func TestEventStreamRelaysChanges(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	base := srv.URL + "/v0"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/events", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	reader := bufio.NewReader(resp.Body)
	waitFor := func(prefix string) string {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream waiting for %q: %v", prefix, err)
			}
			if strings.HasPrefix(line, prefix) {
				return line
			}
		}
	}
	waitFor("event: connected")

	doJSON(t, srv.Client(), http.MethodPut, base+"/config/theme", map[string]any{"value": "dark"}, nil)

	waitFor("event: config_changed")
	line := waitFor("data: ")
	if !strings.Contains(line, `"key":"theme"`) {
		t.Fatalf("unexpected event data %s", line)
	}
}

func TestBackupExportImport(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{})
	defer cleanup()
	base := srv.URL + "/v0"

	resp, data := doJSON(t, srv.Client(), http.MethodPost, base+"/orders", map[string]any{"product": "Bucha", "quantity": 10}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order: %d %s", resp.StatusCode, string(data))
	}
	resp, backup := doJSON(t, srv.Client(), http.MethodGet, base+"/backup", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export: %d %s", resp.StatusCode, string(backup))
	}

	resp, data = doJSON(t, srv.Client(), http.MethodDelete, base+"/orders/OP-2025-001", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: %d %s", resp.StatusCode, string(data))
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPut, base+"/backup", json.RawMessage(backup), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import: %d %s", resp.StatusCode, string(data))
	}
	resp, data = doJSON(t, srv.Client(), http.MethodGet, base+"/orders/OP-2025-001", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("order should be restored: %d %s", resp.StatusCode, string(data))
	}

	resp, data = doJSON(t, srv.Client(), http.MethodPut, base+"/backup", []byte(`{"version":`), nil)
	expectError(t, resp, data, http.StatusBadRequest, "invalid_backup")
}
