package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"plantdash/internal/config"
	"plantdash/internal/domain"
	"plantdash/internal/repo"
)

// Hosted table names.
const (
	TableConfig          = "config"
	TableCollections     = "coletas"
	TableOrders          = "ordens"
	TableNonConformances = "nao_conformidades"
	TableReports         = "relatorios"
	TableAudit           = "audit_log"
)

const defaultCloudTimeout = 10 * time.Second

// ErrQueued wraps a write that could not reach the hosted service and was
// stored in the offline queue for a later Flush.
var ErrQueued = errors.New("hosted backend unreachable; write queued")

// APIError is a non-2xx answer from the hosted service.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hosted backend error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
}

// Cloud talks to a PostgREST-style service under /rest/v1. Every row it
// writes carries the configured user id and every read is scoped to it.
type Cloud struct {
	http   *resty.Client
	userID string
	logger *zap.Logger
	// Offline receives writes that fail to reach the service. Nil disables queueing.
	Offline *repo.Repo

	now func() time.Time

	mu         sync.RWMutex
	subs       map[string]map[int]func(any)
	nextSub    int
	closeLocal func() error
}

func NewCloud(cfg config.CloudSettings, log *zap.Logger) *Cloud {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCloudTimeout
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.URL, "/")+"/rest/v1").
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Cloud{
		http:   client,
		userID: cfg.UserID,
		logger: log.Named("cloud"),
		now:    time.Now,
		subs:   make(map[string]map[int]func(any)),
	}
}

// Init checks that the service answers.
func (c *Cloud) Init(ctx context.Context) error {
	var rows []json.RawMessage
	return c.get(ctx, TableConfig, map[string]string{"select": "key", "limit": "1"}, &rows)
}

func (c *Cloud) scope() string { return "eq." + c.userID }

func (c *Cloud) get(ctx context.Context, table string, query map[string]string, out any) error {
	apiErr := &APIError{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetQueryParam("user_id", c.scope()).
		SetResult(out).
		SetError(apiErr).
		Get(table)
	if err != nil {
		return fmt.Errorf("get %s: %w", table, err)
	}
	return checkStatus(resp, apiErr)
}

func checkStatus(resp *resty.Response, apiErr *APIError) error {
	if resp.StatusCode() >= http.StatusBadRequest {
		apiErr.Status = resp.StatusCode()
		return apiErr
	}
	return nil
}

// row flattens v into a JSON object carrying user_id.
func (c *Cloud) row(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["user_id"] = c.userID
	return m, nil
}

// upsert writes v and decodes the stored representation into out.
func (c *Cloud) upsert(ctx context.Context, table, conflict string, v any, out any) error {
	body, err := c.row(v)
	if err != nil {
		return fmt.Errorf("encode %s row: %w", table, err)
	}
	var rows []json.RawMessage
	apiErr := &APIError{}
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Prefer", "resolution=merge-duplicates,return=representation").
		SetBody(body).
		SetResult(&rows).
		SetError(apiErr)
	if conflict != "" {
		req.SetQueryParam("on_conflict", conflict)
	}
	resp, err := req.Post(table)
	if err != nil {
		return c.queue(ctx, "upsert", table, body, err)
	}
	if err := checkStatus(resp, apiErr); err != nil {
		return err
	}
	if out != nil && len(rows) > 0 {
		if err := json.Unmarshal(rows[0], out); err != nil {
			return fmt.Errorf("decode %s row: %w", table, err)
		}
	}
	return nil
}

func (c *Cloud) remove(ctx context.Context, table, id string) error {
	apiErr := &APIError{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("id", "eq."+id).
		SetQueryParam("user_id", c.scope()).
		SetError(apiErr).
		Delete(table)
	if err != nil {
		return c.queue(ctx, "delete", table, map[string]string{"id": id}, err)
	}
	return checkStatus(resp, apiErr)
}

func (c *Cloud) queue(ctx context.Context, op, table string, payload any, cause error) error {
	if c.Offline == nil {
		return fmt.Errorf("%s %s: %w", op, table, cause)
	}
	if _, err := c.Offline.EnqueueOffline(ctx, op, table, payload); err != nil {
		return fmt.Errorf("%s %s: %w (queue failed: %v)", op, table, cause, err)
	}
	c.logger.Warn("write queued", zap.String("op", op), zap.String("table", table), zap.Error(cause))
	return fmt.Errorf("%w: %s %s: %v", ErrQueued, op, table, cause)
}

// Flush replays queued writes in order and stops at the first failure.
// It returns how many were delivered.
func (c *Cloud) Flush(ctx context.Context) (int, error) {
	if c.Offline == nil {
		return 0, nil
	}
	items, err := c.Offline.GetOfflineQueue(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, item := range items {
		if err := c.replay(ctx, item); err != nil {
			if _, merr := c.Offline.MarkOfflineAttempt(ctx, item.ID); merr != nil {
				c.logger.Warn("mark offline attempt", zap.String("id", item.ID), zap.Error(merr))
			}
			return sent, fmt.Errorf("replay %s %s: %w", item.Operation, item.Collection, err)
		}
		if err := c.Offline.RemoveOfflineItem(ctx, item.ID); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (c *Cloud) replay(ctx context.Context, item domain.OfflineItem) error {
	apiErr := &APIError{}
	var (
		resp *resty.Response
		err  error
	)
	switch item.Operation {
	case "upsert":
		resp, err = c.http.R().
			SetContext(ctx).
			SetHeader("Prefer", "resolution=merge-duplicates").
			SetBody([]byte(item.Payload)).
			SetError(apiErr).
			Post(item.Collection)
	case "delete":
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			return err
		}
		resp, err = c.http.R().
			SetContext(ctx).
			SetQueryParam("id", "eq."+p.ID).
			SetQueryParam("user_id", c.scope()).
			SetError(apiErr).
			Delete(item.Collection)
	default:
		return fmt.Errorf("unknown queued operation %q", item.Operation)
	}
	if err != nil {
		return err
	}
	return checkStatus(resp, apiErr)
}

func (c *Cloud) GetConfig(ctx context.Context, key string) (any, error) {
	var rows []struct {
		Value any `json:"value"`
	}
	if err := c.get(ctx, TableConfig, map[string]string{"key": "eq." + key, "select": "value"}, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].Value, nil
}

// SetConfig upserts key and then notifies local subscribers.
func (c *Cloud) SetConfig(ctx context.Context, key string, value any) error {
	if key == "" {
		return errors.New("config key required")
	}
	row := map[string]any{"key": key, "value": value}
	if err := c.upsert(ctx, TableConfig, "user_id,key", row, nil); err != nil {
		return err
	}
	c.fire(key, value)
	return nil
}

func (c *Cloud) OnConfigChange(key string, fn func(any)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	if c.subs[key] == nil {
		c.subs[key] = make(map[int]func(any))
	}
	c.subs[key][id] = fn
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs[key], id)
		})
	}
}

func (c *Cloud) fire(key string, value any) {
	c.mu.RLock()
	ids := make([]int, 0, len(c.subs[key]))
	for id := range c.subs[key] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(any), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[key][id])
	}
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(value)
	}
}

func (c *Cloud) GetCollectionRecords(ctx context.Context) ([]domain.CollectionRecord, error) {
	var out []domain.CollectionRecord
	err := c.get(ctx, TableCollections, map[string]string{"order": "datetime.asc"}, &out)
	return out, err
}

func (c *Cloud) SaveCollectionRecord(ctx context.Context, rec domain.CollectionRecord) (domain.CollectionRecord, error) {
	rec.Normalize(c.now())
	if err := rec.Validate(); err != nil {
		return rec, err
	}
	out := rec
	err := c.upsert(ctx, TableCollections, "", rec, &out)
	return out, err
}

func (c *Cloud) DeleteCollectionRecord(ctx context.Context, id string) error {
	return c.remove(ctx, TableCollections, id)
}

func (c *Cloud) GetProductionOrders(ctx context.Context) ([]domain.ProductionOrder, error) {
	var out []domain.ProductionOrder
	err := c.get(ctx, TableOrders, map[string]string{"order": "id.asc"}, &out)
	return out, err
}

// nextSerial allocates PREFIX-YEAR-NNN from the ids already stored in table.
func (c *Cloud) nextSerial(ctx context.Context, table, prefix string, year int) (string, error) {
	var rows []struct {
		ID string `json:"id"`
	}
	query := map[string]string{"select": "id", "id": fmt.Sprintf("like.%s-%d-*", prefix, year)}
	if err := c.get(ctx, table, query, &rows); err != nil {
		return "", err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return domain.NextSerial(prefix, year, ids), nil
}

// SaveProductionOrder upserts an order. An empty id gets the next OP serial.
func (c *Cloud) SaveProductionOrder(ctx context.Context, o domain.ProductionOrder) (domain.ProductionOrder, error) {
	if o.ID == "" {
		id, err := c.nextSerial(ctx, TableOrders, "OP", c.now().Year())
		if err != nil {
			return o, err
		}
		o.ID = id
	}
	o.Normalize()
	if err := o.Validate(); err != nil {
		return o, err
	}
	out := o
	err := c.upsert(ctx, TableOrders, "id", o, &out)
	return out, err
}

func (c *Cloud) DeleteProductionOrder(ctx context.Context, id string) error {
	return c.remove(ctx, TableOrders, id)
}

func (c *Cloud) GetNonConformances(ctx context.Context) ([]domain.NonConformance, error) {
	var out []domain.NonConformance
	err := c.get(ctx, TableNonConformances, map[string]string{"order": "date.desc"}, &out)
	return out, err
}

// SaveNonConformance upserts an entry. An empty id gets the next NC serial.
func (c *Cloud) SaveNonConformance(ctx context.Context, n domain.NonConformance) (domain.NonConformance, error) {
	n.Normalize(c.now())
	if n.ID == "" {
		id, err := c.nextSerial(ctx, TableNonConformances, "NC", n.Date.Year())
		if err != nil {
			return n, err
		}
		n.ID = id
	}
	if err := n.Validate(); err != nil {
		return n, err
	}
	out := n
	err := c.upsert(ctx, TableNonConformances, "id", n, &out)
	return out, err
}

func (c *Cloud) DeleteNonConformance(ctx context.Context, id string) error {
	return c.remove(ctx, TableNonConformances, id)
}

func (c *Cloud) GetReports(ctx context.Context) ([]domain.Report, error) {
	var out []domain.Report
	err := c.get(ctx, TableReports, map[string]string{"order": "generatedAt.desc"}, &out)
	return out, err
}

func (c *Cloud) SaveReport(ctx context.Context, r domain.Report) (domain.Report, error) {
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = c.now()
	}
	if err := r.Validate(); err != nil {
		return r, err
	}
	out := r
	err := c.upsert(ctx, TableReports, "id", r, &out)
	return out, err
}

func (c *Cloud) DeleteReport(ctx context.Context, id string) error {
	return c.remove(ctx, TableReports, id)
}

func (c *Cloud) AddAuditLog(ctx context.Context, user, action string) error {
	entry := domain.AuditLogEntry{Timestamp: c.now(), User: user, Action: action}
	return c.upsert(ctx, TableAudit, "", entry, nil)
}

// Close releases the local database used for the offline queue.
func (c *Cloud) Close() error {
	if c.closeLocal != nil {
		return c.closeLocal()
	}
	return nil
}
