package plantdashsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal plantdash HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// User is sent as X-User; servers without a JWT secret record it in the audit log.
	User       string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Order represents a production order.
type Order struct {
	ID        string     `json:"id"`
	Product   string     `json:"product"`
	Quantity  int        `json:"quantity"`
	Produced  int        `json:"produced"`
	Status    string     `json:"status"`
	Paused    bool       `json:"paused,omitempty"`
	Priority  string     `json:"priority"`
	StartDate *time.Time `json:"startDate,omitempty"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	Progress  int        `json:"progress"`
}

// NonConformance represents a logged quality defect.
type NonConformance struct {
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	Description       string     `json:"description"`
	Severity          string     `json:"severity"`
	Status            string     `json:"status"`
	Date              time.Time  `json:"date"`
	CorrectiveActions string     `json:"correctiveActions,omitempty"`
	ResolvedDate      *time.Time `json:"resolvedDate,omitempty"`
}

// Stats mirrors the dashboard summary.
type Stats struct {
	TotalProduced      int       `json:"totalProduced"`
	TotalRejected      int       `json:"totalRejected"`
	ApprovalRate       float64   `json:"approvalRate"`
	Efficiency         float64   `json:"efficiency"`
	OpenNCsToday       int       `json:"openNCsToday"`
	ResolvedNCsToday   int       `json:"resolvedNCsToday"`
	ActiveOrders       int       `json:"activeOrders"`
	PendingCollections int       `json:"pendingCollections"`
	CalculatedAt       time.Time `json:"calculatedAt"`
	Cached             bool      `json:"cached"`
}

// History holds seven days of quality figures, oldest first.
type History struct {
	ApprovalRates   []float64 `json:"approvalRates"`
	NCCounts        []int     `json:"ncCounts"`
	ResolutionHours []float64 `json:"resolutionHours"`
	Dates           []string  `json:"dates"`
}

// Backup is a full export; records are left as raw JSON.
type Backup struct {
	Timestamp int64                        `json:"timestamp"`
	Version   int                          `json:"version"`
	Data      map[string][]json.RawMessage `json:"data"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	e, ok := err.(*APIError)
	return ok && e.StatusCode == http.StatusNotFound
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

// Stats returns the dashboard summary; refresh forces a recomputation.
func (c *Client) Stats(ctx context.Context, refresh bool) (Stats, error) {
	endpoint := "stats"
	if refresh {
		endpoint += "?refresh=true"
	}
	var resp Stats
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) QualityHistory(ctx context.Context) (History, error) {
	var resp History
	err := c.do(ctx, http.MethodGet, "stats/history", nil, &resp)
	return resp, err
}

// Orders lists production orders, optionally filtered by status.
func (c *Client) Orders(ctx context.Context, status string) ([]Order, error) {
	endpoint := "orders"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp listResponse[Order]
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// CreateOrder creates an order; the server assigns OP-YYYY-NNN ids.
func (c *Client) CreateOrder(ctx context.Context, product string, quantity int, priority string) (Order, error) {
	body := map[string]any{
		"product":  product,
		"quantity": quantity,
	}
	if priority != "" {
		body["priority"] = priority
	}
	var resp Order
	err := c.do(ctx, http.MethodPost, "orders", body, &resp)
	return resp, err
}

// OrderAction applies start, pause, resume, cancel, complete or tick.
func (c *Client) OrderAction(ctx context.Context, id, action string) (Order, error) {
	var resp Order
	endpoint := fmt.Sprintf("orders/%s/%s", url.PathEscape(id), url.PathEscape(action))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// NonConformances lists entries dated from through to (inclusive days,
// YYYY-MM-DD). Empty bounds list everything.
func (c *Client) NonConformances(ctx context.Context, from, to string) ([]NonConformance, error) {
	q := url.Values{}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	endpoint := "non-conformances"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp listResponse[NonConformance]
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateNonConformance(ctx context.Context, ncType, description, severity string) (NonConformance, error) {
	body := map[string]any{
		"type":        ncType,
		"description": description,
	}
	if severity != "" {
		body["severity"] = severity
	}
	var resp NonConformance
	err := c.do(ctx, http.MethodPost, "non-conformances", body, &resp)
	return resp, err
}

func (c *Client) ResolveNonConformance(ctx context.Context, id, actions string) (NonConformance, error) {
	var resp NonConformance
	endpoint := fmt.Sprintf("non-conformances/%s/resolve", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"correctiveActions": actions}, &resp)
	return resp, err
}

// GetConfig decodes the value stored under key into out.
func (c *Client) GetConfig(ctx context.Context, key string, out any) error {
	var resp struct {
		Value json.RawMessage `json:"value"`
	}
	if err := c.do(ctx, http.MethodGet, "config/"+url.PathEscape(key), nil, &resp); err != nil {
		return err
	}
	return json.Unmarshal(resp.Value, out)
}

func (c *Client) SetConfig(ctx context.Context, key string, value any) error {
	return c.do(ctx, http.MethodPut, "config/"+url.PathEscape(key), map[string]any{"value": value}, nil)
}

// AddAuditLog records action under the caller's identity.
func (c *Client) AddAuditLog(ctx context.Context, action string) error {
	return c.do(ctx, http.MethodPost, "audit", map[string]any{"action": action}, nil)
}

func (c *Client) Export(ctx context.Context) (Backup, error) {
	var resp Backup
	err := c.do(ctx, http.MethodGet, "backup", nil, &resp)
	return resp, err
}

// Import replaces every collection; an invalid backup returns a 400 and changes nothing.
func (c *Client) Import(ctx context.Context, b Backup) error {
	return c.do(ctx, http.MethodPut, "backup", b, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.User != "" {
		req.Header.Set("X-User", c.User)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
