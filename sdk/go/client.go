package printflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Printflow HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Item is one panel or oneway line of an order.
type Item struct {
	Position    int      `json:"position,omitempty"`
	Kind        string   `json:"kind"`
	Type        string   `json:"type"`
	Height      float64  `json:"height,omitempty"`
	Width       float64  `json:"width,omitempty"`
	ContentTags []string `json:"content_tags,omitempty"`
	Manuscript  string   `json:"manuscript,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID           int64  `json:"id"`
	OrderID      int64  `json:"order_id"`
	Type         string `json:"type"`
	AssigneeID   *int64 `json:"assignee_id"`
	Status       string `json:"status"`
	UploadedFile string `json:"uploaded_file"`
	Version      int64  `json:"version"`
}

// Action is something the caller may do next.
type Action struct {
	Kind  string `json:"kind"`
	Stage string `json:"stage"`
	Label string `json:"label"`
}

// Order represents an order with its tasks.
type Order struct {
	ID             int64    `json:"id"`
	Status         string   `json:"status"`
	ObservedStatus string   `json:"observed_status"`
	CustomerName   string   `json:"customer_name"`
	Zone           string   `json:"zone"`
	PropertyName   string   `json:"property_name"`
	Items          []Item   `json:"items"`
	Version        int64    `json:"version"`
	Tasks          []Task   `json:"tasks"`
	Actions        []Action `json:"actions"`
	UpdatedAt      string   `json:"updated_at"`
}

// PendingTask is a task waiting on the caller.
type PendingTask struct {
	Task
	CustomerName  string `json:"customer_name"`
	OrderStatus   string `json:"order_status"`
	RejectComment string `json:"reject_comment"`
}

// Event represents a log entry.
type Event struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	OrderID *int64         `json:"order_id"`
	ActorID int64          `json:"actor_id"`
	Payload map[string]any `json:"payload"`
}

// Transition describes a workflow action request.
type Transition struct {
	Action          string `json:"action"`
	Stage           string `json:"stage,omitempty"`
	AssigneeID      int64  `json:"assignee_id,omitempty"`
	FileRef         string `json:"file_ref,omitempty"`
	Comment         string `json:"comment,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

// APIError wraps non-2xx responses. Code carries the error envelope code
// when the body could be decoded, e.g. "wrong_status" or "not_assignee".
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedOrders wraps order listings with cursors.
type PaginatedOrders struct {
	Items      []Order `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateOrder creates an order in CREATED.
func (c *Client) CreateOrder(ctx context.Context, customer, zone string, items []Item) (Order, error) {
	body := map[string]any{
		"customer_name": customer,
		"zone":          zone,
		"items":         items,
	}
	var resp Order
	err := c.do(ctx, http.MethodPost, "orders", body, &resp)
	return resp, err
}

// GetOrder fetches an order with tasks and the caller's actions.
func (c *Client) GetOrder(ctx context.Context, id int64) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("orders/%d", id), nil, &resp)
	return resp, err
}

// ListOrders returns one page of orders; status may be stored or observed.
func (c *Client) ListOrders(ctx context.Context, status string, limit int, cursor string) (PaginatedOrders, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedOrders
	err := c.do(ctx, http.MethodGet, withQuery("orders", q), nil, &resp)
	return resp, err
}

// Transition applies a workflow action.
func (c *Client) Transition(ctx context.Context, orderID int64, t Transition) (Order, error) {
	var resp Order
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("orders/%d/transitions", orderID), t, &resp)
	return resp, err
}

// UploadDesign uploads the design file and completes the DESIGN task.
func (c *Client) UploadDesign(ctx context.Context, orderID int64, filename string, content []byte) (Order, error) {
	body := map[string]any{
		"filename": filename,
		"content":  content,
	}
	var resp Order
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("orders/%d/design", orderID), body, &resp)
	return resp, err
}

// PendingTasks lists tasks waiting on the caller.
func (c *Client) PendingTasks(ctx context.Context) ([]PendingTask, error) {
	var resp struct {
		Items []PendingTask `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "me/tasks/pending", nil, &resp)
	return resp.Items, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
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

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
