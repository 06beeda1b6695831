// pkg/erp/client.go
package erp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/David-Botos/erp-ingress/pkg/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Doc is a document as exchanged with the REST API
type Doc = map[string]any

// Filter is one [field, operator, value] condition
type Filter = []any

// ListOptions shapes a list query
type ListOptions struct {
	Fields     []string
	Filters    []Filter
	OrderBy    string
	Start      int
	PageLength int
}

// Stats counts traffic through the client
type Stats struct {
	Requests int64
	Retries  int64
}

// Client talks to the ERP REST API. Every call goes through one retry
// middleware and one throttle.
type Client struct {
	baseURL  string
	auth     string
	http     *http.Client
	retry    *RetryTransport
	throttle *Throttle
	pageSize int
	logger   *zap.Logger
	requests atomic.Int64
}

// NewClient creates a client from configuration
func NewClient(cfg *config.ERPConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("ERP configuration cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	policy := RetryPolicy{
		MaxRetries:     cfg.RetryAttempts,
		BaseDelay:      cfg.RetryBase,
		MaxDelay:       DefaultRetryPolicy().MaxDelay,
		Statuses:       cfg.RetryStatuses,
		AttemptTimeout: cfg.RequestTimeout,
	}

	return NewClientWithTransport(cfg.URL, cfg.APIKey, cfg.APISecret,
		NewRetryTransport(http.DefaultTransport, policy, logger),
		NewThrottle(cfg.CallDelay), cfg.PageSize, logger), nil
}

// NewClientWithTransport wires a client around an existing retry transport
func NewClientWithTransport(baseURL, apiKey, apiSecret string, rt *RetryTransport, throttle *Throttle, pageSize int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Client{
		baseURL:  trimSlash(baseURL),
		auth:     fmt.Sprintf("token %s:%s", apiKey, apiSecret),
		http:     &http.Client{Transport: rt},
		retry:    rt,
		throttle: throttle,
		pageSize: pageSize,
		logger:   logger.Named("erp-client"),
	}
}

// Stats returns request and retry counters
func (c *Client) Stats() Stats {
	return Stats{Requests: c.requests.Load(), Retries: c.retry.Retries()}
}

// Ping verifies credentials and returns the logged-in user
func (c *Client) Ping(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, "ping", http.MethodGet, "/api/method/frappe.auth.get_logged_user", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// List returns one page of documents
func (c *Client) List(ctx context.Context, doctype string, opts ListOptions) ([]Doc, error) {
	q := url.Values{}
	if len(opts.Fields) > 0 {
		b, err := json.Marshal(opts.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to encode fields: %w", err)
		}
		q.Set("fields", string(b))
	}
	if len(opts.Filters) > 0 {
		b, err := json.Marshal(opts.Filters)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filters: %w", err)
		}
		q.Set("filters", string(b))
	}
	if opts.OrderBy != "" {
		q.Set("order_by", opts.OrderBy)
	}
	pageLength := opts.PageLength
	if pageLength <= 0 {
		pageLength = c.pageSize
	}
	q.Set("limit_start", strconv.Itoa(opts.Start))
	q.Set("limit_page_length", strconv.Itoa(pageLength))

	var out struct {
		Data []Doc `json:"data"`
	}
	if err := c.do(ctx, "list "+doctype, http.MethodGet, resourcePath(doctype), q, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// ListAll pages through every document matching opts
func (c *Client) ListAll(ctx context.Context, doctype string, opts ListOptions) ([]Doc, error) {
	pageLength := opts.PageLength
	if pageLength <= 0 {
		pageLength = c.pageSize
	}

	var all []Doc
	for start := opts.Start; ; start += pageLength {
		page := opts
		page.Start = start
		page.PageLength = pageLength

		docs, err := c.List(ctx, doctype, page)
		if err != nil {
			return nil, err
		}
		all = append(all, docs...)
		if len(docs) < pageLength {
			break
		}
	}

	c.logger.Debug("Listed documents",
		zap.String("doctype", doctype),
		zap.Int("count", len(all)))
	return all, nil
}

// Get fetches one document by name
func (c *Client) Get(ctx context.Context, doctype, name string) (Doc, error) {
	var out struct {
		Data Doc `json:"data"`
	}
	if err := c.do(ctx, "get "+doctype, http.MethodGet, resourcePath(doctype, name), nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Create inserts a document and returns it as stored
func (c *Client) Create(ctx context.Context, doctype string, doc Doc) (Doc, error) {
	var out struct {
		Data Doc `json:"data"`
	}
	op := "create " + doctype
	if err := c.do(ctx, op, http.MethodPost, resourcePath(doctype), nil, doc, &out); err != nil {
		return nil, err
	}
	if name, _ := out.Data["name"].(string); name == "" {
		return nil, &ClientError{Op: op, Status: http.StatusOK, Message: "response carried no document name"}
	}
	return out.Data, nil
}

// Update writes the given fields onto an existing document
func (c *Client) Update(ctx context.Context, doctype, name string, fields Doc) (Doc, error) {
	var out struct {
		Data Doc `json:"data"`
	}
	if err := c.do(ctx, "update "+doctype, http.MethodPut, resourcePath(doctype, name), nil, fields, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// Submit moves a draft to submitted. The current document is fetched first
// because the submit method expects the full document.
func (c *Client) Submit(ctx context.Context, doctype, name string) (Doc, error) {
	doc, err := c.Get(ctx, doctype, name)
	if err != nil {
		return nil, err
	}

	var out struct {
		Message Doc `json:"message"`
	}
	op := "submit " + doctype
	if err := c.do(ctx, op, http.MethodPost, "/api/method/frappe.client.submit", nil, Doc{"doc": doc}, &out); err != nil {
		return nil, err
	}
	if DocStatus(out.Message) != 1 {
		return nil, &ClientError{Op: op, Status: http.StatusOK, Message: "submit did not return docstatus=1"}
	}
	return out.Message, nil
}

// Cancel moves a submitted document to cancelled
func (c *Client) Cancel(ctx context.Context, doctype, name string) error {
	body := Doc{"doctype": doctype, "name": name}
	return c.do(ctx, "cancel "+doctype, http.MethodPost, "/api/method/frappe.client.cancel", nil, body, nil)
}

// DocStatus reads docstatus from a document, 0 when absent
func DocStatus(doc Doc) int {
	switch v := doc["docstatus"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, out any) error {
	if err := c.throttle.Wait(ctx); err != nil {
		return &ClientError{Op: op, Message: err.Error(), Err: err}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode body: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.requests.Add(1)
	resp, err := c.http.Do(req)
	if err != nil {
		return &ClientError{Op: op, Message: transportMessage(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ClientError{Op: op, Status: resp.StatusCode, Message: "failed to read response: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ClientError{Op: op, Status: resp.StatusCode, Message: decodeErrorMessage(resp.StatusCode, data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ClientError{Op: op, Status: resp.StatusCode, Message: "invalid JSON response", Err: err}
	}
	return nil
}

func transportMessage(err error) string {
	var ue *url.Error
	if errors.As(err, &ue) {
		if ue.Timeout() {
			return "request timeout"
		}
		return "network error: " + ue.Err.Error()
	}
	return err.Error()
}

func resourcePath(doctype string, name ...string) string {
	p := "/api/resource/" + url.PathEscape(doctype)
	for _, n := range name {
		p += "/" + url.PathEscape(n)
	}
	return p
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
