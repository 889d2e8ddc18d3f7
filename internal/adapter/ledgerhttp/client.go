// Package ledgerhttp implements ledger.Client against the approval ledger's
// HTTP API.
package ledgerhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	cfotel "github.com/Strob0t/deskgate/internal/adapter/otel"
	"github.com/Strob0t/deskgate/internal/domain"
	"github.com/Strob0t/deskgate/internal/domain/approval"
	"github.com/Strob0t/deskgate/internal/logger"
	"github.com/Strob0t/deskgate/internal/port/ledger"
	"github.com/Strob0t/deskgate/internal/resilience"
)

var _ ledger.Client = (*Client)(nil)

const maxResponseBody = 4 << 20

// Client talks to the ledger over HTTP. Calls go through an optional
// circuit breaker; identical concurrent List calls share one request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
	lists      singleflight.Group
}

// NewClient creates a ledger client for baseURL. timeout bounds each call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: cfotel.HTTPTransport(http.DefaultTransport),
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// IsTransportFailure reports whether err should count against the breaker.
// Verdicts from the ledger (not found, conflict, validation) do not.
func IsTransportFailure(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrValidation):
		return false
	}
	return true
}

// errorBody is the ledger's error response. Conflicts carry the current record.
type errorBody struct {
	Error  string           `json:"error"`
	Record *approval.Record `json:"record,omitempty"`
}

// Create posts a new record. The desktop request ID doubles as the
// idempotency key so a retried create does not duplicate the record.
func (c *Client) Create(ctx context.Context, req approval.CreateRequest) (*approval.Record, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal create: %w", err)
	}
	hdr := http.Header{}
	if req.OrganizationID != "" {
		hdr.Set("X-Organization-ID", req.OrganizationID)
	}
	if id := req.Payload.DesktopRequestID; id != "" {
		hdr.Set("Idempotency-Key", id)
	}

	var rec approval.Record
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/approvals", hdr, body, &rec); err != nil {
		return nil, fmt.Errorf("create approval: %w", err)
	}
	return &rec, nil
}

// Get fetches one record.
func (c *Client) Get(ctx context.Context, id string) (*approval.Record, error) {
	var rec approval.Record
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/approvals/"+url.PathEscape(id), nil, nil, &rec); err != nil {
		return nil, fmt.Errorf("get approval %s: %w", id, err)
	}
	return &rec, nil
}

// Decide posts a decision. On conflict the current record is returned
// together with an error wrapping domain.ErrConflict.
func (c *Client) Decide(ctx context.Context, id string, req approval.DecideRequest) (*approval.Record, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal decide: %w", err)
	}
	var rec approval.Record
	conflict, err := c.do(ctx, http.MethodPost, "/api/v1/approvals/"+url.PathEscape(id)+"/decide", nil, body, &rec)
	if err != nil {
		if conflict != nil {
			return conflict, fmt.Errorf("decide approval %s: %w", id, err)
		}
		return nil, fmt.Errorf("decide approval %s: %w", id, err)
	}
	return &rec, nil
}

// List fetches records matching filter.
func (c *Client) List(ctx context.Context, filter approval.ListFilter) ([]approval.Record, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.OrganizationID != "" {
		q.Set("organization_id", filter.OrganizationID)
	}
	if filter.SessionID != "" {
		q.Set("session_id", filter.SessionID)
	}
	if filter.ToolName != "" {
		q.Set("tool_name", filter.ToolName)
	}
	if filter.RiskLevel != "" {
		q.Set("risk_level", string(filter.RiskLevel))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/v1/approvals"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	v, err, _ := c.lists.Do(path, func() (any, error) {
		var out []approval.Record
		if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
			return nil, err
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	recs, _ := v.([]approval.Record)
	out := make([]approval.Record, len(recs))
	copy(out, recs)
	return out, nil
}

// do performs one call. For a 409 it returns the record carried in the
// error body, if any.
func (c *Client) do(ctx context.Context, method, path string, hdr http.Header, body []byte, out any) (*approval.Record, error) {
	var conflict *approval.Record
	call := func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		for k, v := range hdr {
			req.Header[k] = v
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if id := logger.RequestID(ctx); id != "" {
			req.Header.Set("X-Request-ID", id)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			var eb errorBody
			_ = json.Unmarshal(data, &eb)
			msg := eb.Error
			if msg == "" {
				msg = strings.TrimSpace(string(data))
			}
			switch resp.StatusCode {
			case http.StatusNotFound:
				return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
			case http.StatusConflict:
				conflict = eb.Record
				return fmt.Errorf("%w: %s", domain.ErrConflict, msg)
			case http.StatusBadRequest, http.StatusUnprocessableEntity:
				return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
			}
			return fmt.Errorf("ledger API error %d: %s", resp.StatusCode, msg)
		}

		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}
	return conflict, err
}
