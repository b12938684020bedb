// Package planner talks to the remote planning service: it fetches the
// step schema and requests validated plans for user goals.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/quickbar/pkg/logging"
	"github.com/entrhq/quickbar/pkg/types"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrTransport is returned when the planner cannot be reached or answers
	// with a non-success status.
	ErrTransport = errors.New("planner: transport error")

	// ErrInvalidPlan is returned when the payload is not a plan object.
	ErrInvalidPlan = errors.New("planner: invalid plan")

	// ErrInvalidStep is returned when a step is malformed or uses a tool
	// outside the allowed set.
	ErrInvalidStep = errors.New("planner: invalid step")
)

const (
	// maxResponseBytes bounds how much of a planner response is read.
	maxResponseBytes = 4 << 20

	// DefaultSchemaTimeout bounds a shared schema fetch.
	DefaultSchemaTimeout = 10 * time.Second
)

var log *logging.Logger

func init() {
	var err error
	log, err = logging.NewLogger("planner")
	if err != nil {
		// Logger fell back to stderr due to initialization failure
		log.Warnf("Failed to initialize planner logger, using stderr fallback: %v", err)
	}
}

// Request is the body of a plan request.
type Request struct {
	UserGoal string `json:"user_goal"`

	// Tab is the shared page context when the user supplied one, otherwise
	// the tab's url/title/domain.
	Tab any `json:"tab"`

	UserSentTab            bool   `json:"user_sent_tab"`
	UserConfirmedTaskStart bool   `json:"user_confirmed_task_start"`
	Mode                   string `json:"mode"`
	SearchEngineOverride   string `json:"search_engine_override,omitempty"`
}

// NewRequest builds a plan request. A non-nil shared context takes the
// place of the tab info and marks the context as user supplied.
func NewRequest(goal string, shared *types.PageContext, info types.TabInfo, opts types.TaskOptions) Request {
	req := Request{
		UserGoal:               goal,
		Tab:                    info,
		UserConfirmedTaskStart: true,
		Mode:                   opts.Mode,
		SearchEngineOverride:   opts.EngineOverride,
	}
	if shared != nil {
		req.Tab = shared
		req.UserSentTab = true
	}
	return req
}

// Client is a planner service client. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	allowed ToolFilter

	schemaTimeout time.Duration
	fetches       singleflight.Group

	mu     sync.RWMutex
	schema json.RawMessage
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout bounds each request. Zero leaves requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithSchemaTimeout bounds the shared schema fetch.
func WithSchemaTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.schemaTimeout = d
	}
}

// WithToolFilter restricts the tools a plan may use.
func WithToolFilter(allowed ToolFilter) Option {
	return func(c *Client) {
		c.allowed = allowed
	}
}

// NewClient creates a client for the planner at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{},
		schemaTimeout: DefaultSchemaTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchSchema returns the planner's step schema. A successful fetch is
// cached for the life of the client; on failure it returns nil and the
// next call tries again.
//
// Concurrent callers share one request. Each caller waits only as long as
// its own ctx allows, and the shared request is bounded by the schema
// timeout rather than by whichever caller started it.
func (c *Client) FetchSchema(ctx context.Context) json.RawMessage {
	c.mu.RLock()
	schema := c.schema
	c.mu.RUnlock()
	if schema != nil {
		return schema
	}

	ch := c.fetches.DoChan("schema", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.schemaTimeout)
		defer cancel()

		body, err := c.fetchSchema(fetchCtx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.schema = body
		c.mu.Unlock()
		return body, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			log.Warnf("Schema fetch failed: %v", res.Err)
			return nil
		}
		return res.Val.(json.RawMessage)
	case <-ctx.Done():
		return nil
	}
}

func (c *Client) fetchSchema(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/schema", nil)
	if err != nil {
		return nil, fmt.Errorf("building schema request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("schema returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading schema: %w", err)
	}
	if !json.Valid(body) {
		return nil, errors.New("schema response is not JSON")
	}
	return body, nil
}

// RequestPlan asks the planner for a plan and validates it.
func (c *Client) RequestPlan(ctx context.Context, planReq Request) (*types.Plan, error) {
	payload, err := json.Marshal(planReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/plan", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: planner error %d", ErrTransport, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	plan, err := Validate(body, c.allowed)
	if err != nil {
		return nil, err
	}

	log.Debugf("Plan received with %d steps", len(plan.Steps))
	return plan, nil
}
