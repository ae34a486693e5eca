package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/invtrack/syncq/internal/mutation"
)

// IdempotencyHeader carries the record's idempotency key on every write.
const IdempotencyHeader = "Idempotency-Key"

// DefaultTimeout bounds a single HTTP exchange.
const DefaultTimeout = 15 * time.Second

// HTTPConfig holds configuration for the HTTP client.
type HTTPConfig struct {
	// BaseURL is the API root, e.g. https://api.example.com/v1.
	BaseURL string
	// Token, when set, is sent as a bearer token.
	Token string
	// Timeout for one request. Zero uses DefaultTimeout.
	Timeout time.Duration
	// Client overrides the underlying http.Client (tests).
	Client *http.Client
}

// HTTPClient talks to the server's REST API:
//
//	POST {base}/{entity}          create
//	PUT  {base}/{entity}/{id}     update
//	GET  {base}/{entity}/{id}     fetch
//	GET  {base}/health            ping
type HTTPClient struct {
	base   *url.URL
	token  string
	client *http.Client
}

// NewHTTPClient creates a client for cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{base: base, token: cfg.Token, client: client}, nil
}

// wireResponse is the JSON body the server returns for writes and fetches.
type wireResponse struct {
	ID       string         `json:"id"`
	Revision time.Time      `json:"revision"`
	Fields   map[string]any `json:"fields,omitempty"`
}

type wireError struct {
	Error string `json:"error"`
}

// Create implements Remote.
func (c *HTTPClient) Create(ctx context.Context, et mutation.EntityType, key string, fields map[string]any) (Result, error) {
	var resp wireResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint(string(et)), key, fields, &resp); err != nil {
		return Result{}, err
	}
	if resp.ID == "" {
		return Result{}, NewPermanentError(fmt.Errorf("create %s: server returned no id", et))
	}
	return Result{ServerID: resp.ID, Revision: resp.Revision}, nil
}

// Update implements Remote.
func (c *HTTPClient) Update(ctx context.Context, et mutation.EntityType, id, key string, fields map[string]any) (Result, error) {
	var resp wireResponse
	if err := c.do(ctx, http.MethodPut, c.endpoint(string(et), id), key, fields, &resp); err != nil {
		return Result{}, err
	}
	if resp.ID == "" {
		resp.ID = id
	}
	return Result{ServerID: resp.ID, Revision: resp.Revision}, nil
}

// Fetch implements Remote.
func (c *HTTPClient) Fetch(ctx context.Context, et mutation.EntityType, id string) (Snapshot, error) {
	var resp wireResponse
	if err := c.do(ctx, http.MethodGet, c.endpoint(string(et), id), "", nil, &resp); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{ID: resp.ID, Revision: resp.Revision, Fields: resp.Fields}, nil
}

// Ping implements Remote.
func (c *HTTPClient) Ping(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, c.endpoint("health"), "", nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *HTTPClient) endpoint(parts ...string) string {
	u := *c.base
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	u.Path = u.Path + "/" + strings.Join(escaped, "/")
	return u.String()
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint, key string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return NewPermanentError(fmt.Errorf("failed to encode request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return NewPermanentError(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Network failures, refused connections and deadlines are all
		// worth retrying.
		return NewTransientError(fmt.Errorf("%s %s: %w", method, endpoint, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := readError(resp.Body)
		err := fmt.Errorf("%s %s: %d %s", method, endpoint, resp.StatusCode, msg)
		if resp.StatusCode == http.StatusNotFound {
			err = fmt.Errorf("%w: %s", ErrNotFound, err)
		}
		return &CategorizedError{Err: err, Category: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return NewTransientError(fmt.Errorf("failed to decode response from %s %s: %w", method, endpoint, err))
	}
	return nil
}

func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var we wireError
	if json.Unmarshal(data, &we) == nil && we.Error != "" {
		return we.Error
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return "empty response"
}

var _ Remote = (*HTTPClient)(nil)
