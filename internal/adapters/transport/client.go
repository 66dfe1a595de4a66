// Package transport is the dialog's network collaborator: it fetches the
// session context from the collector and uploads finished records.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/types"
	"github.com/okian/dialogkpi/pkg/logger"
)

// Collector endpoints.
const (
	PathSession = "/session"
	PathKPI     = "/kpi"
)

const (
	defaultTimeout  = 5 * time.Second
	maxResponseBody = 1 << 20
)

// Client talks to the KPI collector.
type Client struct {
	baseURL     string
	http        *http.Client
	timeout     time.Duration
	compression Compression
	logger      logger.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCompression sets the upload body encoding.
func WithCompression(comp Compression) Option {
	return func(c *Client) { c.compression = comp }
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for the collector at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		timeout: defaultTimeout,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch asks the collector for the session context.
func (c *Client) Fetch(ctx context.Context) (model.SessionContext, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathSession, http.NoBody)
	if err != nil {
		return model.SessionContext{}, fmt.Errorf("%w: %w", ErrFetchContext, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.SessionContext{}, fmt.Errorf("%w: %w", ErrFetchContext, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.SessionContext{}, fmt.Errorf("%w: status %d: %s", ErrFetchContext, resp.StatusCode, readError(resp.Body))
	}
	var sc model.SessionContext
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&sc); err != nil {
		return model.SessionContext{}, fmt.Errorf("%w: decode: %w", ErrFetchContext, err)
	}
	return sc, nil
}

// Upload posts rec to the collector. A duplicate acknowledgement counts
// as success; any non-2xx status wraps ErrUploadRejected.
func (c *Client) Upload(ctx context.Context, rec *model.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	body, err = Encode(c.compression, body)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathKPI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if enc := c.compression.ContentEncoding(); enc != "" {
		req.Header.Set("Content-Encoding", enc)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d: %s", ErrUploadRejected, resp.StatusCode, readError(resp.Body))
	}

	var ack types.Ack
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&ack); err == nil && ack.Duplicate {
		c.logger.Debug(ctx, "collector already had record", logger.String("record_id", rec.ID))
	}
	return nil
}

// readError extracts the message of a collector error body.
func readError(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxResponseBody))
	var er types.ErrorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Message != "" {
		return er.Message
	}
	return strings.TrimSpace(string(data))
}
