package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/http2"

	"github.com/poslab/catsync/internal/config"
	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
)

// HTTPClient wraps the remote catalog API. It is stateless apart from the
// bearer token; the engine is the only caller.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	token     string
	logger    *events.Logger

	maxRetries int
	retryDelay time.Duration
}

// NewHTTPClient creates an HTTP client.
func NewHTTPClient(cfg *config.APIConfig, logger *events.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		token:      cfg.Token,
		maxRetries: cfg.MaxRetries,
		retryDelay: retryDelay,
		logger:     logger.WithField("component", "http_client"),
	}
}

// SetToken sets the bearer token.
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// GetToken returns the current bearer token.
func (c *HTTPClient) GetToken() string {
	return c.token
}

// ListCatalogPage fetches one catalog page. Full walks use the list
// endpoint; incremental fetches post a search with begin_time.
func (c *HTTPClient) ListCatalogPage(ctx context.Context, req PageRequest) (*models.CatalogPage, error) {
	var body []byte
	var err error

	if req.BeginTime == "" {
		q := url.Values{}
		q.Set("types", req.typesParam())
		if req.Cursor != "" {
			q.Set("cursor", req.Cursor)
		}
		if req.Limit > 0 {
			q.Set("limit", strconv.Itoa(req.Limit))
		}
		body, err = c.doJSON(ctx, http.MethodGet, "/v2/catalog/list?"+q.Encode(), nil)
	} else {
		payload := map[string]interface{}{
			"object_types":            req.Types,
			"begin_time":              req.BeginTime,
			"include_deleted_objects": true,
		}
		if req.Cursor != "" {
			payload["cursor"] = req.Cursor
		}
		if req.Limit > 0 {
			payload["limit"] = req.Limit
		}
		body, err = c.doJSON(ctx, http.MethodPost, "/v2/catalog/search", payload)
	}
	if err != nil {
		return nil, err
	}

	var resp struct {
		Objects []json.RawMessage `json:"objects"`
		Cursor  string            `json:"cursor"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse catalog page: %w", err)
	}

	page := &models.CatalogPage{Cursor: resp.Cursor}
	for _, raw := range resp.Objects {
		obj, err := models.DecodeObject(raw)
		if err != nil {
			// One bad record must not poison the page; the zero-ID object
			// is counted and skipped by the engine.
			c.logger.WithError(err).Warn("Malformed catalog object in page")
		}
		page.Objects = append(page.Objects, obj)
	}

	c.logger.WithFields(map[string]interface{}{
		"objects":  len(page.Objects),
		"has_more": page.Cursor != "",
	}).Debug("Fetched catalog page")

	return page, nil
}

// ListLocations fetches all locations.
func (c *HTTPClient) ListLocations(ctx context.Context) ([]models.Object, error) {
	body, err := c.doJSON(ctx, http.MethodGet, "/v2/locations", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Locations []json.RawMessage `json:"locations"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse locations: %w", err)
	}

	var out []models.Object
	for _, raw := range resp.Locations {
		obj, err := models.DecodeLocation(raw)
		if err != nil {
			c.logger.WithError(err).Warn("Malformed location record")
		}
		out = append(out, obj)
	}
	return out, nil
}

// doJSON executes a request with bounded retry and returns the response body.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	reqURL := c.baseURL + path

	var reqBody []byte
	if payload != nil {
		var err error
		reqBody, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}

	var respBody []byte
	err := c.retry(ctx, func() error {
		var reader io.Reader
		if reqBody != nil {
			reader = bytes.NewReader(reqBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		if reqBody != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return &transientError{err: fmt.Errorf("execute request: %w", err)}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &transientError{err: fmt.Errorf("read response: %w", err)}
		}

		if resp.StatusCode != http.StatusOK {
			return c.statusError(resp.StatusCode, body)
		}

		respBody = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return respBody, nil
}

// statusError maps a non-OK response to a typed error.
func (c *HTTPClient) statusError(status int, body []byte) error {
	apiErr := &models.APIError{StatusCode: status}

	var decoded struct {
		Errors []struct {
			Code   string `json:"code"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && len(decoded.Errors) > 0 {
		apiErr.Code = decoded.Errors[0].Code
		apiErr.Message = decoded.Errors[0].Detail
	} else {
		apiErr.Message = string(body)
	}

	if apiErr.Auth() {
		return fmt.Errorf("%w: %v", models.ErrNotAuthenticated, apiErr)
	}
	return apiErr
}

// retry executes fn with exponential backoff on transient failures. Auth
// and other non-retryable errors abort immediately.
func (c *HTTPClient) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	delay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Debug("Retrying request")

			select {
			case <-time.After(delay):
				delay *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// transientError marks network-level failures as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return false
}
