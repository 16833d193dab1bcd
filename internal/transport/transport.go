package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/poslab/catsync/internal/config"
	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
)

// Transport is the engine's view of the remote catalog service: paginated
// catalog reads, the locations endpoint, and the live subscription stream.
type Transport interface {
	// ListCatalogPage fetches one page of catalog objects. An empty
	// BeginTime walks the full catalog; a set BeginTime fetches only
	// objects changed since that watermark.
	ListCatalogPage(ctx context.Context, req PageRequest) (*models.CatalogPage, error)

	// ListLocations fetches all locations (not paginated by the remote).
	ListLocations(ctx context.Context) ([]models.Object, error)

	// StreamEvents opens the live subscription. The channel closes when
	// the connection drops or ctx ends.
	StreamEvents(ctx context.Context) (<-chan models.StreamEvent, error)

	SetToken(token string)
	GetToken() string

	Close() error
}

// PageRequest describes one catalog page fetch.
type PageRequest struct {
	Cursor    string
	Types     []models.ObjectType
	BeginTime string // RFC 3339; empty for a full walk
	Limit     int
}

func (r PageRequest) typesParam() string {
	names := make([]string, len(r.Types))
	for i, t := range r.Types {
		names[i] = string(t)
	}
	return strings.Join(names, ",")
}

// DefaultTransport combines the HTTP client and the subscription stream.
type DefaultTransport struct {
	httpClient *HTTPClient
	streamCfg  *config.StreamConfig
	streamURL  string
	logger     *events.Logger

	mu       sync.Mutex
	wsClient *WSClient
}

// New creates a transport from config.
func New(cfg *config.Config, logger *events.Logger) Transport {
	return &DefaultTransport{
		httpClient: NewHTTPClient(&cfg.API, logger),
		streamCfg:  &cfg.Stream,
		streamURL:  cfg.ResolveStreamURL(),
		logger:     logger,
	}
}

func (t *DefaultTransport) ListCatalogPage(ctx context.Context, req PageRequest) (*models.CatalogPage, error) {
	return t.httpClient.ListCatalogPage(ctx, req)
}

func (t *DefaultTransport) ListLocations(ctx context.Context) ([]models.Object, error) {
	return t.httpClient.ListLocations(ctx)
}

// StreamEvents dials the subscription endpoint. Each call replaces the
// previous connection; the stale one is closed.
func (t *DefaultTransport) StreamEvents(ctx context.Context) (<-chan models.StreamEvent, error) {
	ws := NewWSClient(t.streamURL, t.httpClient.GetToken(), t.streamCfg, t.logger)

	if err := ws.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect stream: %w", err)
	}

	t.mu.Lock()
	old := t.wsClient
	t.wsClient = ws
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	go func() {
		for err := range ws.Errors() {
			t.logger.WithError(err).Error("Subscription stream error")
		}
	}()

	return ws.Events(), nil
}

func (t *DefaultTransport) SetToken(token string) {
	t.httpClient.SetToken(token)
}

func (t *DefaultTransport) GetToken() string {
	return t.httpClient.GetToken()
}

// Close closes the stream connection if one is open.
func (t *DefaultTransport) Close() error {
	t.mu.Lock()
	ws := t.wsClient
	t.wsClient = nil
	t.mu.Unlock()

	if ws != nil {
		return ws.Close()
	}
	return nil
}
