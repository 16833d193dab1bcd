package transport

import (
	"context"
	"sync"

	"github.com/poslab/catsync/internal/models"
)

// MockTransport scripts remote responses for engine and trigger tests.
type MockTransport struct {
	mu sync.Mutex

	// Scripted pages, consumed in order. Each entry is either a page or an
	// error (the transport's bounded retry is assumed exhausted).
	Pages     []PageResult
	pageIndex int

	Locations    []models.Object
	LocationsErr error

	StreamCh  chan models.StreamEvent
	StreamErr error

	// Request tracking.
	PageRequests   []PageRequest
	LocationCalls  int
	StreamRequests int

	token  string
	closed bool
}

// PageResult is one scripted ListCatalogPage outcome.
type PageResult struct {
	Page *models.CatalogPage
	Err  error
}

// NewMockTransport creates a mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		StreamCh: make(chan models.StreamEvent, 16),
	}
}

// AddPage appends a successful page to the script.
func (m *MockTransport) AddPage(objects []models.Object, cursor string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pages = append(m.Pages, PageResult{Page: &models.CatalogPage{Objects: objects, Cursor: cursor}})
}

// AddPageError appends a failing fetch to the script.
func (m *MockTransport) AddPageError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Pages = append(m.Pages, PageResult{Err: err})
}

// PageFetches reports how many page fetches were issued.
func (m *MockTransport) PageFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.PageRequests)
}

func (m *MockTransport) ListCatalogPage(ctx context.Context, req PageRequest) (*models.CatalogPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PageRequests = append(m.PageRequests, req)

	if m.pageIndex >= len(m.Pages) {
		// Script exhausted: behave like an empty final page.
		return &models.CatalogPage{}, nil
	}

	result := m.Pages[m.pageIndex]
	m.pageIndex++
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Page, nil
}

func (m *MockTransport) ListLocations(ctx context.Context) ([]models.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LocationCalls++
	if m.LocationsErr != nil {
		return nil, m.LocationsErr
	}
	return m.Locations, nil
}

func (m *MockTransport) StreamEvents(ctx context.Context) (<-chan models.StreamEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StreamRequests++
	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	return m.StreamCh, nil
}

func (m *MockTransport) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

func (m *MockTransport) GetToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.StreamCh)
	}
	return nil
}
