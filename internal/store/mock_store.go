package store

import (
	"context"
	"strings"
	"sync"

	"github.com/poslab/catsync/internal/models"
)

// MockStore provides an in-memory Store for engine tests, with the same
// version-gating behavior as the SQLite implementation plus fault injection.
type MockStore struct {
	mu sync.Mutex

	objects map[models.ObjectType]map[string]models.Object
	cursors map[string]models.Cursor

	// Fault injection. FailApplyAfter fails the Nth ApplyPage call (1-based)
	// with ApplyErr; 0 disables.
	FailApplyAfter int
	ApplyErr       error
	WipeErr        error

	// Call tracking.
	ApplyCalls int
	WipeCalls  int
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		objects: make(map[models.ObjectType]map[string]models.Object),
		cursors: make(map[string]models.Cursor),
	}
}

func (m *MockStore) ApplyPage(ctx context.Context, batch []models.Object, cursor models.Cursor) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ApplyCalls++
	if m.FailApplyAfter > 0 && m.ApplyCalls >= m.FailApplyAfter && m.ApplyErr != nil {
		return 0, 0, m.ApplyErr
	}

	applied, skipped := 0, 0
	for _, obj := range batch {
		if !obj.Valid() {
			skipped++
			continue
		}
		byID, ok := m.objects[obj.Type]
		if !ok {
			byID = make(map[string]models.Object)
			m.objects[obj.Type] = byID
		}
		if existing, ok := byID[obj.ID]; ok && existing.Version >= obj.Version {
			skipped++
			continue
		}
		byID[obj.ID] = obj
		applied++
	}

	if cursor.Scope != "" {
		m.cursors[cursor.Scope] = cursor
	}
	return applied, skipped, nil
}

func (m *MockStore) LoadCursor(ctx context.Context, scope string) (*models.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.cursors[scope]
	if !ok {
		return nil, ErrCursorNotFound
	}
	c := cur
	return &c, nil
}

// SeedCursor installs a cursor directly, for test setup.
func (m *MockStore) SeedCursor(cur models.Cursor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[cur.Scope] = cur
}

func (m *MockStore) WipeAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.WipeCalls++
	if m.WipeErr != nil {
		return m.WipeErr
	}
	m.objects = make(map[models.ObjectType]map[string]models.Object)
	m.cursors = make(map[string]models.Cursor)
	return nil
}

func (m *MockStore) GetObject(ctx context.Context, typ models.ObjectType, id string) (*models.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if obj, ok := m.objects[typ][id]; ok {
		o := obj
		return &o, nil
	}
	return nil, ErrObjectNotFound
}

func (m *MockStore) ListObjects(ctx context.Context, typ models.ObjectType, limit int) ([]models.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Object
	for _, obj := range m.objects[typ] {
		out = append(out, obj)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MockStore) Search(ctx context.Context, query string, limit int) ([]models.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	needle := NormalizeSearch(query)
	var out []models.Object
	for _, typ := range []models.ObjectType{models.TypeItem, models.TypeVariation, models.TypeCategory} {
		for _, obj := range m.objects[typ] {
			if strings.Contains(NormalizeSearch(obj.Name), needle) && obj.Active {
				out = append(out, obj)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

func (m *MockStore) Counts(ctx context.Context) (map[models.ObjectType]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[models.ObjectType]int)
	for typ, byID := range m.objects {
		counts[typ] = len(byID)
	}
	return counts, nil
}

func (m *MockStore) Close() error {
	return nil
}
