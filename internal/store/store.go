package store

import (
	"context"
	"errors"

	"github.com/poslab/catsync/internal/models"
)

// Store is the device-local catalog replica. The sync engine is its only
// writer; every other component uses the read methods, which may run
// concurrently with a sync and observe either the pre- or post-page state
// of a transaction, never a partial one.
type Store interface {
	// ApplyPage commits one page of remote objects and the given cursor
	// value in a single transaction. Writes are version-gated: rows whose
	// stored version is >= the incoming one are left untouched and counted
	// in skipped.
	ApplyPage(ctx context.Context, batch []models.Object, cursor models.Cursor) (applied, skipped int, err error)

	// LoadCursor returns the cursor for a scope, or ErrCursorNotFound.
	LoadCursor(ctx context.Context, scope string) (*models.Cursor, error)

	// WipeAll clears every catalog table and all cursors in one transaction.
	WipeAll(ctx context.Context) error

	// Read surface.
	GetObject(ctx context.Context, typ models.ObjectType, id string) (*models.Object, error)
	ListObjects(ctx context.Context, typ models.ObjectType, limit int) ([]models.Object, error)
	Search(ctx context.Context, query string, limit int) ([]models.Object, error)
	Counts(ctx context.Context) (map[models.ObjectType]int, error)

	Close() error
}

// Errors.
var (
	ErrCursorNotFound = errors.New("cursor not found")
	ErrObjectNotFound = errors.New("object not found")
)
