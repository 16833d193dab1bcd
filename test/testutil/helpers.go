package testutil

import (
	"fmt"
	"io"
	"time"

	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
)

// NewTestLogger creates a quiet logger for tests.
func NewTestLogger() *events.Logger {
	return events.NewTestLogger(io.Discard)
}

// Object builds a valid catalog object fixture.
func Object(typ models.ObjectType, id string, version int64, name string) models.Object {
	return models.Object{
		Type:      typ,
		ID:        id,
		Version:   version,
		Name:      name,
		Active:    true,
		UpdatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(version) * time.Minute),
	}
}

// Items builds n item fixtures with sequential ids at version 1.
func Items(n int) []models.Object {
	out := make([]models.Object, n)
	for i := range out {
		out[i] = Object(models.TypeItem, fmt.Sprintf("ITEM-%03d", i), 1, fmt.Sprintf("Item %d", i))
	}
	return out
}
