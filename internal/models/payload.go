package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SignalKind is the decoded meaning of a push-notification payload. The
// payload is a wake-up signal only; its contents are never trusted as data.
type SignalKind int

const (
	SignalIgnored SignalKind = iota
	SignalCatalogChanged
)

// Catalog-update markers. Both spellings ship in the wild; the legacy one
// is kept as a recognized synonym until the remote contract settles on one.
const (
	MarkerCatalogUpdated = "catalog_updated"
	MarkerCatalogUpdate  = "catalog_update"
)

// Signal is the tagged result of decoding a trigger payload.
type Signal struct {
	Kind   SignalKind
	Marker string // the raw type marker, for logging
}

// DecodePushPayload inspects only the payload's type marker. Unrecognized
// shapes decode to SignalIgnored rather than an error so one odd payload
// never breaks the trigger path.
func DecodePushPayload(payload []byte) (Signal, error) {
	var body struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return Signal{Kind: SignalIgnored}, fmt.Errorf("decode push payload: %w", err)
	}

	marker := strings.ToLower(strings.TrimSpace(body.Type))
	switch marker {
	case MarkerCatalogUpdated, MarkerCatalogUpdate:
		return Signal{Kind: SignalCatalogChanged, Marker: marker}, nil
	}
	return Signal{Kind: SignalIgnored, Marker: marker}, nil
}

// StreamEvent is one event from the live subscription. Like push payloads
// it carries no catalog data, only a change marker.
type StreamEvent struct {
	Type       string    `json:"type"`
	ReceivedAt time.Time `json:"received_at"`
}

// IsCatalogChange reports whether the event should trigger a sync.
func (e StreamEvent) IsCatalogChange() bool {
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case MarkerCatalogUpdated, MarkerCatalogUpdate:
		return true
	}
	return false
}
