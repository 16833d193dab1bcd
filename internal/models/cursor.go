package models

import "time"

// Cursor scopes. Catalog objects and locations paginate independently, so
// each keeps its own cursor row.
const (
	CursorScopeCatalog   = "catalog"
	CursorScopeLocations = "locations"
)

// Cursor records how far a sync scope has progressed. Token holds the
// continuation token of an interrupted full walk (empty once the walk
// completes); LastSyncTime is the watermark incremental fetches resume from.
// WalkStartedAt is set only mid-walk: pages applied before an interruption
// were fetched when the walk began, so a resumed walk must complete with
// that original start as its watermark, not the resuming run's.
type Cursor struct {
	Scope         string    `json:"scope"`
	Token         string    `json:"token,omitempty"`
	LastSyncTime  time.Time `json:"last_sync_time"`
	WalkStartedAt time.Time `json:"walk_started_at,omitempty"`
}

// Stale reports whether the cursor's watermark is older than the given
// threshold, forcing the next run to re-walk the full catalog.
func (c *Cursor) Stale(threshold time.Duration, now time.Time) bool {
	if c.LastSyncTime.IsZero() {
		return true
	}
	return now.Sub(c.LastSyncTime) > threshold
}

// MidWalk reports whether a full catalog walk was interrupted and should
// be resumed from Token rather than restarted.
func (c *Cursor) MidWalk() bool {
	return c.Token != ""
}
