package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
	"github.com/poslab/catsync/internal/store"
	"github.com/poslab/catsync/internal/transport"
)

// Config contains engine tuning.
type Config struct {
	PageLimit         int
	FullSyncThreshold time.Duration
	RunTimeout        time.Duration
}

// Engine is the single authority for reconciling the local catalog replica
// with the remote catalog. It is constructed exactly once by the
// composition root; the single-flight guard is internal state.
type Engine struct {
	transport transport.Transport
	store     store.Store
	sink      events.Sink
	logger    *events.Logger
	cfg       Config

	// Runs detach from the requesting caller's context so a background
	// trigger returning early cannot abort an in-flight run.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu          sync.Mutex
	current     *inflight
	closed      bool
	lastSuccess time.Time
	lastError   string
}

// inflight is one executing run plus the coalescing rendezvous.
type inflight struct {
	mu      sync.Mutex
	run     *models.SyncRun
	done    chan struct{}
	outcome *models.RunOutcome
}

func newInflight(reason models.Reason) *inflight {
	return &inflight{
		run: &models.SyncRun{
			ID:        uuid.NewString(),
			Reason:    reason,
			Status:    models.RunRunning,
			StartedAt: time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
}

func (fl *inflight) snapshot() *models.RunSnapshot {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return &models.RunSnapshot{
		RunID:            fl.run.ID,
		Reason:           fl.run.Reason,
		Mode:             fl.run.Mode,
		StartedAt:        fl.run.StartedAt,
		PagesApplied:     fl.run.PagesApplied,
		ObjectsProcessed: fl.run.ObjectsProcessed,
	}
}

// New creates the sync engine. A nil sink falls back to logging status
// events.
func New(tp transport.Transport, st store.Store, sink events.Sink, cfg Config, logger *events.Logger) *Engine {
	if sink == nil {
		sink = events.NewLoggerSink(logger)
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 200
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.FullSyncThreshold <= 0 {
		cfg.FullSyncThreshold = 7 * 24 * time.Hour
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		transport:  tp,
		store:      st,
		sink:       sink,
		logger:     logger.WithField("component", "sync_engine"),
		cfg:        cfg,
		baseCtx:    baseCtx,
		baseCancel: cancel,
	}
}

// RequestSync runs a sync, or attaches to the in-flight run if one is
// active: the caller then receives that run's outcome instead of starting a
// second fetch/apply cycle. ctx only governs how long the caller waits;
// the run itself is bounded by the configured run timeout.
func (e *Engine) RequestSync(ctx context.Context, reason models.Reason) (*models.RunOutcome, error) {
	return e.requestSync(ctx, reason, false)
}

// RequestFullSync forces a full catalog walk for the run it starts. A
// caller that coalesces onto an in-flight run receives that run's outcome
// regardless of its mode.
func (e *Engine) RequestFullSync(ctx context.Context, reason models.Reason) (*models.RunOutcome, error) {
	return e.requestSync(ctx, reason, true)
}

func (e *Engine) requestSync(ctx context.Context, reason models.Reason, force bool) (*models.RunOutcome, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, models.ErrEngineClosed
	}
	if fl := e.current; fl != nil {
		e.mu.Unlock()
		e.logger.WithField("reason", string(reason)).Debug("Coalescing onto in-flight run")
		select {
		case <-fl.done:
			return fl.outcome, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	fl := newInflight(reason)
	e.current = fl
	e.mu.Unlock()

	e.execute(fl, force)
	return fl.outcome, nil
}

// Status returns a non-blocking snapshot of the engine.
func (e *Engine) Status() models.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := models.SyncStatus{
		State:       models.StateIdle,
		LastSuccess: e.lastSuccess,
		LastError:   e.lastError,
	}
	if e.current != nil {
		st.State = models.StateRunning
		st.Current = e.current.snapshot()
	}
	return st
}

// ResetAll wipes every catalog table and cursor in one transaction. It is
// rejected with ErrBusy while a run is active; tearing state down under an
// in-flight apply is never worth racing.
func (e *Engine) ResetAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return models.ErrEngineClosed
	}
	if e.current != nil {
		return models.ErrBusy
	}

	if err := e.store.WipeAll(ctx); err != nil {
		return fmt.Errorf("reset catalog: %w", err)
	}
	e.lastSuccess = time.Time{}
	e.lastError = ""
	e.logger.Info("Catalog and cursors reset")
	return nil
}

// Close cancels any in-flight run and waits for it to settle.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	fl := e.current
	e.mu.Unlock()

	e.baseCancel()
	if fl != nil {
		<-fl.done
	}
}

// execute runs the sync algorithm and settles the inflight record.
func (e *Engine) execute(fl *inflight, force bool) {
	runCtx, cancel := context.WithTimeout(e.baseCtx, e.cfg.RunTimeout)
	defer cancel()

	err := e.run(runCtx, fl, force)

	fl.mu.Lock()
	run := fl.run
	if err != nil {
		run.Status = models.RunFailed
		run.Err = err
	} else {
		run.Status = models.RunSucceeded
	}

	outcome := &models.RunOutcome{
		RunID:            run.ID,
		Reason:           run.Reason,
		Mode:             run.Mode,
		Status:           run.Status,
		PagesApplied:     run.PagesApplied,
		ObjectsProcessed: run.ObjectsProcessed,
		ObjectsSkipped:   run.ObjectsSkipped,
		Duration:         time.Since(run.StartedAt),
	}
	fl.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", models.ErrRunTimeout, err)
		}
		outcome.Classification = models.Classify(err)
		outcome.Message = userMessage(outcome.Classification)
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"run_id":         run.ID,
			"classification": string(outcome.Classification),
		}).Error("Sync run failed")
		e.sink.Notify(events.Event{
			Type:           events.EventRunFailed,
			Timestamp:      time.Now(),
			RunID:          run.ID,
			Reason:         run.Reason,
			Mode:           run.Mode,
			Classification: outcome.Classification,
			Message:        outcome.Message,
		})
	} else {
		e.logger.WithFields(map[string]interface{}{
			"run_id":   run.ID,
			"mode":     string(run.Mode),
			"pages":    run.PagesApplied,
			"objects":  run.ObjectsProcessed,
			"skipped":  run.ObjectsSkipped,
			"duration": outcome.Duration.String(),
		}).Info("Sync run completed")
		e.sink.Notify(events.Event{
			Type:      events.EventRunSucceeded,
			Timestamp: time.Now(),
			RunID:     run.ID,
			Reason:    run.Reason,
			Mode:      run.Mode,
			Message: fmt.Sprintf("Catalog up to date (%d objects, %s sync)",
				run.ObjectsProcessed, run.Mode),
		})
	}

	e.mu.Lock()
	e.current = nil
	if err == nil {
		e.lastSuccess = time.Now()
		e.lastError = ""
	} else {
		e.lastError = outcome.Message
	}
	e.mu.Unlock()

	fl.outcome = outcome
	close(fl.done)
}

// run decides the mode and performs fetch + apply.
func (e *Engine) run(ctx context.Context, fl *inflight, force bool) error {
	cursor, err := e.store.LoadCursor(ctx, models.CursorScopeCatalog)

	full := force
	resumeToken := ""
	prevWatermark := time.Time{}
	walkStart := fl.run.StartedAt

	switch {
	case errors.Is(err, store.ErrCursorNotFound):
		full = true
	case err != nil:
		return &models.SyncError{Phase: "load cursor", Classification: models.ClassInternal, Err: err}
	default:
		prevWatermark = cursor.LastSyncTime
		if cursor.MidWalk() {
			// An interrupted full walk resumes from its committed page
			// rather than starting over. Earlier pages were fetched when
			// the walk began, so the walk completes with that original
			// start as its watermark; anything changed during the
			// interruption stays inside the next incremental window.
			full = true
			resumeToken = cursor.Token
			if !cursor.WalkStartedAt.IsZero() {
				walkStart = cursor.WalkStartedAt
			} else {
				walkStart = prevWatermark
			}
		} else if cursor.Stale(e.cfg.FullSyncThreshold, time.Now()) {
			full = true
		}
	}

	fl.mu.Lock()
	if full {
		fl.run.Mode = models.ModeFull
	} else {
		fl.run.Mode = models.ModeIncremental
	}
	run := fl.run
	fl.mu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"run_id": run.ID,
		"reason": string(run.Reason),
		"mode":   string(run.Mode),
		"resume": resumeToken != "",
	}).Info("Starting sync run")

	e.sink.Notify(events.Event{
		Type:      events.EventRunStarted,
		Timestamp: time.Now(),
		RunID:     run.ID,
		Reason:    run.Reason,
		Mode:      run.Mode,
		Message:   fmt.Sprintf("Catalog sync started (%s, %s)", run.Reason, run.Mode),
	})

	if full {
		err = e.fullSync(ctx, fl, resumeToken, prevWatermark, walkStart)
	} else {
		err = e.incrementalSync(ctx, fl, prevWatermark)
	}
	if err != nil {
		return err
	}

	return e.syncLocations(ctx, fl)
}

// fullSync walks every catalog page. Mid-walk pages commit with the next
// continuation token and the walk's start time so an interrupted walk
// resumes instead of restarting; the final page clears the token and
// advances the watermark to walkStart, never past data that was fetched
// before it.
func (e *Engine) fullSync(ctx context.Context, fl *inflight, token string, prevWatermark, walkStart time.Time) error {
	for {
		page, err := e.transport.ListCatalogPage(ctx, transport.PageRequest{
			Cursor: token,
			Types:  models.CatalogTypes,
			Limit:  e.cfg.PageLimit,
		})
		if err != nil {
			return &models.SyncError{Phase: "fetch", Classification: models.Classify(err), Err: err}
		}

		cur := models.Cursor{Scope: models.CursorScopeCatalog}
		if page.Cursor == "" {
			cur.LastSyncTime = walkStart
		} else {
			cur.Token = page.Cursor
			cur.LastSyncTime = prevWatermark
			cur.WalkStartedAt = walkStart
		}

		if err := e.applyPage(ctx, fl, page.Objects, cur); err != nil {
			return err
		}

		if page.Cursor == "" {
			return nil
		}
		token = page.Cursor
	}
}

// incrementalSync fetches objects changed since the watermark. Mid-walk
// pages do not persist a token: a search continuation is only valid within
// its walk, so an interrupted incremental simply re-fetches from the old
// watermark, which the version gate makes idempotent.
func (e *Engine) incrementalSync(ctx context.Context, fl *inflight, since time.Time) error {
	runStart := fl.run.StartedAt
	begin := since.UTC().Format(time.RFC3339)
	token := ""

	for {
		page, err := e.transport.ListCatalogPage(ctx, transport.PageRequest{
			Cursor:    token,
			Types:     models.CatalogTypes,
			BeginTime: begin,
			Limit:     e.cfg.PageLimit,
		})
		if err != nil {
			return &models.SyncError{Phase: "fetch", Classification: models.Classify(err), Err: err}
		}

		cur := models.Cursor{}
		if page.Cursor == "" {
			cur = models.Cursor{Scope: models.CursorScopeCatalog, LastSyncTime: runStart}
		}

		if err := e.applyPage(ctx, fl, page.Objects, cur); err != nil {
			return err
		}

		if page.Cursor == "" {
			return nil
		}
		token = page.Cursor
	}
}

// syncLocations refreshes the locations table. The endpoint is small and
// unpaginated, so every run re-lists it.
func (e *Engine) syncLocations(ctx context.Context, fl *inflight) error {
	locations, err := e.transport.ListLocations(ctx)
	if err != nil {
		return &models.SyncError{Phase: "locations", Classification: models.Classify(err), Err: err}
	}

	cur := models.Cursor{
		Scope:        models.CursorScopeLocations,
		LastSyncTime: fl.run.StartedAt,
	}
	return e.applyPage(ctx, fl, locations, cur)
}

func (e *Engine) applyPage(ctx context.Context, fl *inflight, batch []models.Object, cur models.Cursor) error {
	for i := range batch {
		if !batch[i].Valid() {
			e.logger.WithFields(map[string]interface{}{
				"id":   batch[i].ID,
				"type": string(batch[i].Type),
			}).Warn("Skipping malformed catalog object")
		}
	}

	applied, skipped, err := e.store.ApplyPage(ctx, batch, cur)
	if err != nil {
		return &models.SyncError{Phase: "apply", Classification: models.ClassInternal, Err: err}
	}

	fl.mu.Lock()
	fl.run.PagesApplied++
	fl.run.ObjectsProcessed += applied
	fl.run.ObjectsSkipped += skipped
	pages := fl.run.PagesApplied
	runID := fl.run.ID
	fl.mu.Unlock()

	e.sink.Notify(events.Event{
		Type:      events.EventPageApplied,
		Timestamp: time.Now(),
		RunID:     runID,
		Message:   fmt.Sprintf("Applied page %d (%d objects)", pages, applied),
	})
	return nil
}

// userMessage maps a classification onto the status surface. Raw error
// text never reaches the user layer.
func userMessage(c models.Classification) string {
	switch c {
	case models.ClassAuth:
		return "Sync failed: sign in again to continue"
	case models.ClassTimeout:
		return "Sync timed out, will retry on next trigger"
	case models.ClassTransient:
		return "Sync failed, will retry on next trigger"
	default:
		return "Sync failed"
	}
}
