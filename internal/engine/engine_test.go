package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poslab/catsync/internal/events"
	"github.com/poslab/catsync/internal/models"
	"github.com/poslab/catsync/internal/store"
	"github.com/poslab/catsync/internal/transport"
	"github.com/poslab/catsync/test/testutil"
)

func newTestEngine(tp transport.Transport, st store.Store, sink events.Sink) *Engine {
	return New(tp, st, sink, Config{
		PageLimit:         100,
		FullSyncThreshold: 7 * 24 * time.Hour,
		RunTimeout:        5 * time.Second,
	}, testutil.NewTestLogger())
}

func TestFirstLaunchFullSync(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.AddPage(testutil.Items(2), "page-2")
	tp.AddPage([]models.Object{testutil.Object(models.TypeItem, "ITEM-900", 1, "Last")}, "")
	tp.Locations = []models.Object{testutil.Object(models.TypeLocation, "LOC-1", 1, "Main")}
	st := store.NewMockStore()
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	outcome, err := e.RequestSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)

	assert.True(t, outcome.Succeeded())
	assert.Equal(t, models.ModeFull, outcome.Mode)
	assert.Equal(t, 3, outcome.PagesApplied, "two catalog pages plus locations")
	assert.Equal(t, 4, outcome.ObjectsProcessed)

	// The very first fetch starts from the beginning of the catalog.
	require.Len(t, tp.PageRequests, 2)
	assert.Empty(t, tp.PageRequests[0].Cursor)
	assert.Empty(t, tp.PageRequests[0].BeginTime)
	assert.Equal(t, 100, tp.PageRequests[0].Limit)
	assert.Equal(t, "page-2", tp.PageRequests[1].Cursor)

	// A completed walk leaves a clean cursor with a real watermark.
	cur, err := st.LoadCursor(context.Background(), models.CursorScopeCatalog)
	require.NoError(t, err)
	assert.False(t, cur.MidWalk())
	assert.False(t, cur.LastSyncTime.IsZero())

	_, err = st.LoadCursor(context.Background(), models.CursorScopeLocations)
	assert.NoError(t, err)
}

func TestIncrementalSync(t *testing.T) {
	st := store.NewMockStore()
	seeded := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)
	st.SeedCursor(models.Cursor{Scope: models.CursorScopeCatalog, LastSyncTime: seeded})
	_, _, err := st.ApplyPage(context.Background(),
		[]models.Object{testutil.Object(models.TypeItem, "ITEM-1", 1, "Coffee")}, models.Cursor{})
	require.NoError(t, err)

	tp := transport.NewMockTransport()
	tp.AddPage([]models.Object{testutil.Object(models.TypeItem, "ITEM-1", 2, "Coffee v2")}, "")
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	outcome, err := e.RequestSync(context.Background(), models.ReasonPush)
	require.NoError(t, err)

	assert.True(t, outcome.Succeeded())
	assert.Equal(t, models.ModeIncremental, outcome.Mode)

	// The fetch is bounded by the stored watermark.
	require.NotEmpty(t, tp.PageRequests)
	assert.Equal(t, seeded.Format(time.RFC3339), tp.PageRequests[0].BeginTime)

	// Only the bumped object changed.
	got, err := st.GetObject(context.Background(), models.TypeItem, "ITEM-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)

	// The watermark advances past the seeded value.
	cur, err := st.LoadCursor(context.Background(), models.CursorScopeCatalog)
	require.NoError(t, err)
	assert.True(t, cur.LastSyncTime.After(seeded))
	assert.False(t, cur.MidWalk())
}

func TestStaleCursorForcesFullSync(t *testing.T) {
	st := store.NewMockStore()
	st.SeedCursor(models.Cursor{
		Scope:        models.CursorScopeCatalog,
		LastSyncTime: time.Now().Add(-8 * 24 * time.Hour),
	})
	tp := transport.NewMockTransport()
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	outcome, err := e.RequestSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)

	assert.Equal(t, models.ModeFull, outcome.Mode)
	assert.Empty(t, tp.PageRequests[0].BeginTime)
}

func TestForcedFullSync(t *testing.T) {
	st := store.NewMockStore()
	st.SeedCursor(models.Cursor{
		Scope:        models.CursorScopeCatalog,
		LastSyncTime: time.Now().Add(-time.Minute),
	})
	tp := transport.NewMockTransport()
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	outcome, err := e.RequestFullSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, models.ModeFull, outcome.Mode)
}

func TestMidWalkResume(t *testing.T) {
	st := store.NewMockStore()
	st.SeedCursor(models.Cursor{
		Scope:        models.CursorScopeCatalog,
		Token:        "page-3",
		LastSyncTime: time.Now().Add(-time.Minute),
	})
	tp := transport.NewMockTransport()
	tp.AddPage(testutil.Items(1), "")
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	outcome, err := e.RequestSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)

	// The interrupted walk continues from its committed page.
	assert.Equal(t, models.ModeFull, outcome.Mode)
	assert.Equal(t, "page-3", tp.PageRequests[0].Cursor)
	assert.Empty(t, tp.PageRequests[0].BeginTime)
}

func TestApplyFailureKeepsEarlierCursor(t *testing.T) {
	st := store.NewMockStore()
	st.FailApplyAfter = 2
	st.ApplyErr = errors.New("disk full")

	tp := transport.NewMockTransport()
	tp.AddPage(testutil.Items(2), "page-2")
	tp.AddPage(testutil.Items(2), "page-3")
	tp.AddPage(testutil.Items(1), "")

	e := newTestEngine(tp, st, nil)
	outcome, err := e.RequestSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)
	e.Close()

	assert.False(t, outcome.Succeeded())
	assert.Equal(t, models.ClassInternal, outcome.Classification)

	// Page one committed with its continuation token; the failed page did
	// not move the cursor.
	cur, err := st.LoadCursor(context.Background(), models.CursorScopeCatalog)
	require.NoError(t, err)
	assert.Equal(t, "page-2", cur.Token)

	// The next run resumes from that page instead of restarting.
	st.FailApplyAfter = 0
	e2 := newTestEngine(tp, st, nil)
	defer e2.Close()

	outcome, err = e2.RequestSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	assert.Equal(t, "page-2", tp.PageRequests[2].Cursor)
}

func TestResumedWalkKeepsOriginalWatermark(t *testing.T) {
	st := store.NewMockStore()
	st.FailApplyAfter = 2
	st.ApplyErr = errors.New("disk full")

	tp := transport.NewMockTransport()
	tp.AddPage([]models.Object{testutil.Object(models.TypeItem, "ITEM-1", 1, "Coffee")}, "page-2")
	tp.AddPage(testutil.Items(2), "page-3")

	e := newTestEngine(tp, st, nil)
	outcome, err := e.RequestSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)
	require.False(t, outcome.Succeeded())
	e.Close()

	// The remote bumps an already-applied object while the walk sits
	// interrupted. The resumed walk never re-fetches that page.
	changeTime := time.Now()

	st.FailApplyAfter = 0
	tp.AddPage(testutil.Items(1), "")
	e2 := newTestEngine(tp, st, nil)
	outcome, err = e2.RequestSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
	e2.Close()

	// The completed walk's watermark is the original walk's start, so the
	// change that landed during the interruption stays inside the next
	// incremental window.
	cur, err := st.LoadCursor(context.Background(), models.CursorScopeCatalog)
	require.NoError(t, err)
	assert.False(t, cur.MidWalk())
	assert.False(t, cur.LastSyncTime.After(changeTime),
		"watermark must not pass changes made during the interruption")

	tp.AddPage([]models.Object{testutil.Object(models.TypeItem, "ITEM-1", 2, "Coffee v2")}, "")
	e3 := newTestEngine(tp, st, nil)
	defer e3.Close()

	outcome, err = e3.RequestSync(context.Background(), models.ReasonPush)
	require.NoError(t, err)
	require.True(t, outcome.Succeeded())
	assert.Equal(t, models.ModeIncremental, outcome.Mode)

	begin, err := time.Parse(time.RFC3339, tp.PageRequests[len(tp.PageRequests)-1].BeginTime)
	require.NoError(t, err)
	assert.False(t, begin.After(changeTime))

	got, err := st.GetObject(context.Background(), models.TypeItem, "ITEM-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version, "interruption-window change must be picked up")
}

func TestAuthFailureFailsFast(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.AddPageError(fmt.Errorf("%w: token expired", models.ErrNotAuthenticated))
	st := store.NewMockStore()
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	outcome, err := e.RequestSync(context.Background(), models.ReasonSubscription)
	require.NoError(t, err)

	assert.False(t, outcome.Succeeded())
	assert.Equal(t, models.ClassAuth, outcome.Classification)
	assert.Contains(t, outcome.Message, "sign in")
	assert.Equal(t, 1, tp.PageFetches())

	// Nothing was committed.
	_, err = st.LoadCursor(context.Background(), models.CursorScopeCatalog)
	assert.ErrorIs(t, err, store.ErrCursorNotFound)

	status := e.Status()
	assert.Equal(t, models.StateIdle, status.State)
	assert.Equal(t, outcome.Message, status.LastError)
}

func TestMalformedObjectsSkipped(t *testing.T) {
	tp := transport.NewMockTransport()
	tp.AddPage([]models.Object{
		testutil.Object(models.TypeItem, "ITEM-1", 1, "Good"),
		{}, // undecodable remote record
	}, "")
	st := store.NewMockStore()
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	outcome, err := e.RequestSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)

	assert.True(t, outcome.Succeeded())
	assert.Equal(t, 1, outcome.ObjectsProcessed)
	assert.Equal(t, 1, outcome.ObjectsSkipped)
}

func TestConcurrentTriggersCoalesce(t *testing.T) {
	tp := &gatedTransport{
		MockTransport: transport.NewMockTransport(),
		entered:       make(chan struct{}, 1),
		gate:          make(chan struct{}),
	}
	tp.AddPage(testutil.Items(3), "")
	st := store.NewMockStore()
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	var wg sync.WaitGroup
	outcomes := make([]*models.RunOutcome, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes[0], _ = e.RequestSync(context.Background(), models.ReasonPush)
	}()

	<-tp.entered // the first run is mid-fetch, single-flight guard is set

	wg.Add(1)
	go func() {
		defer wg.Done()
		outcomes[1], _ = e.RequestSync(context.Background(), models.ReasonSubscription)
	}()

	time.Sleep(50 * time.Millisecond)
	close(tp.gate)
	wg.Wait()

	require.NotNil(t, outcomes[0])
	require.NotNil(t, outcomes[1])
	assert.Equal(t, outcomes[0].RunID, outcomes[1].RunID, "both triggers share one run")
	assert.True(t, outcomes[0].Succeeded())

	// One run means one fetch cycle, not two.
	assert.Equal(t, 1, tp.PageFetches())
	assert.Equal(t, 1, tp.LocationCalls)
}

func TestCoalescedCallerHonorsItsContext(t *testing.T) {
	tp := &gatedTransport{
		MockTransport: transport.NewMockTransport(),
		entered:       make(chan struct{}, 1),
		gate:          make(chan struct{}),
	}
	st := store.NewMockStore()
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	go func() {
		_, _ = e.RequestSync(context.Background(), models.ReasonManual)
	}()
	<-tp.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.RequestSync(ctx, models.ReasonPush)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(tp.gate)
}

func TestResetAllBusyDuringRun(t *testing.T) {
	tp := &gatedTransport{
		MockTransport: transport.NewMockTransport(),
		entered:       make(chan struct{}, 1),
		gate:          make(chan struct{}),
	}
	st := store.NewMockStore()
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.RequestSync(context.Background(), models.ReasonManual)
	}()
	<-tp.entered

	err := e.ResetAll(context.Background())
	assert.ErrorIs(t, err, models.ErrBusy)
	assert.Zero(t, st.WipeCalls)

	close(tp.gate)
	<-done

	// Idle again: the reset goes through.
	require.NoError(t, e.ResetAll(context.Background()))
	assert.Equal(t, 1, st.WipeCalls)
}

func TestRunTimeout(t *testing.T) {
	tp := &hangingTransport{MockTransport: transport.NewMockTransport()}
	st := store.NewMockStore()
	e := New(tp, st, nil, Config{
		PageLimit:         100,
		FullSyncThreshold: 7 * 24 * time.Hour,
		RunTimeout:        30 * time.Millisecond,
	}, testutil.NewTestLogger())
	defer e.Close()

	outcome, err := e.RequestSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)

	assert.False(t, outcome.Succeeded())
	assert.Equal(t, models.ClassTimeout, outcome.Classification)
	assert.Contains(t, outcome.Message, "timed out")
}

func TestStatusReflectsRunningState(t *testing.T) {
	tp := &gatedTransport{
		MockTransport: transport.NewMockTransport(),
		entered:       make(chan struct{}, 1),
		gate:          make(chan struct{}),
	}
	st := store.NewMockStore()
	e := newTestEngine(tp, st, nil)
	defer e.Close()

	assert.Equal(t, models.StateIdle, e.Status().State)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.RequestSync(context.Background(), models.ReasonManual)
	}()
	<-tp.entered

	status := e.Status()
	assert.Equal(t, models.StateRunning, status.State)
	require.NotNil(t, status.Current)
	assert.Equal(t, models.ReasonManual, status.Current.Reason)

	close(tp.gate)
	<-done

	status = e.Status()
	assert.Equal(t, models.StateIdle, status.State)
	assert.False(t, status.LastSuccess.IsZero())
}

func TestRequestSyncAfterClose(t *testing.T) {
	e := newTestEngine(transport.NewMockTransport(), store.NewMockStore(), nil)
	e.Close()

	_, err := e.RequestSync(context.Background(), models.ReasonManual)
	assert.ErrorIs(t, err, models.ErrEngineClosed)

	assert.ErrorIs(t, e.ResetAll(context.Background()), models.ErrEngineClosed)
}

func TestSinkReceivesLifecycleEvents(t *testing.T) {
	sink := events.NewChannelSink(16)
	tp := transport.NewMockTransport()
	tp.AddPage(testutil.Items(1), "")
	e := newTestEngine(tp, store.NewMockStore(), sink)
	defer e.Close()

	_, err := e.RequestSync(context.Background(), models.ReasonManual)
	require.NoError(t, err)
	sink.Close()

	var types []events.EventType
	for ev := range sink.Events() {
		types = append(types, ev.Type)
	}

	require.NotEmpty(t, types)
	assert.Equal(t, events.EventRunStarted, types[0])
	assert.Equal(t, events.EventRunSucceeded, types[len(types)-1])
	assert.Contains(t, types, events.EventPageApplied)
}

// gatedTransport blocks the first page fetch until the test releases it, so
// tests can observe the engine mid-run.
type gatedTransport struct {
	*transport.MockTransport
	entered chan struct{}
	once    sync.Once
	gate    chan struct{}
}

func (g *gatedTransport) ListCatalogPage(ctx context.Context, req transport.PageRequest) (*models.CatalogPage, error) {
	g.once.Do(func() {
		g.entered <- struct{}{}
		<-g.gate
	})
	return g.MockTransport.ListCatalogPage(ctx, req)
}

// hangingTransport never returns until the run context expires.
type hangingTransport struct {
	*transport.MockTransport
}

func (h *hangingTransport) ListCatalogPage(ctx context.Context, req transport.PageRequest) (*models.CatalogPage, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
