package triggers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poslab/catsync/internal/models"
	"github.com/poslab/catsync/test/testutil"
)

// fakeStream hands out scripted event channels, one per connect.
type fakeStream struct {
	mu       sync.Mutex
	channels []chan models.StreamEvent
	errs     []error
	connects int
}

func (f *fakeStream) addChannel(buffer int) chan models.StreamEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan models.StreamEvent, buffer)
	f.channels = append(f.channels, ch)
	f.errs = append(f.errs, nil)
	return ch
}

func (f *fakeStream) addError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, nil)
	f.errs = append(f.errs, err)
}

func (f *fakeStream) StreamEvents(ctx context.Context) (<-chan models.StreamEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.connects
	f.connects++
	if i >= len(f.channels) {
		// Script exhausted: block the listener on an open channel.
		ch := make(chan models.StreamEvent)
		return ch, nil
	}
	if f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.channels[i], nil
}

func (f *fakeStream) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func TestListenerRequestsSyncOnCatalogEvent(t *testing.T) {
	src := &fakeStream{}
	ch := src.addChannel(4)
	eng := newFakeRequester()

	l := NewListener(src, eng, time.Second, testutil.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	ch <- models.StreamEvent{Type: "catalog_updated"}

	select {
	case <-eng.started:
	case <-time.After(time.Second):
		t.Fatal("listener never requested a sync")
	}

	cancel()
	<-done

	require.GreaterOrEqual(t, eng.callCount(), 1)
	assert.Equal(t, models.ReasonSubscription, eng.calls[0])
}

func TestListenerIgnoresOtherEvents(t *testing.T) {
	src := &fakeStream{}
	ch := src.addChannel(4)
	eng := newFakeRequester()

	l := NewListener(src, eng, time.Second, testutil.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	ch <- models.StreamEvent{Type: "heartbeat"}
	ch <- models.StreamEvent{Type: "order_created"}

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	assert.Zero(t, eng.callCount())
}

func TestListenerReconnectsAfterStreamCloses(t *testing.T) {
	src := &fakeStream{}
	first := src.addChannel(1)
	second := src.addChannel(1)
	eng := newFakeRequester()

	l := NewListener(src, eng, 10*time.Millisecond, testutil.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	close(first)
	second <- models.StreamEvent{Type: "catalog_update"}

	select {
	case <-eng.started:
	case <-time.After(time.Second):
		t.Fatal("listener never reconnected")
	}

	cancel()
	<-done

	assert.GreaterOrEqual(t, src.connectCount(), 2)
	assert.GreaterOrEqual(t, eng.callCount(), 1)
}

func TestListenerRetriesFailedConnect(t *testing.T) {
	src := &fakeStream{}
	src.addError(errors.New("dial refused"))
	ch := src.addChannel(1)
	eng := newFakeRequester()

	l := NewListener(src, eng, 10*time.Millisecond, testutil.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()

	ch <- models.StreamEvent{Type: "catalog_updated"}

	select {
	case <-eng.started:
	case <-time.After(time.Second):
		t.Fatal("listener never recovered from connect failure")
	}

	cancel()
	<-done

	assert.GreaterOrEqual(t, src.connectCount(), 2)
}

func TestListenerStopsOnContextCancel(t *testing.T) {
	src := &fakeStream{}
	src.addChannel(1)
	l := NewListener(src, newFakeRequester(), time.Second, testutil.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
