package forwarder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
	"urlport/internal/decision"
	"urlport/internal/event"
	"urlport/internal/port"
)

func newForwarder(t *testing.T, timeout time.Duration) (*Forwarder, *port.Port) {
	t.Helper()
	f := New(context.Background(), Config{WaitTimeout: timeout}, corelog.NewTestLogger(t))
	p := port.New(context.Background(), port.Config{}, corelog.NewNopLogger())
	t.Cleanup(func() {
		f.Close()
		p.Close()
	})
	return f, p
}

// consume answers every decision on p with answer until ctx ends
func consume(ctx context.Context, p *port.Port, answer func(pd *decision.PendingDecision) event.Decision) {
	go func() {
		for {
			pd, err := p.Receive(ctx)
			if err != nil {
				return
			}
			_ = pd.Resolve(answer(pd))
		}
	}()
}

func TestRegisterDuplicate(t *testing.T) {
	f, p := newForwarder(t, time.Second)
	other := port.New(context.Background(), port.Config{}, nil)
	defer other.Close()

	require.NoError(t, f.Register(1, p))
	err := f.Register(1, other)
	assert.ErrorIs(t, err, coreerrors.ErrDuplicateRegistration)
	assert.True(t, coreerrors.IsBookkeeping(err))

	// original registration still routes to p
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consume(ctx, p, func(*decision.PendingDecision) event.Decision { return event.Allow() })

	d, err := f.OnEvent(1, event.NewResponse(&event.ResponseInfo{StatusCode: 200}))
	require.NoError(t, err)
	assert.Equal(t, event.DispositionAllow, d.Disposition)
	assert.Equal(t, 0, other.Len())
}

func TestOnEventResponseAllow(t *testing.T) {
	f, p := newForwarder(t, time.Second)
	require.NoError(t, f.Register(7, p))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consume(ctx, p, func(pd *decision.PendingDecision) event.Decision {
		assert.Equal(t, event.TaskHandle(7), pd.Task())
		assert.Equal(t, event.KindResponse, pd.Event().Kind)
		return event.Allow()
	})

	d, err := f.OnEvent(7, event.NewResponse(&event.ResponseInfo{StatusCode: 200}))
	require.NoError(t, err)
	assert.True(t, d.Proceed())
	assert.Equal(t, Stats{Registered: 1, Inflight: 0}, f.Stats())
}

func TestOnEventPreservesOrderPerTask(t *testing.T) {
	f, p := newForwarder(t, 5*time.Second)
	const tasks, events = 4, 50

	for h := 1; h <= tasks; h++ {
		require.NoError(t, f.Register(event.TaskHandle(h), p))
	}

	var mu sync.Mutex
	seen := make(map[event.TaskHandle][]uint64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consume(ctx, p, func(pd *decision.PendingDecision) event.Decision {
		mu.Lock()
		seen[pd.Task()] = append(seen[pd.Task()], pd.Event().Seq)
		mu.Unlock()
		return event.Continue(pd.Event().Kind)
	})

	var wg sync.WaitGroup
	for h := 1; h <= tasks; h++ {
		wg.Add(1)
		go func(h event.TaskHandle) {
			defer wg.Done()
			for i := 0; i < events; i++ {
				_, err := f.OnEvent(h, event.NewData([]byte{byte(i)}))
				assert.NoError(t, err)
			}
		}(event.TaskHandle(h))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for h := 1; h <= tasks; h++ {
		got := seen[event.TaskHandle(h)]
		require.Len(t, got, events)
		for i, seq := range got {
			assert.Equal(t, uint64(i+1), seq)
		}
	}
}

func TestCancelReleasesBlockedCallback(t *testing.T) {
	f, p := newForwarder(t, 0)
	require.NoError(t, f.Register(3, p))

	type result struct {
		d   event.Decision
		err error
	}
	done := make(chan result, 1)
	go func() {
		d, err := f.OnEvent(3, event.NewData([]byte("chunk")))
		done <- result{d, err}
	}()

	// wait until the decision is on the port, nobody answers it
	require.Eventually(t, func() bool { return p.Len() == 1 }, time.Second, 5*time.Millisecond)

	cause := errors.New("user aborted")
	assert.True(t, f.Cancel(3, cause))

	select {
	case r := <-done:
		assert.True(t, coreerrors.IsCancelled(r.err))
		assert.ErrorIs(t, r.err, cause)
		assert.True(t, r.d.Cancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("callback still blocked after cancel")
	}

	// the consumer answering late is harmless
	pd, ok := p.TryReceive()
	require.True(t, ok)
	assert.NoError(t, pd.Resolve(event.Continue(event.KindData)))
	assert.NoError(t, f.Resolve(pd.ID(), event.Continue(event.KindData)))

	assert.False(t, f.Cancel(3, nil))
}

func TestStrayEventAfterUnregister(t *testing.T) {
	f, p := newForwarder(t, time.Second)
	require.NoError(t, f.Register(1, p))
	assert.True(t, f.Unregister(1))
	assert.False(t, f.Unregister(1))

	before := f.Stats()
	d, err := f.OnEvent(1, event.NewData([]byte("late")))
	assert.ErrorIs(t, err, coreerrors.ErrUnknownTask)
	assert.Equal(t, event.DefaultDecision(event.KindData), d)
	assert.Equal(t, before, f.Stats())
	assert.Equal(t, 0, p.Len())

	// never registered at all
	_, err = f.OnEvent(99, event.NewCompleted(nil))
	assert.True(t, coreerrors.IsBookkeeping(err))
}

func TestConsumerTimeoutFailsTask(t *testing.T) {
	f, p := newForwarder(t, 30*time.Millisecond)
	require.NoError(t, f.Register(5, p))

	d, err := f.OnEvent(5, event.NewResponse(&event.ResponseInfo{StatusCode: 200}))
	assert.ErrorIs(t, err, coreerrors.ErrConsumerTimeout)
	assert.False(t, d.Proceed())

	// later non-terminal events fail fast without touching the port
	_, _ = p.TryReceive()
	start := time.Now()
	_, err = f.OnEvent(5, event.NewData([]byte("x")))
	assert.ErrorIs(t, err, coreerrors.ErrConsumerTimeout)
	assert.Less(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, 0, p.Len())

	// completion is still forwarded and carries the failure
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gotErr := make(chan error, 1)
	consume(ctx, p, func(pd *decision.PendingDecision) event.Decision {
		ev := pd.Event()
		gotErr <- ev.Err()
		return event.Continue(event.KindCompleted)
	})

	_, err = f.OnEvent(5, event.NewCompleted(nil))
	require.NoError(t, err)
	assert.ErrorIs(t, <-gotErr, coreerrors.ErrConsumerTimeout)
}

func TestResolveByID(t *testing.T) {
	f, p := newForwarder(t, time.Second)
	require.NoError(t, f.Register(2, p))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ids := make(chan string, 1)
	go func() {
		pd, err := p.Receive(ctx)
		if err != nil {
			return
		}
		assert.NoError(t, f.Resolve(pd.ID(), event.Deny()))
		ids <- pd.ID()
	}()

	d, err := f.OnEvent(2, event.NewResponse(&event.ResponseInfo{StatusCode: 404}))
	require.NoError(t, err)
	assert.False(t, d.Proceed())

	id := <-ids
	assert.ErrorIs(t, f.Resolve(id, event.Allow()), coreerrors.ErrAlreadyResolved)
	assert.True(t, coreerrors.IsCode(f.Resolve("dec_nope", event.Allow()), coreerrors.CodeNotFound))
}

func TestCloseReleasesEverything(t *testing.T) {
	f, p := newForwarder(t, 0)
	require.NoError(t, f.Register(1, p))

	done := make(chan error, 1)
	go func() {
		_, err := f.OnEvent(1, event.NewData(nil))
		done <- err
	}()
	require.Eventually(t, func() bool { return p.Len() == 1 }, time.Second, 5*time.Millisecond)

	f.Close()
	select {
	case err := <-done:
		assert.True(t, coreerrors.IsCancelled(err))
		assert.ErrorIs(t, err, coreerrors.ErrResourceClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("close did not release callback")
	}
	assert.ErrorIs(t, f.Register(2, p), coreerrors.ErrResourceClosed)
}

func TestOnEventInvalidPayload(t *testing.T) {
	f, p := newForwarder(t, time.Second)
	require.NoError(t, f.Register(1, p))
	_, err := f.OnEvent(1, event.Event{Kind: event.KindResponse})
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeInvalidParam))
	assert.Equal(t, 0, p.Len())
}
