package dispatch

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
	"urlport/internal/forwarder"
	"urlport/internal/port"
)

func newDispatcher(t *testing.T) (*Dispatcher, *port.Port) {
	t.Helper()
	p := port.New(context.Background(), port.Config{}, corelog.NewNopLogger())
	d := New(context.Background(), p, corelog.NewNopLogger())
	t.Cleanup(func() {
		d.Close()
		p.Close()
	})
	return d, p
}

func dispatch(t *testing.T, d *Dispatcher, h event.TaskHandle, ev event.Event) event.Decision {
	t.Helper()
	ev.Task = h
	pd := decision.New(ev)
	d.Dispatch(pd)
	dec, err := pd.Wait(time.Second)
	require.NoError(t, err)
	return dec
}

type recorder struct {
	mu        sync.Mutex
	flushes   [][]byte
	completed []error
	cancelled []error
	redirects int
}

func (r *recorder) handler() HandlerFuncs {
	return HandlerFuncs{
		Data: func(_ *Task, data []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.flushes = append(r.flushes, data)
		},
		Complete: func(_ *Task, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.completed = append(r.completed, err)
		},
		Cancel: func(_ *Task, cause error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.cancelled = append(r.cancelled, cause)
		},
		Redirect: func(_ *Task, _ *event.Redirect) (bool, *event.RequestInfo) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.redirects++
			return true, nil
		},
	}
}

func response() event.Event {
	return event.NewResponse(&event.ResponseInfo{StatusCode: 200})
}

func redirect(n int) event.Event {
	return event.NewRedirect(&event.ResponseInfo{StatusCode: 302}, &event.RequestInfo{Method: "GET", URL: "http://example.test/next"}, n)
}

func TestDataFlushThreshold(t *testing.T) {
	d, _ := newDispatcher(t)
	rec := &recorder{}
	task, err := d.Track(1, rec.handler(), Options{FlushThreshold: 16})
	require.NoError(t, err)

	dec := dispatch(t, d, 1, response())
	assert.Equal(t, event.DispositionAllow, dec.Disposition)
	assert.Equal(t, StateResponding, task.State())

	dispatch(t, d, 1, event.NewData(make([]byte, 10)))
	assert.Empty(t, rec.flushes)
	assert.Equal(t, 10, task.Buffered())

	dispatch(t, d, 1, event.NewData(make([]byte, 20)))
	require.Len(t, rec.flushes, 1)
	assert.Len(t, rec.flushes[0], 30)

	dispatch(t, d, 1, event.NewData(make([]byte, 5)))
	assert.Len(t, rec.flushes, 1)
	assert.Equal(t, 5, task.Buffered())
	assert.Equal(t, StateStreaming, task.State())

	dispatch(t, d, 1, event.NewCompleted(nil))
	require.Len(t, rec.flushes, 2)
	assert.Len(t, rec.flushes[1], 5)
	assert.Equal(t, []error{nil}, rec.completed)
	assert.Equal(t, StateCompleted, task.State())
	assert.Equal(t, 0, d.Len())
}

func TestFlushEveryChunkWhenThresholdDisabled(t *testing.T) {
	d, _ := newDispatcher(t)
	rec := &recorder{}
	_, err := d.Track(1, rec.handler(), Options{})
	require.NoError(t, err)

	dispatch(t, d, 1, response())
	dispatch(t, d, 1, event.NewData([]byte("a")))
	dispatch(t, d, 1, event.NewData([]byte("b")))
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, rec.flushes)
}

func TestCompletionWithErrorFlushesFirst(t *testing.T) {
	d, _ := newDispatcher(t)
	var order []string
	_, err := d.Track(1, HandlerFuncs{
		Data:     func(*Task, []byte) { order = append(order, "data") },
		Complete: func(_ *Task, err error) { order = append(order, "complete:"+err.Error()) },
	}, Options{FlushThreshold: 1024})
	require.NoError(t, err)

	dispatch(t, d, 1, response())
	dispatch(t, d, 1, event.NewData([]byte("partial")))
	dispatch(t, d, 1, event.NewCompleted(errors.New("connection reset")))
	assert.Equal(t, []string{"data", "complete:connection reset"}, order)
}

func TestRedirectLimit(t *testing.T) {
	d, _ := newDispatcher(t)
	rec := &recorder{}
	task, err := d.Track(1, rec.handler(), Options{FollowRedirects: true, MaxRedirects: 5})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		dec := dispatch(t, d, 1, redirect(i))
		assert.True(t, dec.Follow, "redirect %d should be followed", i)
		assert.Equal(t, StateRedirecting, task.State())
	}

	dec := dispatch(t, d, 1, redirect(6))
	assert.False(t, dec.Follow)
	assert.Equal(t, StateCompleted, task.State())
	assert.Equal(t, 5, rec.redirects, "handler is not consulted past the limit")
	require.Len(t, rec.completed, 1)
	assert.ErrorIs(t, rec.completed[0], coreerrors.ErrRedirectLimit)
	assert.Equal(t, 6, task.Redirects())

	// the native stack now delivers the 3xx; task is gone so it gets the default
	dec = dispatch(t, d, 1, response())
	assert.False(t, dec.Proceed())
}

func TestRedirectNotFollowedWhenDisabled(t *testing.T) {
	d, _ := newDispatcher(t)
	rec := &recorder{}
	task, err := d.Track(1, rec.handler(), Options{FollowRedirects: false, MaxRedirects: 5})
	require.NoError(t, err)

	dec := dispatch(t, d, 1, redirect(1))
	assert.False(t, dec.Follow)
	assert.Equal(t, StateStarted, task.State())
	assert.Zero(t, rec.redirects)

	dec = dispatch(t, d, 1, response())
	assert.True(t, dec.Proceed())
	assert.Equal(t, StateResponding, task.State())
}

func TestRedirectDeclinedByHandler(t *testing.T) {
	d, _ := newDispatcher(t)
	rewritten := &event.RequestInfo{Method: "GET", URL: "http://example.test/other"}
	calls := 0
	task, err := d.Track(1, HandlerFuncs{
		Redirect: func(*Task, *event.Redirect) (bool, *event.RequestInfo) {
			calls++
			if calls == 1 {
				return true, rewritten
			}
			return false, nil
		},
	}, Options{FollowRedirects: true, MaxRedirects: 5})
	require.NoError(t, err)

	dec := dispatch(t, d, 1, redirect(1))
	assert.True(t, dec.Follow)
	assert.Same(t, rewritten, dec.Request)

	dec = dispatch(t, d, 1, redirect(2))
	assert.False(t, dec.Follow)
	assert.Equal(t, StateStarted, task.State())
}

func TestInvalidTransitionGetsDefault(t *testing.T) {
	d, _ := newDispatcher(t)
	rec := &recorder{}
	task, err := d.Track(1, rec.handler(), Options{})
	require.NoError(t, err)

	dec := dispatch(t, d, 1, event.NewData([]byte("early")))
	assert.False(t, dec.Proceed())
	assert.Empty(t, rec.flushes)
	assert.Equal(t, StateStarted, task.State())
}

func TestUntrackedTaskGetsDefault(t *testing.T) {
	d, _ := newDispatcher(t)
	dec := dispatch(t, d, 42, redirect(1))
	assert.Equal(t, event.DefaultDecision(event.KindRedirect), dec)
}

func TestTrackDuplicate(t *testing.T) {
	d, _ := newDispatcher(t)
	_, err := d.Track(1, HandlerFuncs{}, Options{})
	require.NoError(t, err)
	_, err = d.Track(1, HandlerFuncs{}, Options{})
	assert.ErrorIs(t, err, coreerrors.ErrDuplicateRegistration)
	_, err = d.Track(2, nil, Options{})
	assert.Error(t, err)
}

func TestHandlerPanicCancelsTask(t *testing.T) {
	d, _ := newDispatcher(t)
	task, err := d.Track(1, HandlerFuncs{
		Response: func(*Task, *event.ResponseInfo) event.Disposition { panic("bad handler") },
	}, Options{})
	require.NoError(t, err)

	dec := dispatch(t, d, 1, response())
	assert.True(t, dec.Cancelled)
	assert.Equal(t, StateCancelled, task.State())
	assert.True(t, coreerrors.IsCode(task.Err(), coreerrors.CodeInternal))
}

func TestWebSocketEvents(t *testing.T) {
	d, _ := newDispatcher(t)
	var got []string
	_, err := d.Track(1, HandlerFuncs{
		WebSocketOpen:    func(_ *Task, p string) { got = append(got, "open:"+p) },
		WebSocketMessage: func(_ *Task, _ int, b []byte) { got = append(got, "msg:"+string(b)) },
		WebSocketClose:   func(_ *Task, code int, _ []byte) { got = append(got, "close") },
		Complete:         func(*Task, error) { got = append(got, "done") },
	}, Options{})
	require.NoError(t, err)

	dispatch(t, d, 1, event.NewWebSocketMessage(1, []byte("too early")))
	dispatch(t, d, 1, event.NewWebSocketOpen("chat"))
	dispatch(t, d, 1, event.NewWebSocketMessage(1, []byte("hi")))
	dispatch(t, d, 1, event.NewWebSocketClose(1000, []byte("bye")))
	dispatch(t, d, 1, event.NewCompleted(nil))
	assert.Equal(t, []string{"open:chat", "msg:hi", "close", "done"}, got)
}

func TestCancelNotifiesOnceAndDefaultsLaterEvents(t *testing.T) {
	d, p := newDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	rec := &recorder{}
	task, err := d.Track(1, rec.handler(), Options{})
	require.NoError(t, err)

	cause := errors.New("caller gave up")
	assert.True(t, task.Cancel(cause))
	assert.False(t, task.Cancel(cause))
	assert.Equal(t, StateCancelled, task.State())

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.cancelled) == 1
	}, time.Second, 5*time.Millisecond)

	ev := response()
	ev.Task = 1
	pd := decision.New(ev)
	require.NoError(t, p.Send(pd))
	dec, err := pd.Wait(time.Second)
	require.NoError(t, err)
	assert.False(t, dec.Proceed())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.cancelled, 1)
	assert.Empty(t, rec.completed)
}

func TestRunWithForwarder(t *testing.T) {
	d, p := newDispatcher(t)
	f := forwarder.New(context.Background(), forwarder.Config{WaitTimeout: 2 * time.Second}, corelog.NewNopLogger())
	defer f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	rec := &recorder{}
	_, err := d.Track(9, rec.handler(), Options{FlushThreshold: 4})
	require.NoError(t, err)
	require.NoError(t, f.Register(9, p))

	dec, err := f.OnEvent(9, response())
	require.NoError(t, err)
	assert.True(t, dec.Proceed())
	_, err = f.OnEvent(9, event.NewData([]byte("hello")))
	require.NoError(t, err)
	_, err = f.OnEvent(9, event.NewCompleted(nil))
	require.NoError(t, err)

	rec.mu.Lock()
	assert.Equal(t, [][]byte{[]byte("hello")}, rec.flushes)
	assert.Equal(t, []error{nil}, rec.completed)
	rec.mu.Unlock()

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
