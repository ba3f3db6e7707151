package relay

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
	"urlport/internal/event"
	"urlport/internal/forwarder"
	"urlport/internal/port"
)

type relayFixture struct {
	fwd  *forwarder.Forwarder
	port *port.Port
	srv  *Server
	http *httptest.Server
	url  string
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()
	ctx := context.Background()
	logger := corelog.NewNopLogger()

	f := &relayFixture{
		fwd:  forwarder.New(ctx, forwarder.Config{WaitTimeout: 5 * time.Second}, logger),
		port: port.New(ctx, port.Config{}, logger),
	}
	f.srv = NewServer(ctx, Config{}, f.fwd, f.port, logger)
	f.http = httptest.NewServer(f.srv.Handler())
	f.url = f.http.URL + "/_urlport"

	t.Cleanup(func() {
		f.srv.Close()
		f.http.Close()
		f.fwd.Close()
		f.port.Close()
	})
	return f
}

func startConsumer(t *testing.T, url string, decide DecideFunc) (context.CancelFunc, <-chan error) {
	t.Helper()
	c, err := NewConsumer(url, ConsumerConfig{}, decide, corelog.NewNopLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestRelay_ResolvesOverWebSocket(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.fwd.Register(1, f.port))

	var (
		mu    sync.Mutex
		kinds []event.Kind
	)
	startConsumer(t, f.url, func(ev event.Event) event.Decision {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
		switch ev.Kind {
		case event.KindRedirect:
			return event.StopRedirect()
		case event.KindResponse:
			return event.Allow()
		}
		return event.Continue(ev.Kind)
	})

	redirect := event.NewRedirect(&event.ResponseInfo{StatusCode: 301}, &event.RequestInfo{URL: "http://example.com/b"}, 1)
	d, err := f.fwd.OnEvent(1, redirect)
	require.NoError(t, err)
	assert.Equal(t, event.KindRedirect, d.Kind)
	assert.False(t, d.Follow)

	d, err = f.fwd.OnEvent(1, event.NewResponse(&event.ResponseInfo{StatusCode: 200}))
	require.NoError(t, err)
	assert.Equal(t, event.DispositionAllow, d.Disposition)
	assert.True(t, d.Proceed())

	d, err = f.fwd.OnEvent(1, event.NewData([]byte("abc")))
	require.NoError(t, err)
	assert.True(t, d.Proceed())

	mu.Lock()
	assert.Equal(t, []event.Kind{event.KindRedirect, event.KindResponse, event.KindData}, kinds)
	mu.Unlock()
	assert.Equal(t, 0, f.fwd.Stats().Inflight)
}

func TestRelay_DisconnectReleasesOutstanding(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.fwd.Register(1, f.port))

	received := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	cancel, done := startConsumer(t, f.url, func(ev event.Event) event.Decision {
		close(received)
		<-release
		return event.Allow()
	})

	result := make(chan error, 1)
	go func() {
		d, err := f.fwd.OnEvent(1, event.NewResponse(&event.ResponseInfo{StatusCode: 200}))
		assert.True(t, d.Cancelled)
		result <- err
	}()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never received the event")
	}
	cancel()

	select {
	case err := <-result:
		require.Error(t, err)
		assert.True(t, coreerrors.IsCancelled(err), "got %v", err)
		assert.ErrorIs(t, err, ErrPeerGone)
	case <-time.After(3 * time.Second):
		t.Fatal("native callback still blocked after consumer left")
	}

	release <- struct{}{}
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestRelay_SingleConsumer(t *testing.T) {
	f := newRelayFixture(t)
	startConsumer(t, f.url, func(ev event.Event) event.Decision { return event.Continue(ev.Kind) })

	select {
	case <-f.srv.Connected():
	case <-time.After(2 * time.Second):
		t.Fatal("first consumer never attached")
	}

	second, err := NewConsumer(f.url, ConsumerConfig{}, func(ev event.Event) event.Decision {
		return event.Continue(ev.Kind)
	}, corelog.NewNopLogger())
	require.NoError(t, err)
	err = second.Run(context.Background())
	require.Error(t, err)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeHandshakeFailed), "got %v", err)
}

func TestRelay_DecidePanicCancels(t *testing.T) {
	f := newRelayFixture(t)
	require.NoError(t, f.fwd.Register(1, f.port))

	startConsumer(t, f.url, func(ev event.Event) event.Decision {
		panic("boom")
	})

	d, err := f.fwd.OnEvent(1, event.NewResponse(&event.ResponseInfo{StatusCode: 200}))
	require.NoError(t, err)
	assert.True(t, d.Cancelled)
	assert.False(t, d.Proceed())
}

func TestNewConsumer_Validation(t *testing.T) {
	_, err := NewConsumer("ws://127.0.0.1:1/", ConsumerConfig{}, nil, nil)
	assert.Error(t, err)

	_, err = NewConsumer("ftp://127.0.0.1/", ConsumerConfig{}, func(ev event.Event) event.Decision {
		return event.Continue(ev.Kind)
	}, nil)
	assert.Error(t, err)
}
