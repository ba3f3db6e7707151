package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
	"urlport/internal/event"
)

type fakeForwarder struct {
	mu        sync.Mutex
	events    []event.Event
	decide    func(ev event.Event) (event.Decision, bool)
	completed chan error
}

func newFakeForwarder(decide func(ev event.Event) (event.Decision, bool)) *fakeForwarder {
	return &fakeForwarder{decide: decide, completed: make(chan error, 1)}
}

func (f *fakeForwarder) OnEvent(h event.TaskHandle, ev event.Event) (event.Decision, error) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()

	if ev.Kind == event.KindCompleted {
		f.completed <- ev.Err()
		return event.Continue(ev.Kind), nil
	}
	if f.decide != nil {
		if d, ok := f.decide(ev); ok {
			return d, nil
		}
	}
	switch ev.Kind {
	case event.KindResponse:
		return event.Allow(), nil
	case event.KindRedirect:
		return event.FollowRedirect(nil), nil
	}
	return event.Continue(ev.Kind), nil
}

func (f *fakeForwarder) kinds() []event.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]event.Kind, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (f *fakeForwarder) eventsOf(kind event.Kind) []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Event
	for _, ev := range f.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeForwarder) waitCompleted(t *testing.T) error {
	t.Helper()
	select {
	case err := <-f.completed:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("task did not complete")
		return nil
	}
}

func newSession(t *testing.T, fwd Forwarder, chunk int) *HTTPSession {
	t.Helper()
	s, err := NewHTTPSession(fwd, HTTPConfig{ReadChunkSize: chunk, UserAgent: "urlport-test", CookieJar: true}, corelog.NewNopLogger())
	require.NoError(t, err)
	return s
}

func TestHTTPSessionEventsInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "urlport-test", r.Header.Get("User-Agent"))
		_, _ = io.WriteString(w, "hello world")
	}))
	defer srv.Close()

	fwd := newFakeForwarder(nil)
	s := newSession(t, fwd, 4)

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	op := s.Start(context.Background(), 1, req, nil)
	require.NoError(t, fwd.waitCompleted(t))
	<-op.Done()
	assert.NoError(t, op.Err())

	kinds := fwd.kinds()
	require.GreaterOrEqual(t, len(kinds), 3)
	assert.Equal(t, event.KindResponse, kinds[0])
	assert.Equal(t, event.KindCompleted, kinds[len(kinds)-1])

	var body strings.Builder
	for _, ev := range fwd.eventsOf(event.KindData) {
		assert.LessOrEqual(t, len(ev.Data), 4)
		body.Write(ev.Data)
	}
	assert.Equal(t, "hello world", body.String())
	assert.Equal(t, 200, fwd.eventsOf(event.KindResponse)[0].Response.StatusCode)
}

func TestHTTPSessionRedirectFollowedAndStopped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/b", http.StatusFound) })
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "b") })
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, "c") })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("follow", func(t *testing.T) {
		fwd := newFakeForwarder(nil)
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/a", nil)
		newSession(t, fwd, 0).Start(context.Background(), 1, req, nil)
		require.NoError(t, fwd.waitCompleted(t))

		redirects := fwd.eventsOf(event.KindRedirect)
		require.Len(t, redirects, 1)
		assert.Equal(t, 1, redirects[0].Redirect.Count)
		assert.Equal(t, http.StatusFound, redirects[0].Redirect.Response.StatusCode)
		assert.True(t, strings.HasSuffix(redirects[0].Redirect.Request.URL, "/b"))
		assert.True(t, strings.HasSuffix(fwd.eventsOf(event.KindResponse)[0].Response.URL, "/b"))
	})

	t.Run("stop delivers 3xx", func(t *testing.T) {
		fwd := newFakeForwarder(func(ev event.Event) (event.Decision, bool) {
			if ev.Kind == event.KindRedirect {
				return event.StopRedirect(), true
			}
			return event.Decision{}, false
		})
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/a", nil)
		newSession(t, fwd, 0).Start(context.Background(), 1, req, nil)
		require.NoError(t, fwd.waitCompleted(t))
		assert.Equal(t, http.StatusFound, fwd.eventsOf(event.KindResponse)[0].Response.StatusCode)
	})

	t.Run("rewrite", func(t *testing.T) {
		fwd := newFakeForwarder(func(ev event.Event) (event.Decision, bool) {
			if ev.Kind == event.KindRedirect {
				return event.FollowRedirect(&event.RequestInfo{URL: srv.URL + "/c"}), true
			}
			return event.Decision{}, false
		})
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/a", nil)
		newSession(t, fwd, 0).Start(context.Background(), 1, req, nil)
		require.NoError(t, fwd.waitCompleted(t))
		assert.Equal(t, []byte("c"), fwd.eventsOf(event.KindData)[0].Data)
	})
}

func TestHTTPSessionDenyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "unwanted")
	}))
	defer srv.Close()

	fwd := newFakeForwarder(func(ev event.Event) (event.Decision, bool) {
		if ev.Kind == event.KindResponse {
			return event.Deny(), true
		}
		return event.Decision{}, false
	})
	var doneErr error
	doneCalled := make(chan struct{})
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	newSession(t, fwd, 0).Start(context.Background(), 1, req, func(err error) {
		doneErr = err
		close(doneCalled)
	})

	err := fwd.waitCompleted(t)
	assert.ErrorIs(t, err, coreerrors.ErrCancelled)
	<-doneCalled
	assert.ErrorIs(t, doneErr, coreerrors.ErrCancelled)
	assert.Empty(t, fwd.eventsOf(event.KindData))
}

func TestHTTPSessionCancelDuringBody(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "first")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ops := make(chan *Operation, 1)
	cause := errors.New("stop now")
	var once sync.Once
	fwd := newFakeForwarder(func(ev event.Event) (event.Decision, bool) {
		if ev.Kind == event.KindData {
			once.Do(func() { (<-ops).Cancel(cause) })
		}
		return event.Decision{}, false
	})

	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	ops <- newSession(t, fwd, 0).Start(context.Background(), 1, req, nil)

	err := fwd.waitCompleted(t)
	assert.ErrorIs(t, err, cause)
}

func TestHTTPSessionNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	fwd := newFakeForwarder(nil)
	req, _ := http.NewRequest(http.MethodGet, addr, nil)
	newSession(t, fwd, 0).Start(context.Background(), 1, req, nil)

	err := fwd.waitCompleted(t)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeNetworkError))
	assert.Equal(t, []event.Kind{event.KindCompleted}, fwd.kinds())
}

func TestStreamingBodyUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = fmt.Fprintf(w, "%d:%s", len(b), b)
	}))
	defer srv.Close()

	body := NewStreamingBody()
	fwd := newFakeForwarder(nil)
	req, _ := http.NewRequest(http.MethodPost, srv.URL, body.Reader())
	newSession(t, fwd, 0).Start(context.Background(), 1, req, nil)

	for _, part := range []string{"ab", "cd", "e"} {
		_, err := body.Write([]byte(part))
		require.NoError(t, err)
	}
	require.NoError(t, body.Finish())

	require.NoError(t, fwd.waitCompleted(t))
	assert.Equal(t, []byte("5:abcde"), fwd.eventsOf(event.KindData)[0].Data)
}

var upgrader = websocket.Upgrader{Subprotocols: []string{"echo"}}

func echoServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestWebSocketDialerEcho(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	got := make(chan []byte, 1)
	fwd := newFakeForwarder(func(ev event.Event) (event.Decision, bool) {
		if ev.Kind == event.KindWebSocketMessage {
			got <- ev.WSMessage.Data
		}
		return event.Decision{}, false
	})
	d, err := NewWebSocketDialer(fwd, WebSocketConfig{HandshakeTimeout: 5 * time.Second, Subprotocols: []string{"echo"}}, corelog.NewNopLogger())
	require.NoError(t, err)

	conn := d.Dial(context.Background(), 1, srv.URL, nil, nil)
	select {
	case <-conn.Opened():
	case <-time.After(5 * time.Second):
		t.Fatal("websocket did not open")
	}

	require.NoError(t, conn.Send(websocket.TextMessage, []byte("ping")))
	assert.Equal(t, []byte("ping"), <-got)

	require.NoError(t, conn.Close(websocket.CloseNormalClosure, "bye"))
	require.NoError(t, fwd.waitCompleted(t))

	opens := fwd.eventsOf(event.KindWebSocketOpen)
	require.Len(t, opens, 1)
	assert.Equal(t, "echo", opens[0].WSOpen.Protocol)
	closes := fwd.eventsOf(event.KindWebSocketClose)
	require.Len(t, closes, 1)
	assert.Equal(t, websocket.CloseNormalClosure, closes[0].WSClose.Code)

	assert.Error(t, conn.Send(websocket.TextMessage, []byte("late")))
}

func TestWebSocketDialerHandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	fwd := newFakeForwarder(nil)
	d, err := NewWebSocketDialer(fwd, WebSocketConfig{}, nil)
	require.NoError(t, err)
	d.Dial(context.Background(), 1, srv.URL, nil, nil)

	err = fwd.waitCompleted(t)
	assert.True(t, coreerrors.IsCode(err, coreerrors.CodeHandshakeFailed))
}

func TestWebSocketCancel(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	fwd := newFakeForwarder(nil)
	d, err := NewWebSocketDialer(fwd, WebSocketConfig{}, nil)
	require.NoError(t, err)
	conn := d.Dial(context.Background(), 1, srv.URL, nil, nil)
	<-conn.Opened()

	cause := errors.New("shutdown")
	conn.Cancel(cause)
	assert.ErrorIs(t, fwd.waitCompleted(t), cause)
}

func TestNormalizeWebSocketURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{"https://example.test/socket", "wss://example.test/socket", false},
		{"http://example.test/socket?x=1", "ws://example.test/socket?x=1", false},
		{"ws://example.test", "ws://example.test/", false},
		{"wss://example.test/a", "wss://example.test/a", false},
		{"example.test:8080", "ws://example.test:8080/", false},
		{"ftp://example.test", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeWebSocketURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
