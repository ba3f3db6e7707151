package dispatch

import (
	"bytes"
	"sync"
	"sync/atomic"

	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
	"urlport/internal/core/metrics"
	"urlport/internal/event"
)

// State 任务状态
//
//	Created → Started → Responding → Streaming* → Completed
//	Started → Redirecting → Started | Completed
//	任意非终态 → Cancelled
type State int

const (
	StateCreated State = iota
	StateStarted
	StateResponding
	StateStreaming
	StateRedirecting
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateResponding:
		return "responding"
	case StateStreaming:
		return "streaming"
	case StateRedirecting:
		return "redirecting"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal 是否为终态
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Options 任务选项
type Options struct {
	FollowRedirects bool
	MaxRedirects    int
	// FlushThreshold 数据聚合到该字节数后交给 Handler，<=0 时每块立即交付
	FlushThreshold int
}

// Task 消费者侧的任务
//
// 事件处理和 Handler 回调只发生在分发循环上；状态可从任意协程读取。
type Task struct {
	handle  event.TaskHandle
	opts    Options
	handler Handler
	d       *Dispatcher
	logger  corelog.Logger

	mu    sync.Mutex
	state State
	err   error

	redirects atomic.Int32
	buffered  atomic.Int64

	// 仅分发循环访问
	lastSeq uint64
	buf     bytes.Buffer
}

// Handle 任务标识
func (t *Task) Handle() event.TaskHandle { return t.handle }

// Options 任务选项
func (t *Task) Options() Options { return t.opts }

// State 当前状态
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err 任务结束时的错误
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Redirects 已发生的重定向次数
func (t *Task) Redirects() int { return int(t.redirects.Load()) }

// Buffered 尚未交付给 Handler 的字节数
func (t *Task) Buffered() int { return int(t.buffered.Load()) }

// Cancel 取消任务，返回是否由本次调用完成取消
//
// 可在任意协程（包括 Handler 回调内）调用。此后该任务的事件都得到默认决策，
// OnCancel 随后在分发循环上调用一次。
func (t *Task) Cancel(cause error) bool {
	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.state = StateCancelled
	t.err = cause
	t.mu.Unlock()

	t.d.untrack(t.handle)
	t.d.post(func() {
		t.buf.Reset()
		t.buffered.Store(0)
		t.handler.OnCancel(t, cause)
	})
	t.logger.Debug("task cancelled")
	return true
}

// advance 从 allowed 中的状态迁移到 to；allowed 为空时允许任意非终态
func (t *Task) advance(to State, allowed ...State) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.state
	if cur.Terminal() {
		return cur, false
	}
	if len(allowed) > 0 {
		ok := false
		for _, s := range allowed {
			if cur == s {
				ok = true
				break
			}
		}
		if !ok {
			return cur, false
		}
	}
	t.state = to
	return cur, true
}

// handleEvent 处理一个事件并返回决策，只在分发循环上调用
func (t *Task) handleEvent(ev event.Event) event.Decision {
	if ev.Seq != 0 {
		if ev.Seq <= t.lastSeq {
			t.logger.WithField(corelog.FieldSeq, ev.Seq).Errorf("event out of order, last seq %d", t.lastSeq)
		}
		t.lastSeq = ev.Seq
	}

	// 首个事件隐式开始任务
	t.advance(StateStarted, StateCreated)

	switch ev.Kind {
	case event.KindRedirect:
		if cur, ok := t.advance(StateRedirecting, StateStarted, StateRedirecting); !ok {
			return t.reject(ev, cur)
		}
		return t.onRedirect(ev.Redirect)

	case event.KindResponse:
		if cur, ok := t.advance(StateResponding, StateStarted, StateRedirecting); !ok {
			return t.reject(ev, cur)
		}
		disp := t.handler.OnResponse(t, ev.Response)
		return event.Decision{Kind: event.KindResponse, Disposition: disp}

	case event.KindData:
		if cur, ok := t.advance(StateStreaming, StateResponding, StateStreaming); !ok {
			return t.reject(ev, cur)
		}
		t.buf.Write(ev.Data)
		t.buffered.Store(int64(t.buf.Len()))
		if t.opts.FlushThreshold <= 0 || t.buf.Len() >= t.opts.FlushThreshold {
			t.flush()
		}
		return event.Continue(event.KindData)

	case event.KindCompleted:
		if !t.complete(ev.Err()) {
			return event.DefaultDecision(ev.Kind)
		}
		return event.Continue(event.KindCompleted)

	case event.KindWebSocketOpen:
		if cur, ok := t.advance(StateStreaming, StateStarted); !ok {
			return t.reject(ev, cur)
		}
		t.handler.OnWebSocketOpen(t, ev.WSOpen.Protocol)
		return event.Continue(event.KindWebSocketOpen)

	case event.KindWebSocketMessage:
		if cur, ok := t.advance(StateStreaming, StateStreaming); !ok {
			return t.reject(ev, cur)
		}
		t.handler.OnWebSocketMessage(t, ev.WSMessage.Type, ev.WSMessage.Data)
		return event.Continue(event.KindWebSocketMessage)

	case event.KindWebSocketClose:
		if cur, ok := t.advance(StateStreaming, StateStreaming); !ok {
			return t.reject(ev, cur)
		}
		t.handler.OnWebSocketClose(t, ev.WSClose.Code, ev.WSClose.Reason)
		return event.Continue(event.KindWebSocketClose)
	}
	return t.reject(ev, t.State())
}

func (t *Task) onRedirect(r *event.Redirect) event.Decision {
	n := int(t.redirects.Add(1))

	if !t.opts.FollowRedirects {
		t.advance(StateStarted, StateRedirecting)
		return event.StopRedirect()
	}
	if n > t.opts.MaxRedirects {
		err := coreerrors.Newf(coreerrors.CodeRedirectLimit, "stopped after %d redirects", t.opts.MaxRedirects).
			WithDetailInt("max_redirects", int64(t.opts.MaxRedirects))
		if r != nil && r.Request != nil {
			err.WithDetailString("location", r.Request.URL)
		}
		t.logger.Warn(err.Error())
		t.complete(err)
		return event.StopRedirect()
	}

	follow, req := t.handler.OnRedirect(t, r)
	if !follow {
		t.advance(StateStarted, StateRedirecting)
		return event.StopRedirect()
	}
	if _, ok := t.advance(StateRedirecting, StateRedirecting); !ok {
		return event.DefaultDecision(event.KindRedirect)
	}
	return event.FollowRedirect(req)
}

func (t *Task) flush() {
	if t.buf.Len() == 0 {
		return
	}
	data := make([]byte, t.buf.Len())
	copy(data, t.buf.Bytes())
	t.buf.Reset()
	t.buffered.Store(0)
	metrics.AddFlushedBytes(len(data))
	t.handler.OnData(t, data)
}

// complete 先交付缓冲数据，再结束任务；任务已结束时返回 false
func (t *Task) complete(err error) bool {
	t.mu.Lock()
	terminal := t.state.Terminal()
	t.mu.Unlock()
	if terminal {
		return false
	}
	t.flush()

	t.mu.Lock()
	if t.state.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.state = StateCompleted
	t.err = err
	t.mu.Unlock()

	t.d.untrack(t.handle)
	t.handler.OnComplete(t, err)
	return true
}

func (t *Task) reject(ev event.Event, cur State) event.Decision {
	if !cur.Terminal() {
		t.logger.WithFields(map[string]interface{}{
			corelog.FieldKind: ev.Kind.String(),
			"state":           cur.String(),
		}).Warn("event not valid in current task state")
	}
	return event.DefaultDecision(ev.Kind)
}
