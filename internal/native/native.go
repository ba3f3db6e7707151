// Package native 以回调方式驱动 net/http 和 gorilla/websocket
//
// 驱动在自己的协程上运行一次原生操作，并在每个回调点同步调用
// Forwarder.OnEvent，根据返回的决策继续或中止操作。
package native

import (
	"context"
	"sync"

	coreerrors "urlport/internal/core/errors"
	"urlport/internal/event"
)

// Forwarder 回调入口
type Forwarder interface {
	OnEvent(h event.TaskHandle, ev event.Event) (event.Decision, error)
}

// Operation 正在运行的原生操作
type Operation struct {
	handle event.TaskHandle
	cancel context.CancelCauseFunc

	once sync.Once
	done chan struct{}
	err  error
}

func newOperation(h event.TaskHandle, cancel context.CancelCauseFunc) *Operation {
	return &Operation{handle: h, cancel: cancel, done: make(chan struct{})}
}

// Handle 任务标识
func (o *Operation) Handle() event.TaskHandle { return o.handle }

// Cancel 中止操作，cause 为 nil 时使用 ErrCancelled
func (o *Operation) Cancel(cause error) {
	if cause == nil {
		cause = coreerrors.ErrCancelled
	}
	o.cancel(cause)
}

// Done 操作结束后关闭
func (o *Operation) Done() <-chan struct{} { return o.done }

// Err 操作结束时的错误，Done 关闭前为 nil
func (o *Operation) Err() error {
	select {
	case <-o.done:
		return o.err
	default:
		return nil
	}
}

// finish 只生效一次，返回是否由本次调用结束
func (o *Operation) finish(err error) bool {
	first := false
	o.once.Do(func() {
		o.err = err
		close(o.done)
		first = true
	})
	return first
}

// decisionErr 决策要求中止时给出的错误
func decisionErr(d event.Decision) error {
	if d.Err != nil {
		return d.Err
	}
	return coreerrors.ErrCancelled
}

// contextErr 优先返回取消原因
func contextErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
	}
	return err
}
