// Package decision 实现原生线程与消费者之间的一次性会合点
package decision

import (
	"sync"
	"time"

	coreerrors "urlport/internal/core/errors"
	"urlport/internal/core/idgen"
	"urlport/internal/event"
)

// State 待决策对象状态，只会离开 Pending 一次
type State int32

const (
	StatePending State = iota
	StateResolved
	StateCancelled
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateResolved:
		return "resolved"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// PendingDecision 一次原生回调等待消费者答复的会合点
//
// 原生线程在 Wait 中阻塞，消费者调用 Resolve 写入结果；Cancel 可在任意时刻
// 强制释放等待方。对象不可复用。
type PendingDecision struct {
	id      string
	ev      event.Event
	created time.Time

	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	result   event.Decision
	cause    error
	onSettle func(*PendingDecision)
}

// New 为事件创建待决策对象
func New(ev event.Event) *PendingDecision {
	p := &PendingDecision{
		id:      idgen.NewDecisionID(),
		ev:      ev,
		created: time.Now(),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// ID 决策标识，用于按 id 回传结果
func (p *PendingDecision) ID() string { return p.id }

// Event 等待决策的事件
func (p *PendingDecision) Event() event.Event { return p.ev }

// Task 所属任务
func (p *PendingDecision) Task() event.TaskHandle { return p.ev.Task }

// Age 自创建以来的时间
func (p *PendingDecision) Age() time.Duration { return time.Since(p.created) }

// State 当前状态
func (p *PendingDecision) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Resolve 写入决策结果并唤醒等待方
//
// 第二次调用返回 ErrAlreadyResolved，已写入的结果不变。
// 等待方已被取消或超时时为静默空操作。
func (p *PendingDecision) Resolve(v event.Decision) error {
	p.mu.Lock()
	switch p.state {
	case StateResolved:
		p.mu.Unlock()
		return coreerrors.New(coreerrors.CodeAlreadyResolved, "decision already resolved").
			WithDetailString("decision", p.id)
	case StateCancelled, StateTimedOut:
		p.mu.Unlock()
		return nil
	}
	if v.Kind != p.ev.Kind {
		v.Kind = p.ev.Kind
	}
	p.result = v
	p.state = StateResolved
	p.cond.Broadcast()
	hook := p.onSettle
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return nil
}

// Cancel 强制释放等待方，返回是否由本次调用完成取消
func (p *PendingDecision) Cancel(cause error) bool {
	return p.settle(StateCancelled, cause)
}

func (p *PendingDecision) expire() bool {
	return p.settle(StateTimedOut, nil)
}

func (p *PendingDecision) settle(state State, cause error) bool {
	p.mu.Lock()
	if p.state != StatePending {
		p.mu.Unlock()
		return false
	}
	p.state = state
	p.cause = cause
	p.cond.Broadcast()
	hook := p.onSettle
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	return true
}

// Wait 阻塞直到决策被写入、被取消或超时
//
// timeout<=0 时无限等待。取消返回 ErrCancellationDuringWait，
// 超时返回 ErrConsumerTimeout；两种情况下的决策值都是取消结果。
func (p *PendingDecision) Wait(timeout time.Duration) (event.Decision, error) {
	if timeout > 0 {
		timer := time.AfterFunc(timeout, func() { p.expire() })
		defer timer.Stop()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.state == StatePending {
		p.cond.Wait()
	}
	return p.outcomeLocked()
}

func (p *PendingDecision) outcomeLocked() (event.Decision, error) {
	switch p.state {
	case StateResolved:
		return p.result, nil
	case StateTimedOut:
		err := coreerrors.New(coreerrors.CodeConsumerTimeout, "consumer did not resolve decision in time").
			WithDetailString("decision", p.id)
		return event.Cancelled(p.ev.Kind, err), err
	default:
		var err *coreerrors.Error
		if p.cause != nil {
			err = coreerrors.Wrap(p.cause, coreerrors.CodeCancelled, "cancelled while waiting for decision")
		} else {
			err = coreerrors.New(coreerrors.CodeCancelled, "cancelled while waiting for decision")
		}
		err.WithDetailString("decision", p.id)
		return event.Cancelled(p.ev.Kind, err), err
	}
}

// setOnSettle 注册结束回调；已结束时立即回调
func (p *PendingDecision) setOnSettle(fn func(*PendingDecision)) {
	p.mu.Lock()
	p.onSettle = fn
	settled := p.state != StatePending
	p.mu.Unlock()
	if settled {
		fn(p)
	}
}
