// Package dispatch 实现消费者侧的单线程分发循环
//
// 分发器从一个消息端口取出待决策对象，按任务路由给 Handler，
// 并把决策写回。所有 Handler 回调都在分发循环上串行执行。
package dispatch

import (
	"context"
	"errors"
	"sync"

	"urlport/internal/core/dispose"
	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
	"urlport/internal/core/safe"
	"urlport/internal/decision"
	"urlport/internal/event"
)

// Receiver 消息端口的接收侧
type Receiver interface {
	Receive(ctx context.Context) (*decision.PendingDecision, error)
}

// Dispatcher 分发器
type Dispatcher struct {
	*dispose.ResourceBase

	port   Receiver
	logger corelog.Logger
	ctl    chan func()

	mu    sync.Mutex
	tasks map[event.TaskHandle]*Task
}

// New 创建分发器
func New(parentCtx context.Context, port Receiver, logger corelog.Logger) *Dispatcher {
	d := &Dispatcher{
		ResourceBase: dispose.NewResourceBase("Dispatcher"),
		port:         port,
		logger:       corelog.OrDefault(logger),
		ctl:          make(chan func(), 64),
		tasks:        make(map[event.TaskHandle]*Task),
	}
	d.Initialize(parentCtx)
	return d
}

// Track 开始跟踪任务
func (d *Dispatcher) Track(h event.TaskHandle, handler Handler, opts Options) (*Task, error) {
	if handler == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "handler is nil")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.tasks[h]; exists {
		return nil, coreerrors.Newf(coreerrors.CodeDuplicateRegistration, "task %d already tracked", h)
	}
	t := &Task{
		handle:  h,
		opts:    opts,
		handler: handler,
		d:       d,
		logger:  corelog.ForTask(d.logger, uint64(h)),
	}
	d.tasks[h] = t
	return t, nil
}

// Task 查找任务
func (d *Dispatcher) Task(h event.TaskHandle) (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[h]
	return t, ok
}

// Len 正在跟踪的任务数
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

func (d *Dispatcher) untrack(h event.TaskHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.tasks, h)
}

// post 把函数交给分发循环执行
func (d *Dispatcher) post(fn func()) {
	select {
	case d.ctl <- fn:
	default:
		safe.Go("dispatch-post", func() {
			select {
			case d.ctl <- fn:
			case <-d.Ctx().Done():
			}
		})
	}
}

func (d *Dispatcher) runPosted() {
	for {
		select {
		case fn := <-d.ctl:
			fn()
		default:
			return
		}
	}
}

// Run 分发循环，直到 ctx 结束、分发器关闭或端口关闭
func (d *Dispatcher) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(d.Ctx(), cancel)
	defer stop()

	msgs := make(chan *decision.PendingDecision)
	errc := make(chan error, 1)
	safe.GoWithContext(runCtx, "dispatch-receive", func(ctx context.Context) {
		for {
			pd, err := d.port.Receive(ctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case msgs <- pd:
			case <-ctx.Done():
				pd.Cancel(coreerrors.ErrResourceClosed)
				return
			}
		}
	})

	for {
		select {
		case fn := <-d.ctl:
			fn()
		case pd := <-msgs:
			d.Dispatch(pd)
		case err := <-errc:
			d.runPosted()
			if errors.Is(err, coreerrors.ErrPortClosed) || runCtx.Err() != nil {
				d.logger.Debug("dispatch loop stopped")
				return nil
			}
			return err
		case <-runCtx.Done():
			d.runPosted()
			d.logger.Debug("dispatch loop stopped")
			return nil
		}
	}
}

// Dispatch 处理单个待决策对象并写回决策，必须在分发循环上调用
func (d *Dispatcher) Dispatch(pd *decision.PendingDecision) {
	d.runPosted()
	dec := d.decide(pd.Event())
	if err := pd.Resolve(dec); err != nil {
		d.logger.WithError(err).WithField(corelog.FieldDecision, pd.ID()).Warn("failed to resolve decision")
	}
}

func (d *Dispatcher) decide(ev event.Event) (dec event.Decision) {
	t, ok := d.Task(ev.Task)
	if !ok {
		d.logger.WithFields(map[string]interface{}{
			corelog.FieldTask: uint64(ev.Task),
			corelog.FieldKind: ev.Kind.String(),
		}).Debug("decision for untracked task, applying default")
		return event.DefaultDecision(ev.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			err := coreerrors.Newf(coreerrors.CodeInternal, "handler panic: %v", r)
			t.logger.WithError(err).Error("handler panicked, cancelling task")
			t.Cancel(err)
			dec = event.Cancelled(ev.Kind, err)
		}
	}()
	return t.handleEvent(ev)
}
