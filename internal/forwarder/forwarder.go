// Package forwarder 把原生回调转换为阻塞的决策点
//
// 原生线程调用 OnEvent，转发器为事件创建待决策对象、投递到任务注册的
// 消息端口，并在其上阻塞直到消费者答复、任务被取消或等待超时。
package forwarder

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"urlport/internal/core/dispose"
	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
	"urlport/internal/core/metrics"
	"urlport/internal/decision"
	"urlport/internal/event"
)

// Sender 消息端口的发送侧
type Sender interface {
	Send(d *decision.PendingDecision) error
}

// Config 转发器配置
type Config struct {
	// WaitTimeout 单个决策的最长等待时间，0 表示无限等待
	WaitTimeout          time.Duration
	RetiredTaskCache     int
	SettledDecisionCache int
}

// Stats 转发器统计
type Stats struct {
	Registered int
	Inflight   int
}

type registration struct {
	handle event.TaskHandle
	port   Sender

	// order 保证同一任务的决策按回调顺序请求
	order sync.Mutex

	mu        sync.Mutex
	seq       uint64
	inflight  *decision.PendingDecision
	cancelled bool
	cause     error
	failed    error
}

// Forwarder 事件转发器，独占任务注册表
type Forwarder struct {
	*dispose.ResourceBase

	cfg    Config
	logger corelog.Logger

	mu      sync.RWMutex
	tasks   map[event.TaskHandle]*registration
	retired *lru.Cache[event.TaskHandle, struct{}]

	decisions *decision.Registry
	stray     rate.Sometimes
}

// New 创建转发器
func New(parentCtx context.Context, cfg Config, logger corelog.Logger) *Forwarder {
	retiredSize := cfg.RetiredTaskCache
	if retiredSize <= 0 {
		retiredSize = 4096
	}
	retired, _ := lru.New[event.TaskHandle, struct{}](retiredSize)

	f := &Forwarder{
		ResourceBase: dispose.NewResourceBase("Forwarder"),
		cfg:          cfg,
		logger:       corelog.OrDefault(logger),
		tasks:        make(map[event.TaskHandle]*registration),
		retired:      retired,
		decisions:    decision.NewRegistry(cfg.SettledDecisionCache),
		stray:        rate.Sometimes{First: 3, Interval: time.Second},
	}
	f.AddCleanHandler(f.onClose)
	f.Initialize(parentCtx)
	return f
}

func (f *Forwarder) onClose() error {
	f.mu.Lock()
	regs := make([]*registration, 0, len(f.tasks))
	for h, reg := range f.tasks {
		regs = append(regs, reg)
		delete(f.tasks, h)
		metrics.TaskUnregistered()
	}
	f.mu.Unlock()

	for _, reg := range regs {
		reg.cancel(coreerrors.ErrResourceClosed)
	}
	if n := f.decisions.CancelAll(coreerrors.ErrResourceClosed); n > 0 {
		f.logger.Debugf("forwarder closed, released %d waiting callbacks", n)
	}
	return nil
}

// Register 为任务绑定消息端口
func (f *Forwarder) Register(h event.TaskHandle, port Sender) error {
	if port == nil {
		return coreerrors.New(coreerrors.CodeInvalidParam, "port is nil")
	}
	if f.IsClosed() {
		return coreerrors.ErrResourceClosed
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.tasks[h]; exists {
		return coreerrors.Newf(coreerrors.CodeDuplicateRegistration, "task %d already registered", h).
			WithDetailInt("task", int64(h))
	}
	f.tasks[h] = &registration{handle: h, port: port}
	f.retired.Remove(h)
	metrics.TaskRegistered()
	return nil
}

// Unregister 移除任务，任务不存在时为空操作
func (f *Forwarder) Unregister(h event.TaskHandle) bool {
	return f.remove(h) != nil
}

func (f *Forwarder) remove(h event.TaskHandle) *registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.tasks[h]
	if !ok {
		return nil
	}
	delete(f.tasks, h)
	f.retired.Add(h, struct{}{})
	metrics.TaskUnregistered()
	return reg
}

// Cancel 注销任务并强制释放其正在等待的回调
func (f *Forwarder) Cancel(h event.TaskHandle, cause error) bool {
	reg := f.remove(h)
	if reg == nil {
		return false
	}
	reg.cancel(cause)
	corelog.ForTask(f.logger, uint64(h)).Debug("task cancelled")
	return true
}

func (r *registration) cancel(cause error) {
	r.mu.Lock()
	r.cancelled = true
	r.cause = cause
	inflight := r.inflight
	r.mu.Unlock()

	if inflight != nil {
		inflight.Cancel(cause)
	}
}

func (r *registration) cancelledErr() error {
	if r.cause != nil {
		return coreerrors.Wrap(r.cause, coreerrors.CodeCancelled, "task cancelled")
	}
	return coreerrors.ErrCancelled
}

// Registered 任务是否已注册
func (f *Forwarder) Registered(h event.TaskHandle) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.tasks[h]
	return ok
}

// OnEvent 原生回调入口，阻塞直到得到决策
//
// 任务未注册时不修改任何状态，返回 DefaultDecision 和 ErrUnknownTask。
func (f *Forwarder) OnEvent(h event.TaskHandle, ev event.Event) (event.Decision, error) {
	f.mu.RLock()
	reg := f.tasks[h]
	f.mu.RUnlock()

	if reg == nil {
		f.logStray(h, ev.Kind)
		metrics.StrayEvent()
		return event.DefaultDecision(ev.Kind), coreerrors.Newf(coreerrors.CodeUnknownTask, "task %d not registered", h).
			WithDetailInt("task", int64(h))
	}
	if err := ev.Validate(); err != nil {
		return event.DefaultDecision(ev.Kind), err
	}

	reg.order.Lock()
	defer reg.order.Unlock()

	reg.mu.Lock()
	if reg.cancelled {
		err := reg.cancelledErr()
		reg.mu.Unlock()
		return event.Cancelled(ev.Kind, err), err
	}
	if reg.failed != nil {
		if ev.Kind != event.KindCompleted {
			err := reg.failed
			reg.mu.Unlock()
			return event.Cancelled(ev.Kind, err), err
		}
		if ev.Err() == nil {
			ev.Completed = &event.Completion{Err: reg.failed}
		}
	}
	reg.seq++
	ev.Task = h
	ev.Seq = reg.seq
	pd := decision.New(ev)
	reg.inflight = pd
	reg.mu.Unlock()

	logger := f.logger.WithFields(map[string]interface{}{
		corelog.FieldTask:     uint64(h),
		corelog.FieldKind:     ev.Kind.String(),
		corelog.FieldSeq:      ev.Seq,
		corelog.FieldDecision: pd.ID(),
	})

	f.decisions.Add(pd)
	metrics.DecisionRequested(ev.Kind.String())
	if err := reg.port.Send(pd); err != nil {
		logger.WithError(err).Warn("failed to deliver decision to port")
		pd.Cancel(err)
	}

	d, err := pd.Wait(f.cfg.WaitTimeout)

	reg.mu.Lock()
	reg.inflight = nil
	if coreerrors.IsCode(err, coreerrors.CodeConsumerTimeout) {
		reg.failed = err
	}
	reg.mu.Unlock()

	switch {
	case err == nil:
		metrics.DecisionSettled("resolved")
	case coreerrors.IsCode(err, coreerrors.CodeConsumerTimeout):
		metrics.DecisionSettled("timed_out")
		logger.Warnf("consumer did not answer within %s, task failed", f.cfg.WaitTimeout)
	default:
		metrics.DecisionSettled("cancelled")
		logger.WithError(err).Debug("decision cancelled")
	}
	return d, err
}

func (f *Forwarder) logStray(h event.TaskHandle, kind event.Kind) {
	if f.retired.Contains(h) {
		f.logger.WithFields(map[string]interface{}{
			corelog.FieldTask: uint64(h),
			corelog.FieldKind: kind.String(),
		}).Debug("event for retired task ignored")
		return
	}
	f.stray.Do(func() {
		f.logger.WithFields(map[string]interface{}{
			corelog.FieldTask: uint64(h),
			corelog.FieldKind: kind.String(),
		}).Warn("event for unknown task ignored")
	})
}

// Resolve 按决策 id 写入结果
func (f *Forwarder) Resolve(id string, v event.Decision) error {
	return f.decisions.Resolve(id, v)
}

// Stats 当前统计
func (f *Forwarder) Stats() Stats {
	f.mu.RLock()
	n := len(f.tasks)
	f.mu.RUnlock()
	return Stats{Registered: n, Inflight: f.decisions.Len()}
}
