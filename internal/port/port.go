// Package port 实现转发器与消费者之间的消息端口
//
// 端口是无界、有序、多生产者单消费者的信箱，承载待决策对象。
// 发送从不丢弃消息，也从不阻塞原生线程。
package port

import (
	"context"
	"sync"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/time/rate"

	"urlport/internal/core/dispose"
	coreerrors "urlport/internal/core/errors"
	"urlport/internal/core/idgen"
	corelog "urlport/internal/core/log"
	"urlport/internal/core/metrics"
	"urlport/internal/decision"
)

// Config 端口配置
type Config struct {
	// WarnDepth 积压超过该深度时记录告警，0 表示不告警
	WarnDepth int
}

// Port 消息端口
type Port struct {
	*dispose.ResourceBase

	id     string
	cfg    Config
	logger corelog.Logger

	mu     sync.Mutex
	q      *queue.Queue
	closed bool
	notify chan struct{}

	warn rate.Sometimes
}

// New 创建消息端口
func New(parentCtx context.Context, cfg Config, logger corelog.Logger) *Port {
	p := &Port{
		ResourceBase: dispose.NewResourceBase("Port"),
		id:           idgen.NewPortID(),
		cfg:          cfg,
		q:            queue.New(),
		notify:       make(chan struct{}, 1),
		warn:         rate.Sometimes{First: 1, Interval: 5 * time.Second},
	}
	p.logger = corelog.OrDefault(logger).WithField(corelog.FieldPort, p.id)
	p.AddCleanHandler(p.onClose)
	p.Initialize(parentCtx)
	return p
}

func (p *Port) onClose() error {
	p.mu.Lock()
	p.closed = true
	n := p.q.Length()
	p.mu.Unlock()
	p.wake()
	if n > 0 {
		p.logger.Debugf("port closed with %d undelivered decisions", n)
	}
	return nil
}

// ID 端口标识
func (p *Port) ID() string { return p.id }

// Send 投递待决策对象，端口关闭后返回 ErrPortClosed
func (p *Port) Send(d *decision.PendingDecision) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return coreerrors.ErrPortClosed
	}
	p.q.Add(d)
	depth := p.q.Length()
	p.mu.Unlock()

	p.wake()
	metrics.SetPortBacklog(depth)
	if p.cfg.WarnDepth > 0 && depth > p.cfg.WarnDepth {
		p.warn.Do(func() {
			p.logger.Warnf("port backlog %d exceeds %d, consumer is falling behind", depth, p.cfg.WarnDepth)
		})
	}
	return nil
}

func (p *Port) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// TryReceive 非阻塞取出下一条消息
func (p *Port) TryReceive() (*decision.PendingDecision, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.q.Length() == 0 {
		return nil, false
	}
	d := p.q.Remove().(*decision.PendingDecision)
	metrics.SetPortBacklog(p.q.Length())
	return d, true
}

// Receive 阻塞直到有消息、ctx 结束，或端口已关闭且排空
func (p *Port) Receive(ctx context.Context) (*decision.PendingDecision, error) {
	for {
		if d, ok := p.TryReceive(); ok {
			return d, nil
		}

		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return nil, coreerrors.ErrPortClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.notify:
		case <-p.Ctx().Done():
			// 关闭处理器可能尚未执行，再检查一次队列后按关闭处理
			if d, ok := p.TryReceive(); ok {
				return d, nil
			}
			return nil, coreerrors.ErrPortClosed
		}
	}
}

// Len 当前积压数量
func (p *Port) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.q.Length()
}
