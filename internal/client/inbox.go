package client

import (
	"context"
	"sync"

	"github.com/eapache/queue"

	coreerrors "urlport/internal/core/errors"
)

// inbox 分发循环写入、调用方读取的单读者信箱
//
// 分发循环只 put/end，从不阻塞；读者在 take 上等待。
type inbox struct {
	mu     sync.Mutex
	q      *queue.Queue
	err    error
	notify chan struct{}
}

func newInbox() *inbox {
	return &inbox{q: queue.New(), notify: make(chan struct{}, 1)}
}

func (b *inbox) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *inbox) put(v interface{}) {
	b.mu.Lock()
	if b.err == nil {
		b.q.Add(v)
	}
	b.mu.Unlock()
	b.wake()
}

// end 结束信箱，只有第一次生效；已排队的条目仍可读出
func (b *inbox) end(err error) {
	b.mu.Lock()
	if b.err == nil {
		b.err = err
	}
	b.mu.Unlock()
	b.wake()
}

func (b *inbox) ended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err != nil
}

// take 取出下一个条目；信箱结束且为空时返回结束原因
func (b *inbox) take(ctx context.Context, abort <-chan struct{}) (interface{}, error) {
	for {
		b.mu.Lock()
		if b.q.Length() > 0 {
			v := b.q.Remove()
			b.mu.Unlock()
			return v, nil
		}
		if b.err != nil {
			err := b.err
			b.mu.Unlock()
			return nil, err
		}
		b.mu.Unlock()

		select {
		case <-b.notify:
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case <-abort:
			return nil, coreerrors.ErrResourceClosed
		}
	}
}
