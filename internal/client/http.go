package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	coreerrors "urlport/internal/core/errors"
	"urlport/internal/dispatch"
	"urlport/internal/event"
)

// ErrBodyClosed 读取已关闭的响应体
var ErrBodyClosed = coreerrors.New(coreerrors.CodeResourceClosed, "response body closed")

// Response 响应头已到达的 HTTP 任务
type Response struct {
	Handle        event.TaskHandle
	StatusCode    int
	Status        string
	Proto         string
	Header        http.Header
	ContentLength int64
	// URL 最终响应的地址（跟随重定向之后）
	URL       string
	Redirects int
	// Body 按刷新阈值接收数据，任务结束时读到 io.EOF 或任务错误
	Body io.ReadCloser
}

// Do 发起请求并等待响应头
//
// 返回后响应体仍在后台接收；关闭 Body 会取消尚未结束的任务。
// ctx 贯穿整个任务，包括响应体的接收。
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	if req == nil || req.URL == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "request is nil")
	}

	body := &bodyStream{in: newInbox(), abort: c.Ctx().Done()}
	var (
		once    sync.Once
		headers = make(chan struct{})
		resp    *Response
		headErr error
	)
	ready := func(r *Response, err error) {
		once.Do(func() {
			resp, headErr = r, err
			close(headers)
		})
	}

	handler := dispatch.HandlerFuncs{
		Response: func(t *dispatch.Task, info *event.ResponseInfo) event.Disposition {
			ready(&Response{
				Handle:        t.Handle(),
				StatusCode:    info.StatusCode,
				Status:        info.Status,
				Proto:         info.Proto,
				Header:        info.Header,
				ContentLength: info.ContentLength,
				URL:           info.URL,
				Redirects:     t.Redirects(),
				Body:          body,
			}, nil)
			return event.DispositionAllow
		},
		Redirect: func(t *dispatch.Task, r *event.Redirect) (bool, *event.RequestInfo) {
			if c.opts.Redirect != nil {
				return c.opts.Redirect(r)
			}
			return true, nil
		},
		Data: func(t *dispatch.Task, data []byte) {
			body.in.put(data)
		},
		Complete: func(t *dispatch.Task, err error) {
			if err == nil {
				body.in.end(io.EOF)
				ready(nil, coreerrors.New(coreerrors.CodeProtocolError, "task completed without a response"))
				return
			}
			err = taskErr(err)
			body.in.end(err)
			ready(nil, err)
		},
		Cancel: func(t *dispatch.Task, cause error) {
			err := cancelErr(cause)
			body.in.end(err)
			ready(nil, err)
		},
	}

	t, err := c.begin(handler)
	if err != nil {
		return nil, err
	}
	body.cancel = func() { c.cancel(t, ErrBodyClosed) }

	h := t.Handle()
	op := c.http.Start(ctx, h, req, func(error) { c.done(h) })
	c.track(h, op)

	select {
	case <-headers:
		if headErr != nil {
			return nil, headErr
		}
		return resp, nil
	case <-ctx.Done():
		err := coreerrors.Wrap(context.Cause(ctx), coreerrors.CodeCancelled, "request cancelled")
		c.cancel(t, err)
		return nil, err
	case <-c.Ctx().Done():
		return nil, coreerrors.ErrResourceClosed
	}
}

// Get 便捷 GET 请求
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeInvalidParam, "invalid request")
	}
	return c.Do(ctx, req)
}

// Cancel 取消任务，任务未知或已结束时返回 false
func (c *Client) Cancel(h event.TaskHandle, cause error) bool {
	t, ok := c.disp.Task(h)
	if !ok {
		return false
	}
	c.cancel(t, cause)
	return true
}

// taskErr 把 context 的取消归一为取消错误
func taskErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return cancelErr(err)
	}
	return err
}

func cancelErr(cause error) error {
	if cause == nil {
		return coreerrors.ErrCancelled
	}
	if coreerrors.IsCancelled(cause) {
		return cause
	}
	return coreerrors.Wrap(cause, coreerrors.CodeCancelled, "task cancelled")
}

// bodyStream 把分发循环交付的数据块适配为 io.ReadCloser
type bodyStream struct {
	in     *inbox
	abort  <-chan struct{}
	cancel func()

	mu     sync.Mutex
	cur    []byte
	closed atomic.Bool
}

func (b *bodyStream) Read(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, ErrBodyClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(p) == 0 {
		return 0, nil
	}
	for len(b.cur) == 0 {
		v, err := b.in.take(context.Background(), b.abort)
		if err != nil {
			return 0, err
		}
		b.cur = v.([]byte)
	}
	n := copy(p, b.cur)
	b.cur = b.cur[n:]
	return n, nil
}

// Close 关闭响应体，任务未结束时取消任务
func (b *bodyStream) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if !b.in.ended() && b.cancel != nil {
		b.cancel()
	}
	return nil
}
