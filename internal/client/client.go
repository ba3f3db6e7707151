// Package client 组装转发器、消息端口、分发器和原生驱动，
// 提供面向调用方的 HTTP 请求与 WebSocket 连接接口
package client

import (
	"context"
	"net/http"
	"sync"

	"urlport/internal/config/schema"
	"urlport/internal/config/source"
	"urlport/internal/core/dispose"
	coreerrors "urlport/internal/core/errors"
	"urlport/internal/core/idgen"
	corelog "urlport/internal/core/log"
	"urlport/internal/core/safe"
	"urlport/internal/dispatch"
	"urlport/internal/event"
	"urlport/internal/forwarder"
	"urlport/internal/native"
	"urlport/internal/port"
)

// RedirectPolicy 决定是否跟随重定向，返回非 nil 的请求时替换原生栈提议的请求
type RedirectPolicy func(r *event.Redirect) (follow bool, req *event.RequestInfo)

// Options 客户端附加选项
type Options struct {
	// Transport 非 nil 时替代默认 http.Transport（测试用）
	Transport http.RoundTripper
	Redirect  RedirectPolicy
}

// canceler 正在运行的原生操作
type canceler interface {
	Cancel(cause error)
	Done() <-chan struct{}
}

// Client 进程内消费者
type Client struct {
	*dispose.ResourceBase

	cfg    *schema.Root
	opts   Options
	logger corelog.Logger

	fwd  *forwarder.Forwarder
	port *port.Port
	disp *dispatch.Dispatcher
	http *native.HTTPSession
	ws   *native.WebSocketDialer
	ids  *idgen.TaskIDs

	mu  sync.Mutex
	ops map[event.TaskHandle]canceler

	loopDone chan struct{}
	loopErr  error
}

// New 创建客户端并启动分发循环，cfg 为 nil 时使用默认配置
func New(parentCtx context.Context, cfg *schema.Root, opts Options, logger corelog.Logger) (*Client, error) {
	if cfg == nil {
		cfg = source.GetDefaultConfig()
	}
	logger = corelog.OrDefault(logger)

	c := &Client{
		ResourceBase: dispose.NewResourceBase("Client"),
		cfg:          cfg,
		opts:         opts,
		logger:       logger,
		ids:          idgen.NewTaskIDs(),
		ops:          make(map[event.TaskHandle]canceler),
		loopDone:     make(chan struct{}),
	}
	c.Initialize(parentCtx)

	c.fwd = forwarder.New(c.Ctx(), forwarder.Config{
		WaitTimeout:          cfg.Bridge.WaitTimeout,
		RetiredTaskCache:     cfg.Bridge.RetiredTaskCache,
		SettledDecisionCache: cfg.Bridge.SettledDecisionCache,
	}, logger)
	c.port = port.New(c.Ctx(), port.Config{WarnDepth: cfg.Bridge.MailboxWarnDepth}, logger)
	c.disp = dispatch.New(c.Ctx(), c.port, logger)

	httpCfg := native.HTTPConfig{
		ReadChunkSize:      cfg.HTTP.ReadChunkSize,
		Timeout:            cfg.HTTP.Timeout,
		UserAgent:          cfg.HTTP.UserAgent,
		CookieJar:          cfg.HTTP.CookieJar,
		MaxIdleConns:       cfg.HTTP.MaxIdleConns,
		DisableCompression: cfg.HTTP.DisableCompression,
	}
	if opts.Transport != nil {
		httpCfg.Transport = opts.Transport
	}
	session, err := native.NewHTTPSession(c.fwd, httpCfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.http = session

	dialer, err := native.NewWebSocketDialer(c.fwd, native.WebSocketConfig{
		HandshakeTimeout:  cfg.WebSocket.HandshakeTimeout,
		ReadBufferSize:    cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:   cfg.WebSocket.WriteBufferSize,
		Subprotocols:      cfg.WebSocket.Subprotocols,
		EnableCompression: cfg.WebSocket.EnableCompression,
		Jar:               session.Jar(),
	}, logger)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.ws = dialer

	c.AddCleanHandler(c.onClose)

	safe.GoWithContext(c.Ctx(), "client-dispatch", func(ctx context.Context) {
		defer close(c.loopDone)
		if err := c.disp.Run(ctx); err != nil {
			c.loopErr = err
			c.logger.WithError(err).Error("dispatch loop exited")
		}
	})
	return c, nil
}

func (c *Client) onClose() error {
	c.mu.Lock()
	ops := make([]canceler, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, op)
	}
	c.mu.Unlock()

	for _, op := range ops {
		op.Cancel(coreerrors.ErrResourceClosed)
	}
	c.fwd.Close()
	c.port.Close()
	c.disp.Close()
	return nil
}

// Forwarder 底层转发器
func (c *Client) Forwarder() *forwarder.Forwarder { return c.fwd }

// Stats 转发器统计
func (c *Client) Stats() forwarder.Stats { return c.fwd.Stats() }

// Running 正在运行的原生操作数
func (c *Client) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ops)
}

// Wait 等待分发循环退出
func (c *Client) Wait() error {
	<-c.loopDone
	return c.loopErr
}

func (c *Client) taskOptions() dispatch.Options {
	return dispatch.Options{
		FollowRedirects: c.cfg.HTTP.FollowRedirects,
		MaxRedirects:    c.cfg.HTTP.MaxRedirects,
		FlushThreshold:  c.cfg.HTTP.FlushThreshold,
	}
}

// begin 分配句柄，同时注册到分发器和转发器
func (c *Client) begin(handler dispatch.Handler) (*dispatch.Task, error) {
	if c.IsClosed() {
		return nil, coreerrors.ErrResourceClosed
	}
	h := event.TaskHandle(c.ids.Next())
	t, err := c.disp.Track(h, handler, c.taskOptions())
	if err != nil {
		return nil, err
	}
	if err := c.fwd.Register(h, c.port); err != nil {
		t.Cancel(err)
		return nil, err
	}
	return t, nil
}

// track 记录原生操作；操作已结束（done 先于 track 执行）时不记录
func (c *Client) track(h event.TaskHandle, op canceler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-op.Done():
		return
	default:
	}
	c.ops[h] = op
}

// done 原生操作结束后的收尾
func (c *Client) done(h event.TaskHandle) {
	c.mu.Lock()
	delete(c.ops, h)
	c.mu.Unlock()
	c.fwd.Unregister(h)
}

// cancel 释放任务占用的一切：被阻塞的原生回调、原生操作和分发器状态
func (c *Client) cancel(t *dispatch.Task, cause error) {
	if cause == nil {
		cause = coreerrors.ErrCancelled
	}
	h := t.Handle()
	t.Cancel(cause)
	c.fwd.Cancel(h, cause)

	c.mu.Lock()
	op := c.ops[h]
	c.mu.Unlock()
	if op != nil {
		op.Cancel(cause)
	}
}
