package native

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
	"urlport/internal/core/safe"
	"urlport/internal/event"
)

// WebSocketConfig WebSocket 驱动配置
type WebSocketConfig struct {
	HandshakeTimeout  time.Duration
	ReadBufferSize    int
	WriteBufferSize   int
	Subprotocols      []string
	EnableCompression bool
	Jar               http.CookieJar
}

// WebSocketDialer 以回调方式驱动 gorilla/websocket 连接
type WebSocketDialer struct {
	dialer *websocket.Dialer
	fwd    Forwarder
	logger corelog.Logger
}

// NewWebSocketDialer 创建拨号器
func NewWebSocketDialer(fwd Forwarder, cfg WebSocketConfig, logger corelog.Logger) (*WebSocketDialer, error) {
	if fwd == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "forwarder is nil")
	}
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  cfg.HandshakeTimeout,
			ReadBufferSize:    cfg.ReadBufferSize,
			WriteBufferSize:   cfg.WriteBufferSize,
			Subprotocols:      cfg.Subprotocols,
			EnableCompression: cfg.EnableCompression,
			Jar:               cfg.Jar,
		},
		fwd:    fwd,
		logger: corelog.OrDefault(logger),
	}, nil
}

// WebSocketConn 正在运行的 WebSocket 操作
type WebSocketConn struct {
	*Operation

	mu      sync.Mutex
	conn    *websocket.Conn
	opened  chan struct{}
	writeMu sync.Mutex
}

// Opened 握手成功且消费者允许后关闭
func (c *WebSocketConn) Opened() <-chan struct{} { return c.opened }

func (c *WebSocketConn) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidState, "websocket is not open")
	}
	select {
	case <-c.Done():
		return nil, coreerrors.ErrResourceClosed
	default:
	}
	return c.conn, nil
}

// Send 发送一帧
func (c *WebSocketConn) Send(messageType int, data []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(messageType, data); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeNetworkError, "websocket write failed")
	}
	return nil
}

// Close 发起关闭握手；对端回应后依次产生 Close 和 Completed 事件
func (c *WebSocketConn) Close(code int, reason string) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeNetworkError, "websocket close failed")
	}
	return nil
}

// Dial 在后台协程上建立连接并持续读取，结束后调用 onDone
//
// 回调顺序：WebSocketOpen → (WebSocketMessage | WebSocketClose)* → Completed。
func (d *WebSocketDialer) Dial(ctx context.Context, h event.TaskHandle, rawURL string, header http.Header, onDone func(error)) *WebSocketConn {
	ctx, cancel := context.WithCancelCause(ctx)
	c := &WebSocketConn{
		Operation: newOperation(h, cancel),
		opened:    make(chan struct{}),
	}
	logger := corelog.ForTask(d.logger, uint64(h))

	finish := func(err error) {
		if !c.finish(err) {
			return
		}
		cancel(nil)
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
		if _, ferr := d.fwd.OnEvent(h, event.NewCompleted(err)); ferr != nil && !coreerrors.IsBookkeeping(ferr) {
			logger.WithError(ferr).Debug("completion not acknowledged")
		}
		if onDone != nil {
			onDone(err)
		}
	}

	safe.GoWithCallback(fmt.Sprintf("ws-task-%d", h), func() {
		finish(d.run(ctx, c, rawURL, header, logger))
	}, func(recovered interface{}) {
		finish(coreerrors.Newf(coreerrors.CodeInternal, "websocket task panic: %v", recovered))
	})
	return c
}

func (d *WebSocketDialer) run(ctx context.Context, c *WebSocketConn, rawURL string, header http.Header, logger corelog.Logger) error {
	wsURL, err := NormalizeWebSocketURL(rawURL)
	if err != nil {
		return err
	}

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return contextErr(ctx, coreerrors.Wrapf(err, coreerrors.CodeHandshakeFailed, "websocket handshake failed with status %d", resp.StatusCode))
		}
		return contextErr(ctx, coreerrors.Wrap(err, coreerrors.CodeHandshakeFailed, "websocket dial failed"))
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// 取消时关闭底层连接以打断阻塞的读取
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	dec, _ := d.fwd.OnEvent(c.handle, event.NewWebSocketOpen(conn.Subprotocol()))
	if !dec.Proceed() {
		return decisionErr(dec)
	}
	close(c.opened)
	logger.Debugf("websocket open: %s", wsURL)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				d.fwd.OnEvent(c.handle, event.NewWebSocketClose(ce.Code, []byte(ce.Text)))
				return nil
			}
			return contextErr(ctx, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "websocket read failed"))
		}
		if dec, _ := d.fwd.OnEvent(c.handle, event.NewWebSocketMessage(messageType, data)); !dec.Proceed() {
			return decisionErr(dec)
		}
	}
}

// NormalizeWebSocketURL 规范化 WebSocket URL：
// - https://host/path -> wss://host/path
// - http://host/path -> ws://host/path
// - ws(s):// 保持不变
// - host:port -> ws://host:port/
func NormalizeWebSocketURL(address string) (string, error) {
	if address == "" {
		return "", coreerrors.New(coreerrors.CodeInvalidParam, "empty websocket url")
	}
	if !strings.Contains(address, "://") {
		address = "ws://" + address
	}

	parsedURL, err := url.Parse(address)
	if err != nil {
		return "", coreerrors.Wrap(err, coreerrors.CodeInvalidParam, "invalid URL format")
	}

	switch strings.ToLower(parsedURL.Scheme) {
	case "http", "ws":
		parsedURL.Scheme = "ws"
	case "https", "wss":
		parsedURL.Scheme = "wss"
	default:
		return "", coreerrors.Newf(coreerrors.CodeInvalidParam, "unsupported websocket scheme %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return "", coreerrors.Newf(coreerrors.CodeInvalidParam, "websocket url %q has no host", address)
	}
	if parsedURL.Path == "" {
		parsedURL.Path = "/"
	}
	return parsedURL.String(), nil
}
