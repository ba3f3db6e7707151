package client

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	coreerrors "urlport/internal/core/errors"
	"urlport/internal/dispatch"
	"urlport/internal/event"
	"urlport/internal/native"
)

// Message 一帧 WebSocket 消息
type Message struct {
	Type int
	Data []byte
}

// WebSocket 已打开的连接
type WebSocket struct {
	c    *Client
	t    *dispatch.Task
	conn *native.WebSocketConn
	in   *inbox

	protocol string

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

// Dial 建立 WebSocket 连接并等待握手完成
//
// ctx 控制整个连接的生命周期，而不仅是握手。
func (c *Client) Dial(ctx context.Context, rawURL string, header http.Header) (*WebSocket, error) {
	ws := &WebSocket{c: c, in: newInbox()}
	var (
		once    sync.Once
		opened  = make(chan struct{})
		openErr error
	)
	ready := func(err error) {
		once.Do(func() {
			openErr = err
			close(opened)
		})
	}

	handler := dispatch.HandlerFuncs{
		WebSocketOpen: func(t *dispatch.Task, protocol string) {
			ws.protocol = protocol
			ready(nil)
		},
		WebSocketMessage: func(t *dispatch.Task, messageType int, data []byte) {
			ws.in.put(Message{Type: messageType, Data: data})
		},
		WebSocketClose: func(t *dispatch.Task, code int, reason []byte) {
			ws.mu.Lock()
			ws.closeCode, ws.closeReason = code, string(reason)
			ws.mu.Unlock()
		},
		Complete: func(t *dispatch.Task, err error) {
			if err == nil {
				ws.in.end(io.EOF)
				ready(coreerrors.New(coreerrors.CodeProtocolError, "connection completed before open"))
				return
			}
			err = taskErr(err)
			ws.in.end(err)
			ready(err)
		},
		Cancel: func(t *dispatch.Task, cause error) {
			err := cancelErr(cause)
			ws.in.end(err)
			ready(err)
		},
	}

	t, err := c.begin(handler)
	if err != nil {
		return nil, err
	}
	ws.t = t

	h := t.Handle()
	ws.conn = c.ws.Dial(ctx, h, rawURL, header, func(error) { c.done(h) })
	c.track(h, ws.conn)

	select {
	case <-opened:
		if openErr != nil {
			return nil, openErr
		}
		return ws, nil
	case <-ctx.Done():
		err := coreerrors.Wrap(context.Cause(ctx), coreerrors.CodeCancelled, "dial cancelled")
		c.cancel(t, err)
		return nil, err
	case <-c.Ctx().Done():
		return nil, coreerrors.ErrResourceClosed
	}
}

// Handle 任务标识
func (ws *WebSocket) Handle() event.TaskHandle { return ws.t.Handle() }

// Protocol 协商得到的子协议
func (ws *WebSocket) Protocol() string { return ws.protocol }

// Receive 读取下一帧；对端正常关闭后返回 io.EOF
func (ws *WebSocket) Receive(ctx context.Context) (Message, error) {
	v, err := ws.in.take(ctx, ws.c.Ctx().Done())
	if err != nil {
		return Message{}, err
	}
	return v.(Message), nil
}

// Send 发送一帧
func (ws *WebSocket) Send(messageType int, data []byte) error {
	return ws.conn.Send(messageType, data)
}

// SendText 发送文本帧
func (ws *WebSocket) SendText(text string) error {
	return ws.conn.Send(websocket.TextMessage, []byte(text))
}

// Close 发起关闭握手，对端回应后 Receive 返回 io.EOF
func (ws *WebSocket) Close(code int, reason string) error {
	return ws.conn.Close(code, reason)
}

// Cancel 立即中止连接
func (ws *WebSocket) Cancel() {
	ws.c.cancel(ws.t, coreerrors.ErrCancelled)
}

// Done 连接结束后关闭
func (ws *WebSocket) Done() <-chan struct{} { return ws.conn.Done() }

// CloseCode 对端关闭帧中的状态码和原因，未收到关闭帧时 code 为 0
func (ws *WebSocket) CloseCode() (int, string) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.closeCode, ws.closeReason
}
