package relay

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
	"urlport/internal/event"
	"urlport/internal/native"
	"urlport/internal/wire"
)

// DecideFunc 远端消费者对一个事件的决策
type DecideFunc func(ev event.Event) event.Decision

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// Consumer 进程外消费者，连接中继服务端并逐条答复
type Consumer struct {
	url    string
	cfg    ConsumerConfig
	decide DecideFunc
	logger corelog.Logger

	writeMu sync.Mutex
}

// NewConsumer 创建消费者，rawURL 可省略 ws:// 前缀
func NewConsumer(rawURL string, cfg ConsumerConfig, decide DecideFunc, logger corelog.Logger) (*Consumer, error) {
	if decide == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "decide func is nil")
	}
	wsURL, err := native.NormalizeWebSocketURL(rawURL)
	if err != nil {
		return nil, err
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Consumer{
		url:    wsURL,
		cfg:    cfg,
		decide: decide,
		logger: corelog.OrDefault(logger).WithField(corelog.FieldPeer, wsURL),
	}, nil
}

// Run 连接服务端并处理消息，直到 ctx 结束或服务端断开
//
// 决策在单个协程上按到达顺序做出，与进程内分发循环一致。
func (c *Consumer) Run(ctx context.Context) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, c.url, c.cfg.Header)
	if err != nil {
		if resp != nil {
			return coreerrors.Wrapf(err, coreerrors.CodeHandshakeFailed, "relay handshake failed with status %d", resp.StatusCode)
		}
		return coreerrors.Wrap(err, coreerrors.CodeHandshakeFailed, "relay dial failed")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	})
	defer stop()

	c.logger.Info("relay consumer connected")
	for {
		messageType, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.logger.Infof("relay closed by server: %d %s", ce.Code, ce.Text)
				return nil
			}
			return coreerrors.Wrap(err, coreerrors.CodeNetworkError, "relay read failed")
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		res := c.handle(b)
		if res == nil {
			continue
		}
		out, err := wire.Encode(res)
		if err != nil {
			return err
		}
		c.writeMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		err = conn.WriteMessage(websocket.BinaryMessage, out)
		c.writeMu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return coreerrors.Wrap(err, coreerrors.CodeNetworkError, "relay write failed")
		}
	}
}

// handle 解码一条消息并做出决策；无法识别关联 id 时返回 nil
func (c *Consumer) handle(b []byte) *wire.Resolution {
	env, err := wire.DecodeEnvelope(b)
	if err != nil {
		c.logger.WithError(err).Warn("dropping malformed envelope")
		return nil
	}
	logger := c.logger.WithFields(map[string]interface{}{
		corelog.FieldTask:     env.Task,
		corelog.FieldDecision: env.ID,
	})

	ev, err := env.Event()
	if err != nil {
		logger.WithError(err).Warn("envelope payload invalid, applying default")
		return wire.NewResolution(env.ID, event.DefaultDecision(event.Kind(env.Kind)))
	}

	d := c.safeDecide(ev, logger)
	d.Kind = ev.Kind
	return wire.NewResolution(env.ID, d)
}

func (c *Consumer) safeDecide(ev event.Event, logger corelog.Logger) (d event.Decision) {
	defer func() {
		if r := recover(); r != nil {
			err := coreerrors.Newf(coreerrors.CodeInternal, "decide panic: %v", r)
			logger.WithError(err).Error("decide func panicked, cancelling")
			d = event.Cancelled(ev.Kind, err)
		}
	}()
	return c.decide(ev)
}
