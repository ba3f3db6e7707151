// Package relay 通过 WebSocket 把消息端口延伸到进程外的消费者
//
// Server 把端口中的待决策对象编码后推给唯一的远端消费者，
// 并把远端的答复写回转发器。Consumer 是远端的一侧。
package relay

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"urlport/internal/core/dispose"
	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
	"urlport/internal/decision"
	"urlport/internal/event"
	"urlport/internal/wire"
)

// ErrPeerGone 远端消费者断开，已发出但未答复的决策以此取消
var ErrPeerGone = coreerrors.New(coreerrors.CodeResourceClosed, "relay consumer disconnected")

// Resolver 按决策 id 写入结果
type Resolver interface {
	Resolve(id string, v event.Decision) error
}

// Receiver 消息端口的接收侧
type Receiver interface {
	Receive(ctx context.Context) (*decision.PendingDecision, error)
}

// Config 中继配置
type Config struct {
	Listen       string
	Path         string
	WriteTimeout time.Duration
}

// Server 中继服务端
type Server struct {
	*dispose.ResourceBase

	cfg      Config
	fwd      Resolver
	port     Receiver
	logger   corelog.Logger
	upgrader websocket.Upgrader
	router   *mux.Router

	mu        sync.Mutex
	peer      string
	connected chan struct{}
	httpSrv   *http.Server
}

// NewServer 创建中继服务端
func NewServer(parentCtx context.Context, cfg Config, fwd Resolver, port Receiver, logger corelog.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/_urlport"
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	s := &Server{
		ResourceBase: dispose.NewResourceBase("RelayServer"),
		cfg:          cfg,
		fwd:          fwd,
		port:         port,
		logger:       corelog.OrDefault(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		router:    mux.NewRouter(),
		connected: make(chan struct{}),
	}
	s.router.HandleFunc(cfg.Path, s.handleConsumer).Methods(http.MethodGet)
	s.AddCleanHandler(s.onClose)
	s.Initialize(parentCtx)
	return s
}

func (s *Server) onClose() error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv != nil {
		return srv.Close()
	}
	return nil
}

// Handler 路由，可挂到已有的 http.Server
func (s *Server) Handler() http.Handler { return s.router }

// Connected 第一个消费者接入后关闭
func (s *Server) Connected() <-chan struct{} { return s.connected }

// Serve 在 ln 上提供服务，直到服务端关闭
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.Ctx() },
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	s.logger.Infof("relay listening on %s%s", ln.Addr(), s.cfg.Path)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return coreerrors.Wrap(err, coreerrors.CodeNetworkError, "relay server failed")
	}
	return nil
}

// ListenAndServe 监听配置的地址
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "listen on %s", s.cfg.Listen)
	}
	return s.Serve(ln)
}

func (s *Server) handleConsumer(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.peer != "" {
		s.mu.Unlock()
		s.logger.WithField(corelog.FieldPeer, r.RemoteAddr).Warn("rejecting second relay consumer")
		http.Error(w, "a consumer is already attached", http.StatusConflict)
		return
	}
	s.peer = r.RemoteAddr
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.peer = ""
		s.mu.Unlock()
	}()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("relay upgrade failed")
		return
	}

	s.mu.Lock()
	select {
	case <-s.connected:
	default:
		close(s.connected)
	}
	s.mu.Unlock()

	logger := s.logger.WithField(corelog.FieldPeer, r.RemoteAddr)
	logger.Info("relay consumer attached")
	err = s.serveConn(s.Ctx(), conn, logger)
	if err != nil {
		logger.WithError(err).Info("relay consumer detached")
	} else {
		logger.Info("relay consumer detached")
	}
}

// outstanding 已推给远端、尚未答复的决策
type outstanding struct {
	mu  sync.Mutex
	pds map[string]*decision.PendingDecision
}

func (o *outstanding) add(pd *decision.PendingDecision) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pds[pd.ID()] = pd
	if len(o.pds) > 1024 {
		for id, p := range o.pds {
			if p.State() != decision.StatePending {
				delete(o.pds, id)
			}
		}
	}
}

func (o *outstanding) remove(id string) {
	o.mu.Lock()
	delete(o.pds, id)
	o.mu.Unlock()
}

func (o *outstanding) cancelAll(cause error) int {
	o.mu.Lock()
	pds := o.pds
	o.pds = make(map[string]*decision.PendingDecision)
	o.mu.Unlock()

	n := 0
	for _, pd := range pds {
		if pd.Cancel(cause) {
			n++
		}
	}
	return n
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn, logger corelog.Logger) error {
	sent := &outstanding{pds: make(map[string]*decision.PendingDecision)}
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = conn.Close() })
	defer stop()

	g.Go(func() error { return s.writePump(gctx, conn, sent, logger) })
	g.Go(func() error { return s.readPump(conn, sent, logger) })

	err := g.Wait()
	_ = conn.Close()
	if n := sent.cancelAll(ErrPeerGone); n > 0 {
		logger.Warnf("released %d decisions left unanswered by the consumer", n)
	}
	if errors.Is(err, errPeerClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, sent *outstanding, logger corelog.Logger) error {
	for {
		pd, err := s.port.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if pd.State() != decision.StatePending {
			continue
		}

		b, err := wire.Encode(wire.FromDecision(pd))
		if err != nil {
			pd.Cancel(err)
			logger.WithError(err).WithField(corelog.FieldDecision, pd.ID()).Error("failed to encode decision")
			continue
		}

		sent.add(pd)
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
			return coreerrors.Wrap(err, coreerrors.CodeNetworkError, "relay write failed")
		}
	}
}

var errPeerClosed = errors.New("relay peer closed")

func (s *Server) readPump(conn *websocket.Conn, sent *outstanding, logger corelog.Logger) error {
	for {
		messageType, b, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errPeerClosed
			}
			return coreerrors.Wrap(err, coreerrors.CodeNetworkError, "relay read failed")
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		r, err := wire.DecodeResolution(b)
		if err != nil {
			logger.WithError(err).Warn("dropping malformed resolution")
			continue
		}
		sent.remove(r.ID)
		if err := s.fwd.Resolve(r.ID, r.Decision()); err != nil {
			logger.WithError(err).WithField(corelog.FieldDecision, r.ID).Debug("resolution not applied")
		}
	}
}
