package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"urlport/internal/cli"
	coreerrors "urlport/internal/core/errors"
	"urlport/internal/core/idgen"
	corelog "urlport/internal/core/log"
	"urlport/internal/core/safe"
	"urlport/internal/event"
	"urlport/internal/forwarder"
	"urlport/internal/native"
	"urlport/internal/port"
	"urlport/internal/relay"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Hand decisions to a consumer in another process",
}

var relayServeCmd = &cobra.Command{
	Use:   "serve URL...",
	Short: "Fetch URLs while a remote consumer decides every callback",
	Long: `serve listens for a single relay consumer, waits for it to attach and then
fetches every URL. Each callback of the HTTP driver blocks until the remote
consumer answers over the WebSocket.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRelayServe,
}

var relayConsumeCmd = &cobra.Command{
	Use:   "consume ADDR",
	Short: "Attach to a relay server and decide its callbacks",
	Args:  cobra.ExactArgs(1),
	RunE:  runRelayConsume,
}

var (
	relayListen string
	consumeDeny []int
)

func init() {
	relayServeCmd.Flags().StringVarP(&relayListen, "listen", "l", "", "listen address (default from config)")
	relayConsumeCmd.Flags().IntSliceVar(&consumeDeny, "deny-status", nil, "cancel responses with these status codes")

	relayCmd.AddCommand(relayServeCmd)
	relayCmd.AddCommand(relayConsumeCmd)
}

func runRelayServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := corelog.Default()
	out := newOutput(cmd)

	fwd := forwarder.New(ctx, forwarder.Config{
		WaitTimeout:          cfg.Bridge.WaitTimeout,
		RetiredTaskCache:     cfg.Bridge.RetiredTaskCache,
		SettledDecisionCache: cfg.Bridge.SettledDecisionCache,
	}, logger)
	defer fwd.Close()
	p := port.New(ctx, port.Config{WarnDepth: cfg.Bridge.MailboxWarnDepth}, logger)
	defer p.Close()

	session, err := native.NewHTTPSession(fwd, native.HTTPConfig{
		ReadChunkSize:      cfg.HTTP.ReadChunkSize,
		Timeout:            cfg.HTTP.Timeout,
		UserAgent:          cfg.HTTP.UserAgent,
		CookieJar:          cfg.HTTP.CookieJar,
		MaxIdleConns:       cfg.HTTP.MaxIdleConns,
		DisableCompression: cfg.HTTP.DisableCompression,
	}, logger)
	if err != nil {
		return err
	}

	listen := cfg.Relay.Listen
	if relayListen != "" {
		listen = relayListen
	}
	srv := relay.NewServer(ctx, relay.Config{
		Listen:       listen,
		Path:         cfg.Relay.Path,
		WriteTimeout: cfg.Relay.WriteTimeout,
	}, fwd, p, logger)
	defer srv.Close()

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return coreerrors.Wrapf(err, coreerrors.CodeNetworkError, "listen on %s", listen)
	}
	serveErr := make(chan error, 1)
	safe.Go("relay-serve", func() { serveErr <- srv.Serve(ln) })

	out.Info("waiting for a consumer on ws://%s%s", ln.Addr(), relayPath())
	select {
	case <-srv.Connected():
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return nil
	}
	out.Success("consumer attached, fetching %d urls", len(args))

	type result struct {
		url string
		err error
	}
	var (
		ids     = idgen.NewTaskIDs()
		wg      sync.WaitGroup
		results = make([]result, len(args))
	)
	for i, u := range args {
		i, u := i, u
		results[i].url = u
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			results[i].err = coreerrors.Wrap(err, coreerrors.CodeInvalidParam, "invalid url")
			continue
		}
		h := event.TaskHandle(ids.Next())
		if err := fwd.Register(h, p); err != nil {
			results[i].err = err
			continue
		}
		wg.Add(1)
		session.Start(ctx, h, req, func(err error) {
			defer wg.Done()
			fwd.Unregister(h)
			results[i].err = err
		})
	}
	wg.Wait()

	table := cli.NewTable("TASK", "URL", "RESULT")
	failed := 0
	for i, r := range results {
		status := "ok"
		if r.err != nil {
			failed++
			status = r.err.Error()
		}
		table.AddRow(strconv.Itoa(i+1), r.url, status)
	}
	table.Render(out)
	if failed > 0 {
		return coreerrors.Newf(coreerrors.CodeNetworkError, "%d of %d tasks failed", failed, len(args))
	}
	return nil
}

func relayPath() string {
	if cfg.Relay.Path != "" {
		return cfg.Relay.Path
	}
	return "/_urlport"
}

func runRelayConsume(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := newOutput(cmd)
	addr := args[0]
	if !strings.Contains(addr, "://") && !strings.Contains(addr, "/") {
		// 只给出 host:port 时补全为配置的中继路径
		addr = "ws://" + addr + relayPath()
	}

	consumer, err := relay.NewConsumer(addr, relay.ConsumerConfig{
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		WriteTimeout:     cfg.Relay.WriteTimeout,
	}, newConsoleDecider(out).decide, corelog.Default())
	if err != nil {
		return err
	}
	out.Info("attaching to %s", addr)
	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// consoleDecider 打印收到的事件，并按命令行配置作出决策
type consoleDecider struct {
	out    *cli.Output
	deny   map[int]bool
	follow bool
	limit  int
}

func newConsoleDecider(out *cli.Output) *consoleDecider {
	d := &consoleDecider{
		out:    out,
		deny:   make(map[int]bool, len(consumeDeny)),
		follow: cfg.HTTP.FollowRedirects,
		limit:  cfg.HTTP.MaxRedirects,
	}
	for _, code := range consumeDeny {
		d.deny[code] = true
	}
	return d
}

func (c *consoleDecider) decide(ev event.Event) event.Decision {
	prefix := fmt.Sprintf("task %d #%d %s", ev.Task, ev.Seq, ev.Kind)
	switch ev.Kind {
	case event.KindResponse:
		if ev.Response == nil {
			return event.DefaultDecision(ev.Kind)
		}
		if c.deny[ev.Response.StatusCode] {
			c.out.Warning("%s %s denied", prefix, ev.Response.Status)
			return event.Deny()
		}
		c.out.Info("%s %s %s", prefix, ev.Response.Status, ev.Response.URL)
		return event.Allow()

	case event.KindRedirect:
		r := ev.Redirect
		if r == nil || r.Request == nil {
			return event.StopRedirect()
		}
		if !c.follow || (c.limit > 0 && r.Count > c.limit) {
			c.out.Warning("%s to %s not followed", prefix, r.Request.URL)
			return event.StopRedirect()
		}
		c.out.Info("%s to %s", prefix, r.Request.URL)
		return event.FollowRedirect(nil)

	case event.KindData:
		c.out.Plain("%s %d bytes", prefix, len(ev.Data))

	case event.KindCompleted:
		if err := ev.Err(); err != nil {
			c.out.Error("%s %v", prefix, err)
		} else {
			c.out.Success("%s", prefix)
		}

	case event.KindWebSocketMessage:
		if ev.WSMessage != nil {
			c.out.Plain("%s %d bytes", prefix, len(ev.WSMessage.Data))
		}

	default:
		c.out.Plain("%s", prefix)
	}
	return event.Continue(ev.Kind)
}
