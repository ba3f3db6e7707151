package cmd

import (
	"bufio"
	"errors"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"urlport/internal/client"
	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
)

var (
	wsHeaders []string
	wsLinger  time.Duration
)

var wsCmd = &cobra.Command{
	Use:   "ws URL",
	Short: "Open a WebSocket, send stdin lines as text frames and print received frames",
	Args:  cobra.ExactArgs(1),
	RunE:  runWS,
}

func init() {
	wsCmd.Flags().StringArrayVarP(&wsHeaders, "header", "H", nil, "extra handshake header (Key: Value)")
	wsCmd.Flags().DurationVar(&wsLinger, "linger", 5*time.Second, "how long to wait for the close handshake after stdin ends")
}

func runWS(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	for _, h := range wsHeaders {
		k, v, ok := strings.Cut(h, ":")
		if !ok {
			continue
		}
		header.Add(strings.TrimSpace(k), strings.TrimSpace(v))
	}

	c, err := client.New(ctx, cfg, client.Options{}, corelog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	conn, err := c.Dial(ctx, args[0], header)
	if err != nil {
		return err
	}
	out := newOutput(cmd)
	if p := conn.Protocol(); p != "" {
		out.Success("connected to %s (protocol %s)", args[0], p)
	} else {
		out.Success("connected to %s", args[0])
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			msg, err := conn.Receive(gctx)
			if err != nil {
				if errors.Is(err, io.EOF) || coreerrors.IsCancelled(err) || gctx.Err() != nil {
					return nil
				}
				return err
			}
			if msg.Type == websocket.TextMessage {
				out.Plain("< %s", msg.Data)
			} else {
				out.Plain("< [binary %d bytes]", len(msg.Data))
			}
		}
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-conn.Done():
				return
			}
		}
	}()

	g.Go(func() error {
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return closeWS(conn)
				}
				if err := conn.SendText(line); err != nil {
					return err
				}
			case <-conn.Done():
				return nil
			case <-gctx.Done():
				conn.Cancel()
				return nil
			}
		}
	})

	err = g.Wait()
	if code, reason := conn.CloseCode(); code != 0 {
		out.Info("closed: %d %s", code, reason)
	}
	return err
}

// closeWS 发起关闭握手，对端未在 wsLinger 内回应时强制中止
func closeWS(conn *client.WebSocket) error {
	if err := conn.Close(websocket.CloseNormalClosure, ""); err != nil {
		conn.Cancel()
		return nil
	}
	select {
	case <-conn.Done():
	case <-time.After(wsLinger):
		conn.Cancel()
	}
	return nil
}
