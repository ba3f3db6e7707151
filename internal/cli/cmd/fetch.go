package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"urlport/internal/cli"
	"urlport/internal/client"
	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
)

var (
	fetchConcurrency int
	fetchBody        bool
	fetchHeaders     bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch URL...",
	Short: "Fetch one or more URLs concurrently",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().IntVarP(&fetchConcurrency, "concurrency", "n", 4, "max concurrent requests")
	fetchCmd.Flags().BoolVarP(&fetchBody, "body", "b", false, "write response bodies to stdout")
	fetchCmd.Flags().BoolVarP(&fetchHeaders, "include", "i", false, "print response headers")
}

// fetchResult 一个 URL 的结果
type fetchResult struct {
	url       string
	status    string
	final     string
	redirects int
	bytes     int64
	err       error
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.New(ctx, cfg, client.Options{}, corelog.Default())
	if err != nil {
		return err
	}
	defer c.Close()

	out := newOutput(cmd)
	results := make([]fetchResult, len(args))
	var writeMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if fetchConcurrency > 0 {
		g.SetLimit(fetchConcurrency)
	}
	for i, u := range args {
		i, u := i, u
		g.Go(func() error {
			// 单个 URL 失败不影响其它 URL
			results[i] = fetchOne(gctx, c, u, out, &writeMu)
			return nil
		})
	}
	_ = g.Wait()

	table := cli.NewTable("URL", "STATUS", "BYTES", "REDIRECTS", "FINAL", "ERROR")
	failed := 0
	for _, r := range results {
		errText := ""
		if r.err != nil {
			failed++
			errText = r.err.Error()
		}
		table.AddRow(r.url, r.status, strconv.FormatInt(r.bytes, 10), strconv.Itoa(r.redirects), r.final, errText)
	}
	if fetchBody {
		out.Separator()
	}
	table.Render(out)

	if failed > 0 {
		return coreerrors.Newf(coreerrors.CodeNetworkError, "%d of %d fetches failed", failed, len(args))
	}
	return nil
}

func fetchOne(ctx context.Context, c *client.Client, u string, out *cli.Output, writeMu *sync.Mutex) fetchResult {
	res := fetchResult{url: u}
	resp, err := c.Get(ctx, u)
	if err != nil {
		res.err = err
		return res
	}
	defer resp.Body.Close()

	res.status = resp.Status
	res.final = resp.URL
	res.redirects = resp.Redirects

	if fetchHeaders {
		writeMu.Lock()
		out.Section(fmt.Sprintf("%s %s", resp.Proto, resp.Status))
		for k, vs := range resp.Header {
			for _, v := range vs {
				out.KeyValue(k, v)
			}
		}
		writeMu.Unlock()
	}

	if fetchBody {
		// 并发抓取时逐个 URL 整体输出，避免交错
		body, err := io.ReadAll(resp.Body)
		res.bytes = int64(len(body))
		writeMu.Lock()
		_, _ = out.Writer().Write(body)
		writeMu.Unlock()
		res.err = err
		return res
	}

	res.bytes, res.err = io.Copy(io.Discard, resp.Body)
	return res
}
