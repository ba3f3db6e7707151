package native

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"

	coreerrors "urlport/internal/core/errors"
	corelog "urlport/internal/core/log"
	"urlport/internal/core/safe"
	"urlport/internal/event"
)

// DefaultReadChunkSize 每个 Data 回调的最大字节数
const DefaultReadChunkSize = 64 * 1024

// HTTPConfig HTTP 驱动配置
type HTTPConfig struct {
	ReadChunkSize      int
	Timeout            time.Duration
	UserAgent          string
	CookieJar          bool
	MaxIdleConns       int
	DisableCompression bool
	// Transport 非 nil 时替代默认 Transport
	Transport http.RoundTripper
}

// HTTPSession 以回调方式驱动 http.Client
type HTTPSession struct {
	client *http.Client
	fwd    Forwarder
	cfg    HTTPConfig
	logger corelog.Logger
}

// NewHTTPSession 创建 HTTP 会话
func NewHTTPSession(fwd Forwarder, cfg HTTPConfig, logger corelog.Logger) (*HTTPSession, error) {
	if fwd == nil {
		return nil, coreerrors.New(coreerrors.CodeInvalidParam, "forwarder is nil")
	}
	if cfg.ReadChunkSize <= 0 {
		cfg.ReadChunkSize = DefaultReadChunkSize
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        cfg.MaxIdleConns,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableCompression:  cfg.DisableCompression,
		}
	}

	client := &http.Client{Transport: transport, Timeout: cfg.Timeout}
	if cfg.CookieJar {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, coreerrors.Wrap(err, coreerrors.CodeInternal, "failed to create cookie jar")
		}
		client.Jar = jar
	}

	return &HTTPSession{
		client: client,
		fwd:    fwd,
		cfg:    cfg,
		logger: corelog.OrDefault(logger),
	}, nil
}

// Jar 会话的 cookie jar，未启用时为 nil
func (s *HTTPSession) Jar() http.CookieJar { return s.client.Jar }

// Start 在后台协程上执行请求，结束后调用 onDone
//
// 回调顺序：Redirect* → Response → Data* → Completed。
func (s *HTTPSession) Start(ctx context.Context, h event.TaskHandle, req *http.Request, onDone func(error)) *Operation {
	ctx, cancel := context.WithCancelCause(ctx)
	op := newOperation(h, cancel)
	logger := corelog.ForTask(s.logger, uint64(h))

	finish := func(err error) {
		if !op.finish(err) {
			return
		}
		cancel(nil)
		if _, ferr := s.fwd.OnEvent(h, event.NewCompleted(err)); ferr != nil && !coreerrors.IsBookkeeping(ferr) {
			logger.WithError(ferr).Debug("completion not acknowledged")
		}
		if onDone != nil {
			onDone(err)
		}
	}

	safe.GoWithCallback(fmt.Sprintf("http-task-%d", h), func() {
		finish(s.run(ctx, h, req.Clone(ctx), logger))
	}, func(recovered interface{}) {
		finish(coreerrors.Newf(coreerrors.CodeInternal, "http task panic: %v", recovered))
	})
	return op
}

func (s *HTTPSession) run(ctx context.Context, h event.TaskHandle, req *http.Request, logger corelog.Logger) error {
	if s.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	client := *s.client
	redirects := 0
	client.CheckRedirect = func(next *http.Request, via []*http.Request) error {
		redirects++
		ev := event.NewRedirect(responseInfo(next.Response), requestInfo(next), redirects)
		d, err := s.fwd.OnEvent(h, ev)
		if d.Cancelled {
			return decisionErr(d)
		}
		if err != nil && !coreerrors.IsBookkeeping(err) {
			return err
		}
		if !d.Follow {
			return http.ErrUseLastResponse
		}
		if d.Request != nil {
			if err := applyRequest(next, d.Request); err != nil {
				return err
			}
		}
		logger.Debugf("following redirect to %s", next.URL)
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) && coreerrors.IsTaskFatal(uerr.Err) {
			return uerr.Err
		}
		return contextErr(ctx, coreerrors.Wrap(err, coreerrors.CodeNetworkError, "request failed"))
	}
	defer resp.Body.Close()

	d, _ := s.fwd.OnEvent(h, event.NewResponse(responseInfo(resp)))
	if !d.Proceed() {
		return decisionErr(d)
	}

	buf := make([]byte, s.cfg.ReadChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if d, _ := s.fwd.OnEvent(h, event.NewData(chunk)); !d.Proceed() {
				return decisionErr(d)
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return contextErr(ctx, coreerrors.Wrap(rerr, coreerrors.CodeNetworkError, "read response body"))
		}
	}
}

func responseInfo(resp *http.Response) *event.ResponseInfo {
	if resp == nil {
		return &event.ResponseInfo{}
	}
	info := &event.ResponseInfo{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         resp.Proto,
		Header:        resp.Header.Clone(),
		ContentLength: resp.ContentLength,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		info.URL = resp.Request.URL.String()
	}
	return info
}

func requestInfo(req *http.Request) *event.RequestInfo {
	return &event.RequestInfo{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
	}
}

// applyRequest 用消费者改写的请求替换即将发出的重定向请求
func applyRequest(next *http.Request, info *event.RequestInfo) error {
	if info.URL != "" && info.URL != next.URL.String() {
		u, err := url.Parse(info.URL)
		if err != nil {
			return coreerrors.Wrap(err, coreerrors.CodeInvalidParam, "invalid redirect url")
		}
		next.URL = u
		next.Host = ""
	}
	if info.Method != "" {
		next.Method = info.Method
	}
	for k, vs := range info.Header {
		next.Header[k] = append([]string(nil), vs...)
	}
	return nil
}
