// Package wire 定义消息端口跨进程传输时的编码
//
// 出站消息（Envelope）携带事件类型、决策关联 id 和按类型区分的负载；
// 入站消息（Resolution）是对某个决策 id 的答复。两者都用 msgpack 编码。
package wire

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	coreerrors "urlport/internal/core/errors"
	"urlport/internal/decision"
	"urlport/internal/event"
)

// Version 编码格式版本，格式不兼容时递增
const Version uint8 = 1

// ResponseMeta 响应元数据
type ResponseMeta struct {
	URL           string              `msgpack:"url"`
	StatusCode    int                 `msgpack:"status_code"`
	Status        string              `msgpack:"status"`
	Proto         string              `msgpack:"proto"`
	Header        map[string][]string `msgpack:"header,omitempty"`
	ContentLength int64               `msgpack:"content_length"`
}

// RequestMeta 重定向请求
type RequestMeta struct {
	Method string              `msgpack:"method,omitempty"`
	URL    string              `msgpack:"url,omitempty"`
	Header map[string][]string `msgpack:"header,omitempty"`
}

// ErrorInfo 错误描述
type ErrorInfo struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

// Envelope 出站消息
type Envelope struct {
	V    uint8  `msgpack:"v"`
	Kind uint8  `msgpack:"kind"`
	Task uint64 `msgpack:"task"`
	ID   string `msgpack:"decision"`
	Seq  uint64 `msgpack:"seq"`

	Response    *ResponseMeta `msgpack:"response,omitempty"`
	Request     *RequestMeta  `msgpack:"request,omitempty"`
	Redirects   int           `msgpack:"redirects,omitempty"`
	Data        []byte        `msgpack:"data,omitempty"`
	Error       *ErrorInfo    `msgpack:"error,omitempty"`
	Protocol    string        `msgpack:"protocol,omitempty"`
	Code        int           `msgpack:"code,omitempty"`
	Reason      []byte        `msgpack:"reason,omitempty"`
	MessageType int           `msgpack:"message_type,omitempty"`
}

// Resolution 入站答复
type Resolution struct {
	V           uint8        `msgpack:"v"`
	ID          string       `msgpack:"decision"`
	Kind        uint8        `msgpack:"kind"`
	Disposition uint8        `msgpack:"disposition"`
	Follow      bool         `msgpack:"follow,omitempty"`
	Request     *RequestMeta `msgpack:"request,omitempty"`
	Cancel      bool         `msgpack:"cancel,omitempty"`
}

// FromDecision 把待决策对象编码为出站消息
func FromDecision(pd *decision.PendingDecision) *Envelope {
	return FromEvent(pd.ID(), pd.Event())
}

// FromEvent 把事件编码为出站消息
func FromEvent(id string, ev event.Event) *Envelope {
	env := &Envelope{
		V:    Version,
		Kind: uint8(ev.Kind),
		Task: uint64(ev.Task),
		ID:   id,
		Seq:  ev.Seq,
	}
	switch ev.Kind {
	case event.KindResponse:
		env.Response = responseMeta(ev.Response)
	case event.KindData:
		env.Data = ev.Data
	case event.KindCompleted:
		env.Error = errorInfo(ev.Err())
	case event.KindRedirect:
		if ev.Redirect != nil {
			env.Response = responseMeta(ev.Redirect.Response)
			env.Request = requestMeta(ev.Redirect.Request)
			env.Redirects = ev.Redirect.Count
		}
	case event.KindWebSocketOpen:
		if ev.WSOpen != nil {
			env.Protocol = ev.WSOpen.Protocol
		}
	case event.KindWebSocketClose:
		if ev.WSClose != nil {
			env.Code = ev.WSClose.Code
			env.Reason = ev.WSClose.Reason
		}
	case event.KindWebSocketMessage:
		if ev.WSMessage != nil {
			env.MessageType = ev.WSMessage.Type
			env.Data = ev.WSMessage.Data
		}
	}
	return env
}

// Event 还原为事件
func (e *Envelope) Event() (event.Event, error) {
	kind := event.Kind(e.Kind)
	ev := event.Event{Kind: kind, Task: event.TaskHandle(e.Task), Seq: e.Seq}
	switch kind {
	case event.KindResponse:
		ev.Response = e.Response.info()
	case event.KindData:
		ev.Data = e.Data
	case event.KindCompleted:
		ev.Completed = &event.Completion{Err: e.Error.err()}
	case event.KindRedirect:
		ev.Redirect = &event.Redirect{
			Response: e.Response.info(),
			Request:  e.Request.info(),
			Count:    e.Redirects,
		}
	case event.KindWebSocketOpen:
		ev.WSOpen = &event.WebSocketOpen{Protocol: e.Protocol}
	case event.KindWebSocketClose:
		ev.WSClose = &event.WebSocketClose{Code: e.Code, Reason: e.Reason}
	case event.KindWebSocketMessage:
		ev.WSMessage = &event.WebSocketMessage{Type: e.MessageType, Data: e.Data}
	}
	if err := ev.Validate(); err != nil {
		return event.Event{}, coreerrors.Wrap(err, coreerrors.CodeProtocolError, "malformed envelope")
	}
	return ev, nil
}

// NewResolution 把消费者的决策编码为入站答复
func NewResolution(id string, d event.Decision) *Resolution {
	return &Resolution{
		V:           Version,
		ID:          id,
		Kind:        uint8(d.Kind),
		Disposition: uint8(d.Disposition),
		Follow:      d.Follow,
		Request:     requestMeta(d.Request),
		Cancel:      d.Cancelled,
	}
}

// Decision 还原为决策
func (r *Resolution) Decision() event.Decision {
	if r.Cancel {
		return event.Cancelled(event.Kind(r.Kind), coreerrors.New(coreerrors.CodeCancelled, "cancelled by remote consumer"))
	}
	return event.Decision{
		Kind:        event.Kind(r.Kind),
		Disposition: event.Disposition(r.Disposition),
		Follow:      r.Follow,
		Request:     r.Request.info(),
	}
}

// Encode 编码任意消息
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(v); err != nil {
		return nil, coreerrors.Wrap(err, coreerrors.CodeProtocolError, "encode failed")
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope 解码出站消息
func DecodeEnvelope(b []byte) (*Envelope, error) {
	var env Envelope
	if err := decode(b, &env, &env.V); err != nil {
		return nil, err
	}
	if !event.Kind(env.Kind).Valid() {
		return nil, coreerrors.Newf(coreerrors.CodeProtocolError, "unknown event kind %d", env.Kind)
	}
	if env.ID == "" {
		return nil, coreerrors.New(coreerrors.CodeProtocolError, "envelope without decision id")
	}
	return &env, nil
}

// DecodeResolution 解码入站答复
func DecodeResolution(b []byte) (*Resolution, error) {
	var r Resolution
	if err := decode(b, &r, &r.V); err != nil {
		return nil, err
	}
	if r.ID == "" {
		return nil, coreerrors.New(coreerrors.CodeProtocolError, "resolution without decision id")
	}
	return &r, nil
}

func decode(b []byte, out interface{}, version *uint8) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(out); err != nil {
		return coreerrors.Wrap(err, coreerrors.CodeProtocolError, "decode failed")
	}
	if *version != Version {
		return coreerrors.Newf(coreerrors.CodeProtocolError, "unsupported wire version %d", *version).
			WithDetailInt("version", int64(*version))
	}
	return nil
}

func responseMeta(info *event.ResponseInfo) *ResponseMeta {
	if info == nil {
		return nil
	}
	return &ResponseMeta{
		URL:           info.URL,
		StatusCode:    info.StatusCode,
		Status:        info.Status,
		Proto:         info.Proto,
		Header:        info.Header,
		ContentLength: info.ContentLength,
	}
}

func (m *ResponseMeta) info() *event.ResponseInfo {
	if m == nil {
		return nil
	}
	return &event.ResponseInfo{
		URL:           m.URL,
		StatusCode:    m.StatusCode,
		Status:        m.Status,
		Proto:         m.Proto,
		Header:        http.Header(m.Header),
		ContentLength: m.ContentLength,
	}
}

func requestMeta(info *event.RequestInfo) *RequestMeta {
	if info == nil {
		return nil
	}
	return &RequestMeta{Method: info.Method, URL: info.URL, Header: info.Header}
}

func (m *RequestMeta) info() *event.RequestInfo {
	if m == nil {
		return nil
	}
	return &event.RequestInfo{Method: m.Method, URL: m.URL, Header: http.Header(m.Header)}
}

func errorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	code := string(coreerrors.GetCode(err))
	return &ErrorInfo{Code: code, Message: strings.TrimPrefix(err.Error(), "["+code+"] ")}
}

func (e *ErrorInfo) err() error {
	if e == nil {
		return nil
	}
	return coreerrors.New(coreerrors.ErrorCode(e.Code), e.Message)
}
