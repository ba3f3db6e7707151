// Package event 定义原生回调事件及其决策值
//
// 原生网络栈的每个回调被表示为一个 Event，消费者对其给出一个 Decision。
// 两者都是带标签的变体，按 Kind 区分负载。
package event

import (
	"fmt"
	"net/http"
	"time"

	coreerrors "urlport/internal/core/errors"
)

// TaskHandle 原生操作的关联标识，在一次原生操作的生命周期内唯一
type TaskHandle uint64

// Kind 事件类型，编号与消息端口上的编号一致
type Kind uint8

const (
	KindResponse         Kind = 0
	KindData             Kind = 1
	KindCompleted        Kind = 2
	KindRedirect         Kind = 3
	KindWebSocketOpen    Kind = 4
	KindWebSocketClose   Kind = 5
	KindWebSocketMessage Kind = 6
)

func (k Kind) String() string {
	switch k {
	case KindResponse:
		return "response"
	case KindData:
		return "data"
	case KindCompleted:
		return "completed"
	case KindRedirect:
		return "redirect"
	case KindWebSocketOpen:
		return "ws_open"
	case KindWebSocketClose:
		return "ws_close"
	case KindWebSocketMessage:
		return "ws_message"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid 检查是否为已知类型
func (k Kind) Valid() bool {
	return k <= KindWebSocketMessage
}

// ResponseInfo 响应元数据（不含响应体）
type ResponseInfo struct {
	URL           string
	StatusCode    int
	Status        string
	Proto         string
	Header        http.Header
	ContentLength int64
}

// RequestInfo 重定向时提议的下一个请求
type RequestInfo struct {
	Method string
	URL    string
	Header http.Header
}

// Redirect 重定向事件负载
type Redirect struct {
	Response *ResponseInfo
	Request  *RequestInfo
	// Count 本任务已发生的重定向次数（含本次）
	Count int
}

// Completion 完成事件负载，Err 为 nil 表示成功
type Completion struct {
	Err error
}

// WebSocketOpen 握手成功
type WebSocketOpen struct {
	Protocol string
}

// WebSocketClose 收到关闭帧
type WebSocketClose struct {
	Code   int
	Reason []byte
}

// WebSocketMessage 收到的数据帧
type WebSocketMessage struct {
	Type int // websocket.TextMessage / BinaryMessage
	Data []byte
}

// Event 一次原生回调
type Event struct {
	Kind Kind
	Task TaskHandle
	// Seq 由转发器按任务盖章，从 1 开始
	Seq  uint64
	Time time.Time

	Response  *ResponseInfo
	Data      []byte
	Completed *Completion
	Redirect  *Redirect
	WSOpen    *WebSocketOpen
	WSClose   *WebSocketClose
	WSMessage *WebSocketMessage
}

// NewResponse 创建 Response 事件
func NewResponse(resp *ResponseInfo) Event {
	return Event{Kind: KindResponse, Time: time.Now(), Response: resp}
}

// NewData 创建 Data 事件，data 归事件所有
func NewData(data []byte) Event {
	return Event{Kind: KindData, Time: time.Now(), Data: data}
}

// NewCompleted 创建 Completed 事件
func NewCompleted(err error) Event {
	return Event{Kind: KindCompleted, Time: time.Now(), Completed: &Completion{Err: err}}
}

// NewRedirect 创建 Redirect 事件
func NewRedirect(resp *ResponseInfo, req *RequestInfo, count int) Event {
	return Event{Kind: KindRedirect, Time: time.Now(), Redirect: &Redirect{Response: resp, Request: req, Count: count}}
}

// NewWebSocketOpen 创建握手成功事件
func NewWebSocketOpen(protocol string) Event {
	return Event{Kind: KindWebSocketOpen, Time: time.Now(), WSOpen: &WebSocketOpen{Protocol: protocol}}
}

// NewWebSocketClose 创建关闭事件
func NewWebSocketClose(code int, reason []byte) Event {
	return Event{Kind: KindWebSocketClose, Time: time.Now(), WSClose: &WebSocketClose{Code: code, Reason: reason}}
}

// NewWebSocketMessage 创建数据帧事件
func NewWebSocketMessage(messageType int, data []byte) Event {
	return Event{Kind: KindWebSocketMessage, Time: time.Now(), WSMessage: &WebSocketMessage{Type: messageType, Data: data}}
}

// Validate 检查类型与负载是否匹配
func (e *Event) Validate() error {
	var ok bool
	switch e.Kind {
	case KindResponse:
		ok = e.Response != nil
	case KindData:
		ok = true
	case KindCompleted:
		ok = e.Completed != nil
	case KindRedirect:
		ok = e.Redirect != nil && e.Redirect.Request != nil
	case KindWebSocketOpen:
		ok = e.WSOpen != nil
	case KindWebSocketClose:
		ok = e.WSClose != nil
	case KindWebSocketMessage:
		ok = e.WSMessage != nil
	default:
		return coreerrors.Newf(coreerrors.CodeInvalidParam, "unknown event kind %d", e.Kind)
	}
	if !ok {
		return coreerrors.Newf(coreerrors.CodeInvalidParam, "event %s is missing its payload", e.Kind)
	}
	return nil
}

// Err 返回完成事件携带的原生错误
func (e *Event) Err() error {
	if e.Completed == nil {
		return nil
	}
	return e.Completed.Err
}
