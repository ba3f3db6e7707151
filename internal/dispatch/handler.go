package dispatch

import "urlport/internal/event"

// Handler 消费者侧任务回调，全部在分发循环内串行调用
type Handler interface {
	// OnResponse 收到响应头，返回是否继续加载
	OnResponse(t *Task, resp *event.ResponseInfo) event.Disposition
	// OnRedirect 是否跟随重定向；req 非 nil 时替换原生栈提议的请求
	OnRedirect(t *Task, r *event.Redirect) (follow bool, req *event.RequestInfo)
	// OnData 按刷新阈值聚合后的数据
	OnData(t *Task, data []byte)
	// OnComplete 任务结束，err 为 nil 表示成功
	OnComplete(t *Task, err error)
	OnWebSocketOpen(t *Task, protocol string)
	OnWebSocketMessage(t *Task, messageType int, data []byte)
	OnWebSocketClose(t *Task, code int, reason []byte)
	// OnCancel 任务被取消，只调用一次，之后不再有其它回调
	OnCancel(t *Task, cause error)
}

// HandlerFuncs 按需实现的 Handler，未设置的回调使用默认行为
type HandlerFuncs struct {
	Response         func(t *Task, resp *event.ResponseInfo) event.Disposition
	Redirect         func(t *Task, r *event.Redirect) (bool, *event.RequestInfo)
	Data             func(t *Task, data []byte)
	Complete         func(t *Task, err error)
	WebSocketOpen    func(t *Task, protocol string)
	WebSocketMessage func(t *Task, messageType int, data []byte)
	WebSocketClose   func(t *Task, code int, reason []byte)
	Cancel           func(t *Task, cause error)
}

var _ Handler = HandlerFuncs{}

func (h HandlerFuncs) OnResponse(t *Task, resp *event.ResponseInfo) event.Disposition {
	if h.Response == nil {
		return event.DispositionAllow
	}
	return h.Response(t, resp)
}

func (h HandlerFuncs) OnRedirect(t *Task, r *event.Redirect) (bool, *event.RequestInfo) {
	if h.Redirect == nil {
		return true, nil
	}
	return h.Redirect(t, r)
}

func (h HandlerFuncs) OnData(t *Task, data []byte) {
	if h.Data != nil {
		h.Data(t, data)
	}
}

func (h HandlerFuncs) OnComplete(t *Task, err error) {
	if h.Complete != nil {
		h.Complete(t, err)
	}
}

func (h HandlerFuncs) OnWebSocketOpen(t *Task, protocol string) {
	if h.WebSocketOpen != nil {
		h.WebSocketOpen(t, protocol)
	}
}

func (h HandlerFuncs) OnWebSocketMessage(t *Task, messageType int, data []byte) {
	if h.WebSocketMessage != nil {
		h.WebSocketMessage(t, messageType, data)
	}
}

func (h HandlerFuncs) OnWebSocketClose(t *Task, code int, reason []byte) {
	if h.WebSocketClose != nil {
		h.WebSocketClose(t, code, reason)
	}
}

func (h HandlerFuncs) OnCancel(t *Task, cause error) {
	if h.Cancel != nil {
		h.Cancel(t, cause)
	}
}
