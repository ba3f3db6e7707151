package event

// Disposition 对响应的处置，编号与原生栈一致
type Disposition uint8

const (
	DispositionCancel Disposition = 0
	DispositionAllow  Disposition = 1
)

func (d Disposition) String() string {
	if d == DispositionAllow {
		return "allow"
	}
	return "cancel"
}

// Decision 消费者对一个事件的答复
//
// Response 使用 Disposition；Redirect 使用 Follow 和可选的 Request 改写；
// 其它类型只是确认。Cancelled 表示任务已被取消或等待失败，Err 给出原因。
type Decision struct {
	Kind        Kind
	Disposition Disposition
	Follow      bool
	Request     *RequestInfo
	Cancelled   bool
	Err         error
}

// Continue 确认事件，原生栈继续
func Continue(kind Kind) Decision {
	return Decision{Kind: kind, Disposition: DispositionAllow}
}

// Allow 允许响应继续加载
func Allow() Decision {
	return Decision{Kind: KindResponse, Disposition: DispositionAllow}
}

// Deny 取消响应
func Deny() Decision {
	return Decision{Kind: KindResponse, Disposition: DispositionCancel}
}

// FollowRedirect 跟随重定向，req 为 nil 时使用原生栈提议的请求
func FollowRedirect(req *RequestInfo) Decision {
	return Decision{Kind: KindRedirect, Follow: true, Request: req}
}

// StopRedirect 不跟随重定向，3xx 响应作为最终响应交付
func StopRedirect() Decision {
	return Decision{Kind: KindRedirect, Follow: false}
}

// Cancelled 取消结果
func Cancelled(kind Kind, err error) Decision {
	return Decision{Kind: kind, Disposition: DispositionCancel, Cancelled: true, Err: err}
}

// DefaultDecision 无人能决策时使用的结果（任务不存在或已取消）
func DefaultDecision(kind Kind) Decision {
	switch kind {
	case KindRedirect:
		return StopRedirect()
	default:
		return Decision{Kind: kind, Disposition: DispositionCancel}
	}
}

// Proceed 原生栈是否应继续当前操作
func (d Decision) Proceed() bool {
	if d.Cancelled {
		return false
	}
	switch d.Kind {
	case KindResponse, KindData, KindWebSocketOpen, KindWebSocketMessage:
		return d.Disposition == DispositionAllow
	default:
		return true
	}
}
