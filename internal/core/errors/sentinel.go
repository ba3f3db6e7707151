package errors

// 预定义哨兵错误（用于 errors.Is 比较）
// 这些错误用于快速类型检查，不包含详细信息
var (
	// 注册表
	ErrDuplicateRegistration = New(CodeDuplicateRegistration, "task already registered")
	ErrUnknownTask           = New(CodeUnknownTask, "task not registered")
	ErrNotFound              = New(CodeNotFound, "resource not found")

	// 决策
	ErrAlreadyResolved        = New(CodeAlreadyResolved, "decision already resolved")
	ErrCancellationDuringWait = New(CodeCancelled, "cancelled while waiting for decision")
	ErrCancelled              = New(CodeCancelled, "operation cancelled")
	ErrConsumerTimeout        = New(CodeConsumerTimeout, "consumer did not resolve decision in time")
	ErrRedirectLimit          = New(CodeRedirectLimit, "redirect limit exceeded")

	// 请求错误
	ErrInvalidParam = New(CodeInvalidParam, "invalid parameter")
	ErrInvalidState = New(CodeInvalidState, "invalid state transition")

	// 资源/连接
	ErrPortClosed      = New(CodeResourceClosed, "message port closed")
	ErrResourceClosed  = New(CodeResourceClosed, "resource closed")
	ErrNetworkError    = New(CodeNetworkError, "network error")
	ErrHandshakeFailed = New(CodeHandshakeFailed, "handshake failed")
	ErrProtocolError   = New(CodeProtocolError, "protocol error")

	ErrInternal = New(CodeInternal, "internal error")
)

// IsCancelled 检查是否为取消类错误（等待期间取消或操作取消）
func IsCancelled(err error) bool {
	return IsCode(err, CodeCancelled)
}

// IsTaskFatal 检查错误是否对任务致命（需要终止任务，但不影响进程）
func IsTaskFatal(err error) bool {
	switch GetCode(err) {
	case CodeCancelled, CodeConsumerTimeout, CodeRedirectLimit, CodeResourceClosed:
		return true
	default:
		return false
	}
}

// IsBookkeeping 检查是否为注册表簿记类错误（在转发器边界吸收，不回传给原生栈）
func IsBookkeeping(err error) bool {
	return IsCode(err, CodeDuplicateRegistration) || IsCode(err, CodeUnknownTask)
}
