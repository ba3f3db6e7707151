package native

import (
	"io"

	coreerrors "urlport/internal/core/errors"
)

// StreamingBody 由调用方逐块写入的请求体
//
// Write 在传输层读走数据前阻塞。
type StreamingBody struct {
	pr *io.PipeReader
	pw *io.PipeWriter
}

// NewStreamingBody 创建流式请求体
func NewStreamingBody() *StreamingBody {
	pr, pw := io.Pipe()
	return &StreamingBody{pr: pr, pw: pw}
}

// Reader 作为 http.Request.Body 使用
func (b *StreamingBody) Reader() io.ReadCloser { return b.pr }

// Write 写入一块数据
func (b *StreamingBody) Write(p []byte) (int, error) {
	n, err := b.pw.Write(p)
	if err == io.ErrClosedPipe {
		return n, coreerrors.Wrap(err, coreerrors.CodeResourceClosed, "request body closed")
	}
	return n, err
}

// Finish 结束请求体
func (b *StreamingBody) Finish() error {
	return b.pw.Close()
}

// Cancel 以错误结束请求体，正在进行的请求随之失败
func (b *StreamingBody) Cancel(err error) {
	if err == nil {
		err = coreerrors.ErrCancelled
	}
	_ = b.pw.CloseWithError(err)
}
