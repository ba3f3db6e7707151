// Package dispose 提供统一的资源释放机制
// 组件嵌入 Dispose 或 ResourceBase，父 context 取消或显式 Close 时按注册顺序执行清理
package dispose

import (
	"context"
	"errors"
	"fmt"
	"sync"

	corelog "urlport/internal/core/log"
)

// DisposeError 清理过程中的错误信息
type DisposeError struct {
	HandlerIndex int
	ResourceName string
	Err          error
}

func (e *DisposeError) Error() string {
	if e.ResourceName != "" {
		return fmt.Sprintf("cleanup resource[%s] handler[%d] failed: %v", e.ResourceName, e.HandlerIndex, e.Err)
	}
	return fmt.Sprintf("cleanup handler[%d] failed: %v", e.HandlerIndex, e.Err)
}

func (e *DisposeError) Unwrap() error {
	return e.Err
}

// DisposeResult 清理结果
type DisposeResult struct {
	Errors []*DisposeError
}

func (r *DisposeResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Err 合并所有清理错误，无错误时返回 nil
func (r *DisposeResult) Err() error {
	if !r.HasErrors() {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// Disposable 统一的资源释放接口
type Disposable interface {
	Dispose() error
}

// Dispose 资源管理结构体
type Dispose struct {
	mu       sync.Mutex
	closed   bool
	name     string
	ctx      context.Context
	cancel   context.CancelFunc
	handlers []func() error
	errors   []*DisposeError
}

// Ctx 返回资源生命周期 context，Close 后被取消
func (c *Dispose) Ctx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Dispose) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// AddCleanHandler 添加清理处理器
func (c *Dispose) AddCleanHandler(f func() error) {
	if f == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, f)
}

// SetCtx 绑定父 context；父 context 取消时自动执行清理
// 只能调用一次，重复调用被忽略
func (c *Dispose) SetCtx(parent context.Context, onClose func() error) {
	if parent == nil {
		parent = context.Background()
	}

	c.mu.Lock()
	if c.ctx != nil {
		c.mu.Unlock()
		corelog.Warnf("dispose[%s]: ctx already set", c.name)
		return
	}
	c.ctx, c.cancel = context.WithCancel(parent)
	if onClose != nil {
		c.handlers = append(c.handlers, onClose)
	}
	ctx := c.ctx
	c.mu.Unlock()

	go func() {
		<-ctx.Done()
		if result := c.Close(); result.HasErrors() {
			corelog.Errorf("dispose[%s]: context cancellation cleanup failed: %v", c.name, result.Err())
		}
	}()
}

// Close 关闭并返回清理结果，重复调用返回首次的结果
func (c *Dispose) Close() *DisposeResult {
	c.mu.Lock()
	if c.closed {
		errs := c.errors
		c.mu.Unlock()
		return &DisposeResult{Errors: errs}
	}
	c.closed = true
	cancel := c.cancel
	handlers := make([]func() error, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	result := &DisposeResult{}
	for i, handler := range handlers {
		if err := handler(); err != nil {
			result.Errors = append(result.Errors, &DisposeError{
				HandlerIndex: i,
				ResourceName: c.name,
				Err:          err,
			})
			corelog.Errorf("dispose[%s]: cleanup handler[%d] failed: %v", c.name, i, err)
		}
	}

	c.mu.Lock()
	c.errors = result.Errors
	c.mu.Unlock()
	return result
}

// Dispose 实现 Disposable
func (c *Dispose) Dispose() error {
	return c.Close().Err()
}
