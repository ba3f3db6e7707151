// Package safe 提供安全的 Goroutine 管理
//
// 原生回调线程和消费者循环都经由这里启动：
// 1. 所有 Goroutine 必须有 panic 恢复
// 2. 支持 Goroutine 计数
// 3. 支持 context 取消
package safe

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	corelog "urlport/internal/core/log"
)

var globalManager = &manager{}

type manager struct {
	activeCount atomic.Int64
	totalCount  atomic.Int64
	panicCount  atomic.Int64
}

// Stats Goroutine 统计信息
type Stats struct {
	Active     int64 // 当前活跃数量
	Total      int64 // 累计创建数量
	PanicCount int64 // panic 次数
}

// GetStats 获取统计信息
func GetStats() Stats {
	return Stats{
		Active:     globalManager.activeCount.Load(),
		Total:      globalManager.totalCount.Load(),
		PanicCount: globalManager.panicCount.Load(),
	}
}

func run(name string, fn func(), onPanic func(recovered interface{})) {
	globalManager.totalCount.Add(1)
	globalManager.activeCount.Add(1)
	defer func() {
		globalManager.activeCount.Add(-1)
		if r := recover(); r != nil {
			globalManager.panicCount.Add(1)
			corelog.Errorf("SafeGo[%s]: panic recovered: %v\n%s", name, r, debug.Stack())
			if onPanic != nil {
				onPanic(r)
			}
		}
	}()
	fn()
}

// Go 安全启动 Goroutine（带 panic 恢复）
// name 用于日志标识
func Go(name string, fn func()) {
	go run(name, fn, nil)
}

// GoWithContext 带 context 的安全 Goroutine
func GoWithContext(ctx context.Context, name string, fn func(ctx context.Context)) {
	go run(name, func() { fn(ctx) }, nil)
}

// GoWithCallback 带回调的安全 Goroutine
// onPanic 在发生 panic 时调用，原生驱动用它把任务以错误结束
func GoWithCallback(name string, fn func(), onPanic func(recovered interface{})) {
	go run(name, fn, onPanic)
}

// WaitGroup 封装的 WaitGroup，自动跟踪 Goroutine
type WaitGroup struct {
	wg   sync.WaitGroup
	name string
}

// NewWaitGroup 创建新的 WaitGroup
func NewWaitGroup(name string) *WaitGroup {
	return &WaitGroup{name: name}
}

// Go 在 WaitGroup 中安全启动 Goroutine
func (w *WaitGroup) Go(fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		run(w.name, fn, nil)
	}()
}

// Wait 等待所有 Goroutine 完成
func (w *WaitGroup) Wait() {
	w.wg.Wait()
}
