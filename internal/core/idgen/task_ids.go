// Package idgen 提供任务句柄和各类标识的生成
package idgen

import "sync/atomic"

// TaskIDs 单调递增的任务句柄分配器，与原生任务标识一样进程内唯一，从 1 开始
type TaskIDs struct {
	next atomic.Uint64
}

// NewTaskIDs 创建任务句柄分配器
func NewTaskIDs() *TaskIDs {
	return &TaskIDs{}
}

// Next 分配下一个任务句柄，0 保留为无效句柄
func (g *TaskIDs) Next() uint64 {
	return g.next.Add(1)
}

// Last 返回最近分配的句柄
func (g *TaskIDs) Last() uint64 {
	return g.next.Load()
}
