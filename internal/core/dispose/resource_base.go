package dispose

import (
	"context"

	corelog "urlport/internal/core/log"
)

// ResourceBase 通用资源管理基类
type ResourceBase struct {
	Dispose
}

// NewResourceBase 创建新的资源基类
func NewResourceBase(name string) *ResourceBase {
	r := &ResourceBase{}
	r.name = name
	return r
}

// Initialize 初始化资源，设置上下文和清理回调
func (r *ResourceBase) Initialize(parentCtx context.Context) {
	r.SetCtx(parentCtx, r.onClose)
}

func (r *ResourceBase) onClose() error {
	corelog.Debugf("%s resources cleaned up", r.name)
	return nil
}

// GetName 获取资源名称
func (r *ResourceBase) GetName() string {
	return r.name
}
