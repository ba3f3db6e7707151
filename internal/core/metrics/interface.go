// Package metrics 提供桥接层的指标收集
package metrics

// Metrics 指标收集接口
// 设计目标：进程内使用简单实现，可替换为其它后端
type Metrics interface {
	// Counter 操作
	IncrementCounter(name string, labels map[string]string) error
	AddCounter(name string, value float64, labels map[string]string) error
	GetCounter(name string, labels map[string]string) (float64, error)

	// Gauge 操作
	SetGauge(name string, value float64, labels map[string]string) error
	AddGauge(name string, delta float64, labels map[string]string) error
	GetGauge(name string, labels map[string]string) (float64, error)

	// Snapshot 返回所有指标的当前值，键为带标签的完整名称
	Snapshot() map[string]float64

	Close() error
}
