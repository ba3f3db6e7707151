package metrics

// 桥接层指标名称
const (
	TasksRegistered    = "tasks_registered"
	DecisionsInflight  = "decisions_inflight"
	DecisionsRequested = "decisions_requested"
	DecisionsResolved  = "decisions_resolved"
	DecisionsCancelled = "decisions_cancelled"
	DecisionsTimedOut  = "decisions_timed_out"
	EventsStray        = "events_stray"
	PortBacklog        = "port_backlog"
	DataFlushed        = "data_flushed_bytes"
)

// 未设置全局实例时所有辅助函数都是空操作

func inc(name string, labels map[string]string) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.IncrementCounter(name, labels)
	}
}

func gauge(name string, delta float64) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.AddGauge(name, delta, nil)
	}
}

// TaskRegistered 注册任务
func TaskRegistered() { gauge(TasksRegistered, 1) }

// TaskUnregistered 注销任务
func TaskUnregistered() { gauge(TasksRegistered, -1) }

// DecisionRequested 新的待决策对象发出，kind 为事件类型名
func DecisionRequested(kind string) {
	inc(DecisionsRequested, map[string]string{"kind": kind})
	gauge(DecisionsInflight, 1)
}

// DecisionSettled 待决策对象结束等待，outcome 为 resolved/cancelled/timed_out
func DecisionSettled(outcome string) {
	gauge(DecisionsInflight, -1)
	switch outcome {
	case "resolved":
		inc(DecisionsResolved, nil)
	case "cancelled":
		inc(DecisionsCancelled, nil)
	case "timed_out":
		inc(DecisionsTimedOut, nil)
	}
}

// StrayEvent 记录到达时任务已不存在的事件
func StrayEvent() { inc(EventsStray, nil) }

// SetPortBacklog 设置端口积压深度
func SetPortBacklog(depth int) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.SetGauge(PortBacklog, float64(depth), nil)
	}
}

// AddFlushedBytes 记录消费者刷出的数据量
func AddFlushedBytes(n int) {
	if m := GetGlobalMetrics(); m != nil {
		_ = m.AddCounter(DataFlushed, float64(n), nil)
	}
}
