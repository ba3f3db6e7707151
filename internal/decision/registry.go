package decision

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	coreerrors "urlport/internal/core/errors"
	"urlport/internal/event"
)

// DefaultSettledCacheSize 已结束决策的记忆容量
const DefaultSettledCacheSize = 4096

// Registry 决策 id 到待决策对象的表，支撑按 id 回传结果
//
// 活跃项保存在 map 中；结束后移入有界 LRU，迟到的 Resolve 仍能得到
// AlreadyResolved 或空操作，而不是 NotFound。
type Registry struct {
	mu      sync.Mutex
	active  map[string]*PendingDecision
	settled *lru.Cache[string, State]
}

// NewRegistry 创建注册表
func NewRegistry(settledSize int) *Registry {
	if settledSize <= 0 {
		settledSize = DefaultSettledCacheSize
	}
	settled, _ := lru.New[string, State](settledSize)
	return &Registry{
		active:  make(map[string]*PendingDecision),
		settled: settled,
	}
}

// Add 登记待决策对象，对象结束时自动移出活跃表
func (r *Registry) Add(p *PendingDecision) {
	r.mu.Lock()
	r.active[p.id] = p
	r.mu.Unlock()
	p.setOnSettle(r.retire)
}

func (r *Registry) retire(p *PendingDecision) {
	state := p.State()
	r.mu.Lock()
	delete(r.active, p.id)
	r.mu.Unlock()
	r.settled.Add(p.id, state)
}

// Get 查找活跃的待决策对象
func (r *Registry) Get(id string) (*PendingDecision, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.active[id]
	return p, ok
}

// Resolve 按 id 写入决策
func (r *Registry) Resolve(id string, v event.Decision) error {
	if p, ok := r.Get(id); ok {
		return p.Resolve(v)
	}
	if state, ok := r.settled.Get(id); ok {
		if state == StateResolved {
			return coreerrors.New(coreerrors.CodeAlreadyResolved, "decision already resolved").
				WithDetailString("decision", id)
		}
		return nil
	}
	return coreerrors.Newf(coreerrors.CodeNotFound, "decision %s not found", id)
}

// CancelAll 取消所有活跃决策，返回取消数量
func (r *Registry) CancelAll(cause error) int {
	r.mu.Lock()
	pending := make([]*PendingDecision, 0, len(r.active))
	for _, p := range r.active {
		pending = append(pending, p)
	}
	r.mu.Unlock()

	n := 0
	for _, p := range pending {
		if p.Cancel(cause) {
			n++
		}
	}
	return n
}

// Len 活跃决策数量
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
