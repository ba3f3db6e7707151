package idgen

import (
	"github.com/google/uuid"
)

// UUIDGenerator 基于 UUID v7 的 ID 生成器
// 决策 ID、端口 ID 使用它；UUID v7 时间有序，日志里按 ID 排序即按创建顺序
type UUIDGenerator struct {
	prefix string
}

// NewUUIDGenerator 创建 UUID 生成器
func NewUUIDGenerator(prefix string) *UUIDGenerator {
	return &UUIDGenerator{prefix: prefix}
}

// Generate 生成唯一 ID
func (g *UUIDGenerator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		// 回退到 UUID v4
		id = uuid.New()
	}
	return g.prefix + id.String()
}

// Valid 检查 ID 是否由该生成器的格式产生
func (g *UUIDGenerator) Valid(id string) bool {
	if len(id) <= len(g.prefix) || id[:len(g.prefix)] != g.prefix {
		return false
	}
	_, err := uuid.Parse(id[len(g.prefix):])
	return err == nil
}

var (
	decisionIDs = NewUUIDGenerator("dec_")
	portIDs     = NewUUIDGenerator("port_")
)

// NewDecisionID 生成待决策对象 ID
func NewDecisionID() string { return decisionIDs.Generate() }

// NewPortID 生成消息端口 ID
func NewPortID() string { return portIDs.Generate() }
