// Package schema defines configuration structure types
package schema

import "time"

// Root is the top-level configuration structure
type Root struct {
	Log       LogConfig       `yaml:"log" json:"log"`
	Bridge    BridgeConfig    `yaml:"bridge" json:"bridge"`
	HTTP      HTTPConfig      `yaml:"http" json:"http"`
	WebSocket WebSocketConfig `yaml:"websocket" json:"websocket"`
	Relay     RelayConfig     `yaml:"relay" json:"relay"`
}

// BridgeConfig contains settings of the callback-to-decision bridge
type BridgeConfig struct {
	// WaitTimeout bounds how long a native callback blocks for a decision.
	// Zero waits forever.
	WaitTimeout time.Duration `yaml:"wait_timeout" json:"wait_timeout"`
	// MailboxWarnDepth is a soft high-water mark; deeper backlogs are logged, never rejected.
	MailboxWarnDepth     int `yaml:"mailbox_warn_depth" json:"mailbox_warn_depth"`
	RetiredTaskCache     int `yaml:"retired_task_cache" json:"retired_task_cache"`
	SettledDecisionCache int `yaml:"settled_decision_cache" json:"settled_decision_cache"`
}

// RelayConfig contains settings for the out-of-process consumer port
type RelayConfig struct {
	Listen       string        `yaml:"listen" json:"listen"`
	Path         string        `yaml:"path" json:"path"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}
