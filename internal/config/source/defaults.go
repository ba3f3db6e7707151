package source

import (
	"time"

	"urlport/internal/config/schema"
)

// Default values shared with components that are built without a loader
const (
	DefaultWaitTimeout          = 60 * time.Second
	DefaultMailboxWarnDepth     = 1024
	DefaultRetiredTaskCache     = 4096
	DefaultSettledDecisionCache = 4096
	DefaultMaxRedirects         = 5
	DefaultChunkSize            = 64 * 1024
)

// DefaultSource provides default configuration values
type DefaultSource struct{}

// NewDefaultSource creates a new DefaultSource
func NewDefaultSource() *DefaultSource {
	return &DefaultSource{}
}

// Name returns the source name
func (s *DefaultSource) Name() string {
	return "defaults"
}

// Priority returns the source priority
func (s *DefaultSource) Priority() int {
	return PriorityDefaults
}

// LoadInto loads default values into the configuration
func (s *DefaultSource) LoadInto(cfg *schema.Root) error {
	// Log defaults
	cfg.Log.Level = schema.LogLevelInfo
	cfg.Log.Format = schema.LogFormatText
	cfg.Log.Output = schema.LogOutputStderr

	// Bridge defaults
	cfg.Bridge.WaitTimeout = DefaultWaitTimeout
	cfg.Bridge.MailboxWarnDepth = DefaultMailboxWarnDepth
	cfg.Bridge.RetiredTaskCache = DefaultRetiredTaskCache
	cfg.Bridge.SettledDecisionCache = DefaultSettledDecisionCache

	// HTTP defaults
	cfg.HTTP.FollowRedirects = true
	cfg.HTTP.MaxRedirects = DefaultMaxRedirects
	cfg.HTTP.FlushThreshold = DefaultChunkSize
	cfg.HTTP.ReadChunkSize = DefaultChunkSize
	cfg.HTTP.UserAgent = "urlport/1.0"
	cfg.HTTP.CookieJar = true
	cfg.HTTP.MaxIdleConns = 100

	// WebSocket defaults
	cfg.WebSocket.HandshakeTimeout = 30 * time.Second
	cfg.WebSocket.ReadBufferSize = 32 * 1024
	cfg.WebSocket.WriteBufferSize = 32 * 1024

	// Relay defaults
	cfg.Relay.Listen = "127.0.0.1:7780"
	cfg.Relay.Path = "/_urlport"
	cfg.Relay.WriteTimeout = 10 * time.Second

	return nil
}

// GetDefaultConfig returns a fully initialized default configuration
func GetDefaultConfig() *schema.Root {
	cfg := &schema.Root{}
	source := NewDefaultSource()
	_ = source.LoadInto(cfg)
	return cfg
}
