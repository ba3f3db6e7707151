package source

import (
	"os"
	"strconv"
	"strings"
	"time"

	"urlport/internal/config/schema"
)

// EnvSource loads configuration from environment variables
type EnvSource struct {
	prefix string
}

// NewEnvSource creates a new EnvSource with the specified prefix
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{
		prefix: prefix,
	}
}

// Name returns the source name
func (s *EnvSource) Name() string {
	return "env"
}

// Priority returns the source priority
func (s *EnvSource) Priority() int {
	return PriorityEnv
}

// LoadInto loads environment variables into the config structure
func (s *EnvSource) LoadInto(cfg *schema.Root) error {
	// Log
	s.loadString("LOG_LEVEL", &cfg.Log.Level)
	s.loadString("LOG_FORMAT", &cfg.Log.Format)
	s.loadString("LOG_OUTPUT", &cfg.Log.Output)
	s.loadString("LOG_FILE", &cfg.Log.File)

	// Bridge
	s.loadDuration("BRIDGE_WAIT_TIMEOUT", &cfg.Bridge.WaitTimeout)
	s.loadInt("BRIDGE_MAILBOX_WARN_DEPTH", &cfg.Bridge.MailboxWarnDepth)
	s.loadInt("BRIDGE_RETIRED_TASK_CACHE", &cfg.Bridge.RetiredTaskCache)
	s.loadInt("BRIDGE_SETTLED_DECISION_CACHE", &cfg.Bridge.SettledDecisionCache)

	// HTTP
	s.loadBool("HTTP_FOLLOW_REDIRECTS", &cfg.HTTP.FollowRedirects)
	s.loadInt("HTTP_MAX_REDIRECTS", &cfg.HTTP.MaxRedirects)
	s.loadInt("HTTP_FLUSH_THRESHOLD", &cfg.HTTP.FlushThreshold)
	s.loadInt("HTTP_READ_CHUNK_SIZE", &cfg.HTTP.ReadChunkSize)
	s.loadDuration("HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	s.loadString("HTTP_USER_AGENT", &cfg.HTTP.UserAgent)
	s.loadBool("HTTP_COOKIE_JAR", &cfg.HTTP.CookieJar)
	s.loadInt("HTTP_MAX_IDLE_CONNS", &cfg.HTTP.MaxIdleConns)
	s.loadBool("HTTP_DISABLE_COMPRESSION", &cfg.HTTP.DisableCompression)

	// WebSocket
	s.loadDuration("WEBSOCKET_HANDSHAKE_TIMEOUT", &cfg.WebSocket.HandshakeTimeout)
	s.loadInt("WEBSOCKET_READ_BUFFER_SIZE", &cfg.WebSocket.ReadBufferSize)
	s.loadInt("WEBSOCKET_WRITE_BUFFER_SIZE", &cfg.WebSocket.WriteBufferSize)
	s.loadStringSlice("WEBSOCKET_SUBPROTOCOLS", &cfg.WebSocket.Subprotocols)
	s.loadBool("WEBSOCKET_ENABLE_COMPRESSION", &cfg.WebSocket.EnableCompression)

	// Relay
	s.loadString("RELAY_LISTEN", &cfg.Relay.Listen)
	s.loadString("RELAY_PATH", &cfg.Relay.Path)
	s.loadDuration("RELAY_WRITE_TIMEOUT", &cfg.Relay.WriteTimeout)

	return nil
}

// getEnv gets environment variable with the configured prefix
func (s *EnvSource) getEnv(key string) (string, bool) {
	prefixedKey := s.prefix + "_" + key
	if v := os.Getenv(prefixedKey); v != "" {
		return v, true
	}
	return "", false
}

func (s *EnvSource) loadString(key string, target *string) {
	if v, ok := s.getEnv(key); ok {
		*target = v
	}
}

func (s *EnvSource) loadBool(key string, target *bool) {
	if v, ok := s.getEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func (s *EnvSource) loadInt(key string, target *int) {
	if v, ok := s.getEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			*target = i
		}
	}
}

func (s *EnvSource) loadDuration(key string, target *time.Duration) {
	if v, ok := s.getEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

func (s *EnvSource) loadStringSlice(key string, target *[]string) {
	if v, ok := s.getEnv(key); ok {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			*target = result
		}
	}
}
