package schema

import "time"

// HTTPConfig contains settings of the net/http driver
type HTTPConfig struct {
	FollowRedirects    bool          `yaml:"follow_redirects" json:"follow_redirects"`
	MaxRedirects       int           `yaml:"max_redirects" json:"max_redirects"`
	FlushThreshold     int           `yaml:"flush_threshold" json:"flush_threshold"`     // bytes buffered before handing data to the consumer
	ReadChunkSize      int           `yaml:"read_chunk_size" json:"read_chunk_size"`     // bytes per data callback
	Timeout            time.Duration `yaml:"timeout" json:"timeout"`                     // whole-request timeout, 0 = none
	UserAgent          string        `yaml:"user_agent" json:"user_agent"`
	CookieJar          bool          `yaml:"cookie_jar" json:"cookie_jar"`
	MaxIdleConns       int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	DisableCompression bool          `yaml:"disable_compression" json:"disable_compression"`
}

// WebSocketConfig contains settings of the WebSocket driver
type WebSocketConfig struct {
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
	ReadBufferSize    int           `yaml:"read_buffer_size" json:"read_buffer_size"`
	WriteBufferSize   int           `yaml:"write_buffer_size" json:"write_buffer_size"`
	Subprotocols      []string      `yaml:"subprotocols" json:"subprotocols"`
	EnableCompression bool          `yaml:"enable_compression" json:"enable_compression"`
}
