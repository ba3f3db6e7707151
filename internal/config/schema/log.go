package schema

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug/info/warn/error
	Format string `yaml:"format" json:"format"` // text/json
	Output string `yaml:"output" json:"output"` // stderr/stdout/file/discard
	File   string `yaml:"file" json:"file"`     // log file path when output=file
}

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Log output constants
const (
	LogOutputStderr  = "stderr"
	LogOutputStdout  = "stdout"
	LogOutputFile    = "file"
	LogOutputDiscard = "discard"
)
