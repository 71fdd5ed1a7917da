package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `mapstructure:"default_level" yaml:"default_level"` // default log level for all modules
	Timezone     string            `mapstructure:"timezone" yaml:"timezone"`           // "Local", "UTC", or IANA name
	Console      *ConsoleOutput    `mapstructure:"console" yaml:"console"`
	FileOutput   *FileOutput       `mapstructure:"file_output" yaml:"file_output"`
	ModuleLevels map[string]string `mapstructure:"module_levels" yaml:"module_levels"` // per-module log levels
}

// ConsoleOutput represents console logging configuration.
// Console output is plain text without timestamps; cron and journald add them.
type ConsoleOutput struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Level   string `mapstructure:"level" yaml:"level"`
}

// FileOutput represents file logging configuration. Records are JSON with RFC3339 timestamps.
type FileOutput struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Path            string `mapstructure:"path" yaml:"path"`
	MaxSize         int    `mapstructure:"max_size" yaml:"max_size"`                   // MB before rotation
	MaxAge          int    `mapstructure:"max_age" yaml:"max_age"`                     // days to keep rotated logs
	MaxRotatedFiles int    `mapstructure:"max_rotated_files" yaml:"max_rotated_files"` // 0 keeps all
	Compress        bool   `mapstructure:"compress" yaml:"compress"`
	Level           string `mapstructure:"level" yaml:"level"`
}

// Default values for logging configuration. Keep in sync with conf/defaults.go.
const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/xrhms.log"
	DefaultMaxSize         = 100
	DefaultMaxAge          = 30
	DefaultMaxRotatedFiles = 10
)

// applyConfigDefaults fills nil sections so a bare config still logs to the console.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}
	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{Enabled: true, Level: cfg.DefaultLevel}
	}
	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{Enabled: false}
	}
	if cfg.FileOutput.Enabled {
		if cfg.FileOutput.Path == "" {
			cfg.FileOutput.Path = DefaultLogPath
		}
		if cfg.FileOutput.MaxSize == 0 {
			cfg.FileOutput.MaxSize = DefaultMaxSize
		}
		if cfg.FileOutput.MaxAge == 0 {
			cfg.FileOutput.MaxAge = DefaultMaxAge
		}
		if cfg.FileOutput.MaxRotatedFiles == 0 {
			cfg.FileOutput.MaxRotatedFiles = DefaultMaxRotatedFiles
		}
	}
	if cfg.ModuleLevels == nil {
		cfg.ModuleLevels = make(map[string]string)
	}
}
