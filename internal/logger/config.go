package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel  string                  `yaml:"default_level" mapstructure:"default_level" json:"default_level"` // default level for all modules
	Timezone      string                  `yaml:"timezone" mapstructure:"timezone" json:"timezone"`                // "Local", "UTC" or an IANA name
	Console       *ConsoleOutput          `yaml:"console" mapstructure:"console" json:"console"`
	FileOutput    *FileOutput             `yaml:"file_output" mapstructure:"file_output" json:"file_output"`
	ModuleOutputs map[string]ModuleOutput `yaml:"modules" mapstructure:"modules" json:"modules"`                   // per-module output
	ModuleLevels  map[string]string       `yaml:"module_levels" mapstructure:"module_levels" json:"module_levels"` // per-module levels
}

// ConsoleOutput represents console logging configuration.
// Console output is text without timestamps; journald or the container
// runtime adds them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Level   string `yaml:"level" mapstructure:"level" json:"level"`
}

// FileOutput represents file logging configuration. File output is JSON.
type FileOutput struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	Path    string `yaml:"path" mapstructure:"path" json:"path"`
	Level   string `yaml:"level" mapstructure:"level" json:"level"`
}

// ModuleOutput routes one module to a dedicated file
type ModuleOutput struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled" json:"enabled"`
	FilePath    string `yaml:"file_path" mapstructure:"file_path" json:"file_path"`
	Level       string `yaml:"level" mapstructure:"level" json:"level"`
	ConsoleAlso bool   `yaml:"console_also" mapstructure:"console_also" json:"console_also"`
}

const (
	DefaultLogLevel       = "info"
	DefaultLogPath        = "logs/streamhub.log"
	DefaultConsoleEnabled = true
	DefaultFileEnabled    = false

	// LogFilePermissions restricts log files to the owner
	LogFilePermissions = 0o600
)

// applyConfigDefaults fills nil sections so a partial config still logs
// to the console.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: DefaultConsoleEnabled,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{
			Enabled: DefaultFileEnabled,
			Path:    DefaultLogPath,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.ModuleOutputs == nil {
		cfg.ModuleOutputs = make(map[string]ModuleOutput)
	}
}
