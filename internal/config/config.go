// Package config loads pagepilot's settings from defaults, an optional YAML
// file, a .env file and PAGEPILOT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PAGEPILOT_LOGGER_LEVEL.
const EnvPrefix = "PAGEPILOT"

// Config holds the entire application configuration.
type Config struct {
	Logger         LoggerConfig         `mapstructure:"logger" yaml:"logger"`
	Browser        BrowserConfig        `mapstructure:"browser" yaml:"browser"`
	Executor       ExecutorConfig       `mapstructure:"executor" yaml:"executor"`
	Interpretation InterpretationConfig `mapstructure:"interpretation" yaml:"interpretation"`
	Transport      TransportConfig      `mapstructure:"transport" yaml:"transport"`
	Recorder       RecorderConfig       `mapstructure:"recorder" yaml:"recorder"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the console colour of each level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

// BrowserConfig controls the launched Chromium.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	Width           int           `mapstructure:"width" yaml:"width"`
	Height          int           `mapstructure:"height" yaml:"height"`
	Bin             string        `mapstructure:"bin" yaml:"bin"`
	ProfileDir      string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	LoadTimeout     time.Duration `mapstructure:"load_timeout" yaml:"load_timeout"`
	IncludeElements bool          `mapstructure:"include_elements" yaml:"include_elements"`
}

// ExecutorConfig paces actions and sequence steps. Zero values select the
// built-in defaults.
type ExecutorConfig struct {
	// SettleDelay is the pause after scrolling a target into view.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	StepDelay   time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	ScrollDelay time.Duration `mapstructure:"scroll_delay" yaml:"scroll_delay"`
}

// InterpretationConfig selects the model that turns commands into actions.
type InterpretationConfig struct {
	Provider  string `mapstructure:"provider" yaml:"provider"`
	Model     string `mapstructure:"model" yaml:"model"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	APIKey    string `mapstructure:"api_key" yaml:"-"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	// Timeout bounds one interpretation; zero means unbounded.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// TransportConfig configures the WebSocket endpoint.
type TransportConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	URL        string `mapstructure:"url" yaml:"url"`
}

// RecorderConfig controls GIF recording of executed actions.
type RecorderConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Output     string        `mapstructure:"output" yaml:"output"`
	MaxWidth   int           `mapstructure:"max_width" yaml:"max_width"`
	FrameDelay time.Duration `mapstructure:"frame_delay" yaml:"frame_delay"`
	MoveFrames int           `mapstructure:"move_frames" yaml:"move_frames"`
	NoCursor   bool          `mapstructure:"no_cursor" yaml:"no_cursor"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every key with its default. Keys must be registered
// for AutomaticEnv to reach them during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "pagepilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.width", 1280)
	v.SetDefault("browser.height", 720)
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.profile_dir", "")
	v.SetDefault("browser.load_timeout", "30s")
	v.SetDefault("browser.include_elements", true)

	v.SetDefault("executor.settle_delay", "500ms")
	v.SetDefault("executor.step_delay", "500ms")
	v.SetDefault("executor.scroll_delay", "1s")

	v.SetDefault("interpretation.provider", "ollama")
	v.SetDefault("interpretation.model", "")
	v.SetDefault("interpretation.base_url", "")
	v.SetDefault("interpretation.api_key", "")
	v.SetDefault("interpretation.max_tokens", 1024)
	v.SetDefault("interpretation.timeout", "2m")

	v.SetDefault("transport.listen_addr", "127.0.0.1:8765")
	v.SetDefault("transport.url", "ws://127.0.0.1:8765/ws")

	v.SetDefault("recorder.enabled", false)
	v.SetDefault("recorder.output", "pagepilot.gif")
	v.SetDefault("recorder.max_width", 800)
	v.SetDefault("recorder.frame_delay", "800ms")
	v.SetDefault("recorder.move_frames", 8)
	v.SetDefault("recorder.no_cursor", false)
}

// BindEnv makes v read PAGEPILOT_SECTION_KEY variables for every key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// LoadDotEnv loads variables from the given .env files (default ./.env) into
// the process environment without overriding what is already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the optional config file at path (or ./config.yaml when path is
// empty) through v, then unmarshals and validates the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	BindEnv(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values the components cannot use.
func (c *Config) Validate() error {
	switch c.Logger.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	if c.Browser.Width <= 0 || c.Browser.Height <= 0 {
		return fmt.Errorf("browser.width and browser.height must be positive")
	}
	if c.Executor.StepDelay < 0 || c.Executor.ScrollDelay < 0 {
		return fmt.Errorf("executor.step_delay and executor.scroll_delay must not be negative")
	}
	switch strings.ToLower(c.Interpretation.Provider) {
	case "claude", "anthropic", "openai", "gpt", "ollama":
	default:
		return fmt.Errorf("interpretation.provider %q is not supported (claude, openai, ollama)", c.Interpretation.Provider)
	}
	if c.Interpretation.Timeout < 0 {
		return fmt.Errorf("interpretation.timeout must not be negative")
	}
	if c.Transport.ListenAddr == "" {
		return fmt.Errorf("transport.listen_addr is required")
	}
	if c.Recorder.Enabled {
		if c.Recorder.Output == "" {
			return fmt.Errorf("recorder.output is required when recording")
		}
		if c.Recorder.MaxWidth <= 0 {
			return fmt.Errorf("recorder.max_width must be positive")
		}
	}
	return nil
}
