// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. SETTLE_WAIT_TIMEOUT.
const EnvPrefix = "SETTLE"

// Interface defines the contract for accessing application configuration.
// Components depend on it so tests can hand in a mock.
type Interface interface {
	Logger() LoggerConfig
	Wait() WaitConfig
	Script() ScriptConfig
	Browser() BrowserConfig

	SetWaitTimeout(d time.Duration)
	SetWaitPollInterval(d time.Duration)
	SetBrowserHeadless(bool)
	SetBrowserRemoteURL(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	WaitCfg    WaitConfig    `mapstructure:"wait" yaml:"wait"`
	ScriptCfg  ScriptConfig  `mapstructure:"script" yaml:"script"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Wait() WaitConfig       { return c.WaitCfg }
func (c *Config) Script() ScriptConfig   { return c.ScriptCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetWaitTimeout(d time.Duration)      { c.WaitCfg.Timeout = d }
func (c *Config) SetWaitPollInterval(d time.Duration) { c.WaitCfg.PollInterval = d }
func (c *Config) SetBrowserHeadless(b bool)           { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserRemoteURL(u string)        { c.BrowserCfg.RemoteURL = u }

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

// ColorConfig names the color used for each log level in console output.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

// WaitConfig is the default timing of every wait. A zero Timeout means a
// single immediate check.
type WaitConfig struct {
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// Validate enforces PollInterval > 0 and Timeout >= 0.
func (w WaitConfig) Validate() error {
	if w.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration, got %s", w.PollInterval)
	}
	if w.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", w.Timeout)
	}
	return nil
}

// ScriptConfig holds the fixed settle delays that follow animated side-effect
// scripts. The remote side has no "animation finished" signal, so these are
// plain sleeps.
type ScriptConfig struct {
	ScrollSettle       time.Duration `mapstructure:"scroll_settle" yaml:"scroll_settle"`
	SmoothScrollSettle time.Duration `mapstructure:"smooth_scroll_settle" yaml:"smooth_scroll_settle"`
	HoverSettle        time.Duration `mapstructure:"hover_settle" yaml:"hover_settle"`
	HighlightDuration  time.Duration `mapstructure:"highlight_duration" yaml:"highlight_duration"`
	HighlightColor     string        `mapstructure:"highlight_color" yaml:"highlight_color"`
}

// BrowserConfig controls the chromedp-backed session used by the CLI.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string        `mapstructure:"exec_path" yaml:"exec_path"`
	RemoteURL       string        `mapstructure:"remote_url" yaml:"remote_url"`
	Args            []string      `mapstructure:"args" yaml:"args"`
	WindowWidth     int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight    int           `mapstructure:"window_height" yaml:"window_height"`
	LaunchTimeout   time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "settle")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Wait --
	v.SetDefault("wait.timeout", "10s")
	v.SetDefault("wait.poll_interval", "500ms")

	// -- Script --
	v.SetDefault("script.scroll_settle", "500ms")
	v.SetDefault("script.smooth_scroll_settle", "300ms")
	v.SetDefault("script.hover_settle", "300ms")
	v.SetDefault("script.highlight_duration", "2s")
	v.SetDefault("script.highlight_color", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.command_timeout", "30s")
}

// BindEnv wires SETTLE_* environment variables into v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper creates a validated configuration from a viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for sane values.
func (c *Config) Validate() error {
	if err := c.WaitCfg.Validate(); err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	s := c.ScriptCfg
	if s.ScrollSettle < 0 || s.SmoothScrollSettle < 0 || s.HoverSettle < 0 || s.HighlightDuration < 0 {
		return fmt.Errorf("script: settle delays must not be negative")
	}
	if c.BrowserCfg.WindowWidth < 0 || c.BrowserCfg.WindowHeight < 0 {
		return fmt.Errorf("browser: window size must not be negative")
	}
	return nil
}
