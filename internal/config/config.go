// Package config provides configuration management for glimpse using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration system supports a YAML file (.glimpse.yml or
// $GLIMPSE_CONFIG_FILE), environment overrides with the GLIMPSE_ prefix
// (GLIMPSE_RENDER_WORKERS, GLIMPSE_INGRESS_PORT, ...) and validation. Every
// listener and dial target must stay on the loopback interface.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/glimpse/internal/ports"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "GLIMPSE"
	// ConfigFileEnv names an alternative config file.
	ConfigFileEnv = "GLIMPSE_CONFIG_FILE"
	// DefaultConfigName is the file searched for in the working directory.
	DefaultConfigName = ".glimpse"
)

// Config is the complete glimpse configuration.
type Config struct {
	Ingress  IngressConfig  `mapstructure:"ingress" yaml:"ingress" json:"ingress"`
	Notifier NotifierConfig `mapstructure:"notifier" yaml:"notifier" json:"notifier"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Render   RenderConfig   `mapstructure:"render" yaml:"render" json:"render"`
	Preamble PreambleConfig `mapstructure:"preamble" yaml:"preamble" json:"preamble"`
	Log      LogConfig      `mapstructure:"log" yaml:"log" json:"log"`
}

// IngressConfig configures the document-update listener.
type IngressConfig struct {
	Host         string `mapstructure:"host" yaml:"host" json:"host"`
	Port         int    `mapstructure:"port" yaml:"port" json:"port"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes" yaml:"max_body_bytes" json:"max_body_bytes"`
}

// NotifierConfig is where the editor listens for line clicks.
type NotifierConfig struct {
	Host string `mapstructure:"host" yaml:"host" json:"host"`
	Port int    `mapstructure:"port" yaml:"port" json:"port"`
}

// ServerConfig configures the frontend bridge.
type ServerConfig struct {
	Enabled        bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Host           string   `mapstructure:"host" yaml:"host" json:"host"`
	Port           int      `mapstructure:"port" yaml:"port" json:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
}

// RenderConfig configures the LaTeX to SVG pipeline.
type RenderConfig struct {
	// Workers bounds concurrent toolchain runs. 0 means GOMAXPROCS.
	Workers int `mapstructure:"workers" yaml:"workers" json:"workers"`
	// Timeout bounds each toolchain invocation. 0 means unbounded.
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	LatexCommand   string        `mapstructure:"latex_command" yaml:"latex_command" json:"latex_command"`
	DvisvgmCommand string        `mapstructure:"dvisvgm_command" yaml:"dvisvgm_command" json:"dvisvgm_command"`
	Zoom           float64       `mapstructure:"zoom" yaml:"zoom" json:"zoom"`
	// CacheSize is the number of rendered SVGs kept in memory. 0 disables.
	CacheSize int `mapstructure:"cache_size" yaml:"cache_size" json:"cache_size"`
}

// PreambleConfig locates and watches the user preamble.
type PreambleConfig struct {
	// ConfigDir overrides the platform config directory lookup.
	ConfigDir string        `mapstructure:"config_dir" yaml:"config_dir" json:"config_dir"`
	Watch     bool          `mapstructure:"watch" yaml:"watch" json:"watch"`
	Debounce  time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
}

// LogConfig configures the diagnostic logger.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Ingress: IngressConfig{
			Host:         ports.LoopbackHost,
			Port:         ports.IngressPort,
			MaxBodyBytes: 16 << 20,
		},
		Notifier: NotifierConfig{
			Host: ports.LoopbackHost,
			Port: ports.NotifierPort,
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    ports.LoopbackHost,
			Port:    ports.FrontendPort,
			AllowedOrigins: []string{
				"tauri://localhost",
				"http://tauri.localhost",
			},
		},
		Render: RenderConfig{
			LatexCommand:   "latex",
			DvisvgmCommand: "dvisvgm",
			Zoom:           1.1,
			CacheSize:      256,
		},
		Preamble: PreambleConfig{
			Watch:    true,
			Debounce: 200 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers Default() with viper so unset keys resolve and
// AutomaticEnv can see every key.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("ingress.host", d.Ingress.Host)
	v.SetDefault("ingress.port", d.Ingress.Port)
	v.SetDefault("ingress.max_body_bytes", d.Ingress.MaxBodyBytes)
	v.SetDefault("notifier.host", d.Notifier.Host)
	v.SetDefault("notifier.port", d.Notifier.Port)
	v.SetDefault("server.enabled", d.Server.Enabled)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("render.workers", d.Render.Workers)
	v.SetDefault("render.timeout", d.Render.Timeout)
	v.SetDefault("render.latex_command", d.Render.LatexCommand)
	v.SetDefault("render.dvisvgm_command", d.Render.DvisvgmCommand)
	v.SetDefault("render.zoom", d.Render.Zoom)
	v.SetDefault("render.cache_size", d.Render.CacheSize)
	v.SetDefault("preamble.config_dir", d.Preamble.ConfigDir)
	v.SetDefault("preamble.watch", d.Preamble.Watch)
	v.SetDefault("preamble.debounce", d.Preamble.Debounce)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Handle allowed origins set via env as a comma separated string
	if v.IsSet("server.allowed_origins") && len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// IngressAddr returns the ingress listen address.
func (c *Config) IngressAddr() string {
	return ports.Addr(c.Ingress.Host, c.Ingress.Port)
}

// NotifierAddr returns the editor listener address.
func (c *Config) NotifierAddr() string {
	return ports.Addr(c.Notifier.Host, c.Notifier.Port)
}

// ServerAddr returns the frontend bridge listen address.
func (c *Config) ServerAddr() string {
	return ports.Addr(c.Server.Host, c.Server.Port)
}

// Validate reports the first problem ValidateConfigWithDetails finds.
func (c *Config) Validate() error {
	return validateConfig(c)
}

// Configure points v at its config file and enables GLIMPSE_ environment
// overrides. Priority for the file: cfgFile, then $GLIMPSE_CONFIG_FILE, then
// .glimpse.yml in the working directory. A missing default file is not an
// error; the returned path is empty in that case.
func Configure(v *viper.Viper, cfgFile string) (string, error) {
	explicit := true
	switch {
	case cfgFile != "":
		v.SetConfigFile(cfgFile)
	case os.Getenv(ConfigFileEnv) != "":
		v.SetConfigFile(os.Getenv(ConfigFileEnv))
	default:
		explicit = false
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(DefaultConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(envKeyReplacer())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("reading config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

func envKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}
