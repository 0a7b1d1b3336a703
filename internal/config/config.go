package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
)

const (
	// Backend methods
	MethodHosted = "hosted-endpoint"
	MethodLocal  = "local-accelerated"
	MethodRemote = "remote-GPU"

	// Default values
	DefaultLogLevel      = "info"
	DefaultLogStyle      = "console"
	DefaultMaxFileSize   = 100 * 1024 * 1024 // 100MB
	DefaultOpsAddr       = "127.0.0.1:9464"
	DefaultMaxSize       = 800
	DefaultPadding       = 10
	DefaultThreshold     = 0.5
	DefaultParallelism   = 4
	DefaultDPI           = 300
	DefaultPdftoppm      = "pdftoppm"
	DefaultLocalCommand  = "mlx_vlm.generate"
	DefaultBackendMethod = MethodHosted
	DefaultTimeout       = 5 * time.Minute

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "VESSEL"
)

// Config holds all configuration for vessel-parse
type Config struct {
	// Application configuration
	Version    string
	ServerName string
	LogLevel   string
	LogStyle   string // "console" or "json"

	// Document handling
	MaxFileSize int64 // Maximum document size in bytes
	ScratchDir  string
	DebugDir    string

	// Ops HTTP server
	OpsAddr string

	Detection  DetectionConfig
	Rasterizer RasterizerConfig
	Backend    BackendConfig
}

// DetectionConfig configures the table detector client.
type DetectionConfig struct {
	Endpoint         string
	Model            string
	MaxSize          int
	Padding          int
	TableThreshold   float64
	RotatedThreshold float64
	Parallelism      int
	Timeout          time.Duration
}

// Thresholds returns the per-label score thresholds.
func (d DetectionConfig) Thresholds() map[string]float64 {
	return map[string]float64{
		"table":         d.TableThreshold,
		"table rotated": d.RotatedThreshold,
	}
}

// RasterizerConfig configures PDF page rendering.
type RasterizerConfig struct {
	Command string
	DPI     int
}

// BackendConfig selects and configures the inference backend.
type BackendConfig struct {
	Method    string
	Endpoint  string
	Token     string
	Model     string
	ModelPath string
	Device    string
	Command   string
	Timeout   time.Duration
	CacheTTL  time.Duration // zero disables caching
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Version:     "1.0.0",
		ServerName:  "vessel-parse",
		LogLevel:    DefaultLogLevel,
		LogStyle:    DefaultLogStyle,
		MaxFileSize: DefaultMaxFileSize,
		ScratchDir:  os.TempDir(),
		OpsAddr:     DefaultOpsAddr,
		Detection: DetectionConfig{
			MaxSize:          DefaultMaxSize,
			Padding:          DefaultPadding,
			TableThreshold:   DefaultThreshold,
			RotatedThreshold: DefaultThreshold,
			Parallelism:      DefaultParallelism,
			Timeout:          DefaultTimeout,
		},
		Rasterizer: RasterizerConfig{
			Command: DefaultPdftoppm,
			DPI:     DefaultDPI,
		},
		Backend: BackendConfig{
			Method:  DefaultBackendMethod,
			Command: DefaultLocalCommand,
			Timeout: DefaultTimeout,
		},
	}
}

// binding ties a viper key to its command line flag.
type binding struct {
	key  string
	flag string
}

var bindings = []binding{
	{"log.level", "log-level"},
	{"log.style", "log-style"},
	{"max_file_size", "max-file-size"},
	{"scratch_dir", "scratch-dir"},
	{"debug_dir", "debug-dir"},
	{"ops_addr", "ops-addr"},
	{"detection.endpoint", "detection-endpoint"},
	{"detection.model", "detection-model"},
	{"detection.max_size", "detection-max-size"},
	{"detection.padding", "detection-padding"},
	{"detection.table_threshold", "table-threshold"},
	{"detection.rotated_threshold", "rotated-threshold"},
	{"detection.parallelism", "detection-parallelism"},
	{"detection.timeout", "detection-timeout"},
	{"rasterizer.command", "pdftoppm"},
	{"rasterizer.dpi", "dpi"},
	{"backend.method", "backend-method"},
	{"backend.endpoint", "backend-endpoint"},
	{"backend.token", "backend-token"},
	{"backend.model", "backend-model"},
	{"backend.model_path", "backend-model-path"},
	{"backend.device", "backend-device"},
	{"backend.command", "backend-command"},
	{"backend.timeout", "backend-timeout"},
	{"backend.cache_ttl", "backend-cache-ttl"},
}

// RegisterFlags defines all configuration flags on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	cfg := DefaultConfig()

	fs.String("config", "", "Optional configuration file (yaml, json or toml)")
	fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("log-style", cfg.LogStyle, "Log output style (console, json)")
	fs.Int64("max-file-size", cfg.MaxFileSize, "Maximum document size in bytes")
	fs.String("scratch-dir", cfg.ScratchDir, "Directory for per-request scratch storage")
	fs.String("debug-dir", "", "Directory receiving copies of intermediate artifacts")
	fs.String("ops-addr", cfg.OpsAddr, "Address of the ops HTTP server (healthz, metrics)")

	fs.String("detection-endpoint", "", "Table detector inference server URL")
	fs.String("detection-model", "", "Table detector model name")
	fs.Int("detection-max-size", cfg.Detection.MaxSize, "Longest side of the image sent to the detector")
	fs.Int("detection-padding", cfg.Detection.Padding, "Pixels added around each detected table")
	fs.Float64("table-threshold", cfg.Detection.TableThreshold, "Minimum score for 'table' detections")
	fs.Float64("rotated-threshold", cfg.Detection.RotatedThreshold, "Minimum score for 'table rotated' detections")
	fs.Int("detection-parallelism", cfg.Detection.Parallelism, "Pages detected concurrently")
	fs.Duration("detection-timeout", cfg.Detection.Timeout, "Detector request timeout")

	fs.String("pdftoppm", cfg.Rasterizer.Command, "Path to the pdftoppm binary")
	fs.Int("dpi", cfg.Rasterizer.DPI, "Rasterization resolution")

	fs.String("backend-method", cfg.Backend.Method, "Inference backend: hosted-endpoint, local-accelerated, remote-GPU")
	fs.String("backend-endpoint", "", "Backend URL (hosted-endpoint, remote-GPU)")
	fs.String("backend-token", "", "Backend API token (hosted-endpoint)")
	fs.String("backend-model", "", "Backend model name")
	fs.String("backend-model-path", "", "Local model path (local-accelerated)")
	fs.String("backend-device", "", "Local device (local-accelerated)")
	fs.String("backend-command", cfg.Backend.Command, "Local inference command (local-accelerated)")
	fs.Duration("backend-timeout", cfg.Backend.Timeout, "Backend request timeout")
	fs.Duration("backend-cache-ttl", 0, "Cache backend results for this long (0 disables)")
}

// Load resolves configuration from defaults, an optional config file,
// VESSEL_* environment variables and the flags in fs, in increasing priority.
func Load(fs *pflag.FlagSet) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	setupViperEnvironment(v, cfg)
	bindFlagsToViper(v, fs)

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, vesselerrors.Wrap(vesselerrors.ErrorTypeConfiguration, "read config file", err)
		}
	}

	populateConfigFromViper(v, cfg)

	if cfg.ScratchDir != "" {
		if expanded, err := filepath.Abs(cfg.ScratchDir); err == nil {
			cfg.ScratchDir = expanded
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", cfg.LogLevel)
	v.SetDefault("log.style", cfg.LogStyle)
	v.SetDefault("max_file_size", cfg.MaxFileSize)
	v.SetDefault("scratch_dir", cfg.ScratchDir)
	v.SetDefault("debug_dir", cfg.DebugDir)
	v.SetDefault("ops_addr", cfg.OpsAddr)
	v.SetDefault("detection.endpoint", cfg.Detection.Endpoint)
	v.SetDefault("detection.model", cfg.Detection.Model)
	v.SetDefault("detection.max_size", cfg.Detection.MaxSize)
	v.SetDefault("detection.padding", cfg.Detection.Padding)
	v.SetDefault("detection.table_threshold", cfg.Detection.TableThreshold)
	v.SetDefault("detection.rotated_threshold", cfg.Detection.RotatedThreshold)
	v.SetDefault("detection.parallelism", cfg.Detection.Parallelism)
	v.SetDefault("detection.timeout", cfg.Detection.Timeout)
	v.SetDefault("rasterizer.command", cfg.Rasterizer.Command)
	v.SetDefault("rasterizer.dpi", cfg.Rasterizer.DPI)
	v.SetDefault("backend.method", cfg.Backend.Method)
	v.SetDefault("backend.endpoint", cfg.Backend.Endpoint)
	v.SetDefault("backend.token", cfg.Backend.Token)
	v.SetDefault("backend.model", cfg.Backend.Model)
	v.SetDefault("backend.model_path", cfg.Backend.ModelPath)
	v.SetDefault("backend.device", cfg.Backend.Device)
	v.SetDefault("backend.command", cfg.Backend.Command)
	v.SetDefault("backend.timeout", cfg.Backend.Timeout)
	v.SetDefault("backend.cache_ttl", cfg.Backend.CacheTTL)
}

// bindFlagsToViper binds the registered flags present in fs
func bindFlagsToViper(v *viper.Viper, fs *pflag.FlagSet) {
	if fs == nil {
		return
	}
	for _, b := range bindings {
		if f := fs.Lookup(b.flag); f != nil {
			_ = v.BindPFlag(b.key, f)
		}
	}
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(v *viper.Viper, cfg *Config) {
	cfg.LogLevel = v.GetString("log.level")
	cfg.LogStyle = v.GetString("log.style")
	cfg.MaxFileSize = v.GetInt64("max_file_size")
	cfg.ScratchDir = v.GetString("scratch_dir")
	cfg.DebugDir = v.GetString("debug_dir")
	cfg.OpsAddr = v.GetString("ops_addr")

	cfg.Detection.Endpoint = v.GetString("detection.endpoint")
	cfg.Detection.Model = v.GetString("detection.model")
	cfg.Detection.MaxSize = v.GetInt("detection.max_size")
	cfg.Detection.Padding = v.GetInt("detection.padding")
	cfg.Detection.TableThreshold = v.GetFloat64("detection.table_threshold")
	cfg.Detection.RotatedThreshold = v.GetFloat64("detection.rotated_threshold")
	cfg.Detection.Parallelism = v.GetInt("detection.parallelism")
	cfg.Detection.Timeout = v.GetDuration("detection.timeout")

	cfg.Rasterizer.Command = v.GetString("rasterizer.command")
	cfg.Rasterizer.DPI = v.GetInt("rasterizer.dpi")

	cfg.Backend.Method = v.GetString("backend.method")
	cfg.Backend.Endpoint = v.GetString("backend.endpoint")
	cfg.Backend.Token = v.GetString("backend.token")
	cfg.Backend.Model = v.GetString("backend.model")
	cfg.Backend.ModelPath = v.GetString("backend.model_path")
	cfg.Backend.Device = v.GetString("backend.device")
	cfg.Backend.Command = v.GetString("backend.command")
	cfg.Backend.Timeout = v.GetDuration("backend.timeout")
	cfg.Backend.CacheTTL = v.GetDuration("backend.cache_ttl")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return vesselerrors.Configuration("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.LogStyle != "console" && c.LogStyle != "json" {
		return vesselerrors.Configuration("invalid log style: %s (must be console or json)", c.LogStyle)
	}

	if c.MaxFileSize <= 0 {
		return vesselerrors.Configuration("maximum file size must be positive")
	}

	// Check if scratch directory exists, create if it doesn't
	if c.ScratchDir != "" {
		if _, err := os.Stat(c.ScratchDir); os.IsNotExist(err) {
			if err := os.MkdirAll(c.ScratchDir, DefaultDirPerm); err != nil {
				return vesselerrors.Wrap(vesselerrors.ErrorTypeConfiguration, "cannot create scratch directory "+c.ScratchDir, err)
			}
		} else if err != nil {
			return vesselerrors.Wrap(vesselerrors.ErrorTypeConfiguration, "cannot access scratch directory "+c.ScratchDir, err)
		}
	}

	d := c.Detection
	if d.MaxSize <= 0 {
		return vesselerrors.Configuration("detection max size must be positive")
	}
	if d.Padding < 0 {
		return vesselerrors.Configuration("detection padding cannot be negative")
	}
	for label, th := range d.Thresholds() {
		if th < 0 || th > 1 {
			return vesselerrors.Configuration("threshold for %q must be within [0, 1], got %v", label, th)
		}
	}
	if d.Parallelism < 1 {
		return vesselerrors.Configuration("detection parallelism must be at least 1")
	}

	if c.Rasterizer.DPI <= 0 {
		return vesselerrors.Configuration("rasterizer dpi must be positive")
	}

	switch c.Backend.Method {
	case MethodHosted, MethodLocal, MethodRemote:
	default:
		return vesselerrors.Configuration("unknown backend method %q (must be one of: %s, %s, %s)",
			c.Backend.Method, MethodHosted, MethodLocal, MethodRemote)
	}
	if c.Backend.CacheTTL < 0 {
		return vesselerrors.Configuration("backend cache ttl cannot be negative")
	}

	return nil
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration. The backend
// token is never printed.
func (c *Config) String() string {
	return fmt.Sprintf("Config{LogLevel: %s, MaxFileSize: %d, ScratchDir: %s, Backend: %s, Detection: %s}",
		c.LogLevel, c.MaxFileSize, c.ScratchDir, c.Backend.Method, c.Detection.Endpoint)
}
