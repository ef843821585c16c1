package config

import (
	"fmt"
	"strings"
	"time"

	"tiff-squeeze-go/internal/compressor"

	"github.com/spf13/viper"
)

// Config represents the main configuration structure
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Compression CompressionConfig `mapstructure:"compression"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxUploadMB    int64         `mapstructure:"max_upload_mb"`
	WorkDir        string        `mapstructure:"work_dir"`
}

// CompressionConfig contains the default compression parameters applied to
// requests that do not override them
type CompressionConfig struct {
	MinSizePercentage float64 `mapstructure:"min_size_percentage"`
	ScaleFactor       float64 `mapstructure:"scale_factor"`
	SharpnessFactor   float64 `mapstructure:"sharpness_factor"`
	ContrastFactor    float64 `mapstructure:"contrast_factor"`
	BlurRadius        float64 `mapstructure:"blur_radius"`
	DPI               int     `mapstructure:"dpi"`
	DecayRate         float64 `mapstructure:"decay_rate"`
	MaxIterations     int     `mapstructure:"max_iterations"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestTimeout: 120 * time.Second,
			MaxUploadMB:    256,
			WorkDir:        "", // empty means the system temp directory
		},
		Compression: CompressionConfig{
			MinSizePercentage: compressor.DefaultMinSizePercentage,
			ScaleFactor:       compressor.DefaultScaleFactor,
			SharpnessFactor:   compressor.DefaultSharpnessFactor,
			ContrastFactor:    compressor.DefaultContrastFactor,
			BlurRadius:        compressor.DefaultBlurRadius,
			DPI:               compressor.DefaultDPI,
			DecayRate:         compressor.DefaultDecayRate,
			MaxIterations:     compressor.DefaultMaxIterations,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "tiff-squeeze.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.tiff-squeeze")
		viper.AddConfigPath("/etc/tiff-squeeze")
	}

	// Enable environment variable support
	viper.SetEnvPrefix("TIFF_SQUEEZE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	// Unmarshal config
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate and normalize config
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 256
	}
	if c.Server.RequestTimeout <= 0 {
		c.Server.RequestTimeout = 120 * time.Second
	}

	// The compression defaults are checked with the same rules applied to
	// per-request parameters, against a placeholder target size.
	params := c.CompressionParams()
	params.TargetSizeKB = 1
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid compression defaults: %w", err)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// CompressionParams returns compressor parameters seeded with the
// configured defaults. The caller fills in target size and paths.
func (c *Config) CompressionParams() compressor.Params {
	return compressor.Params{
		MinSizePercentage: c.Compression.MinSizePercentage,
		ScaleFactor:       c.Compression.ScaleFactor,
		SharpnessFactor:   c.Compression.SharpnessFactor,
		ContrastFactor:    c.Compression.ContrastFactor,
		BlurRadius:        c.Compression.BlurRadius,
		DPI:               c.Compression.DPI,
		DecayRate:         c.Compression.DecayRate,
		MaxIterations:     c.Compression.MaxIterations,
	}
}

// MaxUploadBytes returns the upload size cap in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}
