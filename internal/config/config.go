package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	ModelPath    string `yaml:"model_path"`
	MetadataPath string `yaml:"metadata_path"`
	OnnxLibPath  string `yaml:"onnxruntime_lib"`
	LazyLoad     bool   `yaml:"lazy_load"`

	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	MaxFetchBytes int64         `yaml:"max_fetch_bytes"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
	MaxPixels     int64         `yaml:"max_image_pixels"`
	ThumbSize     int           `yaml:"thumb_max_size"`

	ThresholdMode    string   `yaml:"threshold_mode"`
	DefaultThreshold *float64 `yaml:"default_threshold"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func Default() *Config {
	return &Config{
		Port:          "8080",
		ModelPath:     "models/model.onnx",
		MetadataPath:  "models/model_metadata.json",
		FetchTimeout:  10 * time.Second,
		MaxFetchBytes: 20 << 20,
		MaxBodyBytes:  30 << 20,
		MaxPixels:     89478485,
		ThumbSize:     128,
		ThresholdMode: "request",
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables. A .env file in the working
// directory is loaded into the environment first when present.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	setString(&c.Port, "PORT")
	setString(&c.ModelPath, "MODEL_PATH")
	setString(&c.MetadataPath, "MODEL_METADATA_PATH")
	setString(&c.OnnxLibPath, "ONNXRUNTIME_LIB")
	setString(&c.ThresholdMode, "THRESHOLD_MODE")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")

	var errs []error
	if v, ok := lookup("MODEL_LAZY_LOAD"); ok {
		b, err := strconv.ParseBool(v)
		errs = append(errs, wrapEnv("MODEL_LAZY_LOAD", err))
		c.LazyLoad = b
	}
	if v, ok := lookup("FETCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		errs = append(errs, wrapEnv("FETCH_TIMEOUT", err))
		c.FetchTimeout = d
	}
	if v, ok := lookup("MAX_FETCH_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, wrapEnv("MAX_FETCH_BYTES", err))
		c.MaxFetchBytes = n
	}
	if v, ok := lookup("MAX_BODY_BYTES"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, wrapEnv("MAX_BODY_BYTES", err))
		c.MaxBodyBytes = n
	}
	if v, ok := lookup("MAX_IMAGE_PIXELS"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, wrapEnv("MAX_IMAGE_PIXELS", err))
		c.MaxPixels = n
	}
	if v, ok := lookup("THUMB_MAX_SIZE"); ok {
		n, err := strconv.Atoi(v)
		errs = append(errs, wrapEnv("THUMB_MAX_SIZE", err))
		c.ThumbSize = n
	}
	if v, ok := lookup("DEFAULT_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, wrapEnv("DEFAULT_THRESHOLD", err))
		c.DefaultThreshold = &f
	}
	return errors.Join(errs...)
}

func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.FetchTimeout <= 0 {
		return fmt.Errorf("fetch timeout must be positive, got %s", c.FetchTimeout)
	}
	if c.MaxPixels <= 0 {
		return fmt.Errorf("max image pixels must be positive, got %d", c.MaxPixels)
	}
	if c.ThumbSize <= 0 {
		return fmt.Errorf("thumbnail size must be positive, got %d", c.ThumbSize)
	}
	switch c.ThresholdMode {
	case "ignore", "request", "fixed":
	default:
		return fmt.Errorf("threshold mode must be ignore, request or fixed, got %q", c.ThresholdMode)
	}
	if t := c.DefaultThreshold; t != nil && (*t < 0 || *t > 1) {
		return fmt.Errorf("default threshold must be within [0, 1], got %v", *t)
	}
	if c.ThresholdMode == "fixed" && c.DefaultThreshold == nil {
		return errors.New("threshold mode fixed requires DEFAULT_THRESHOLD")
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func wrapEnv(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("invalid %s: %w", key, err)
}
