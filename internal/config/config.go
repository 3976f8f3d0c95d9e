package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds the application configuration
type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Vision    VisionConfig    `json:"vision"`
	Region    RegionConfig    `json:"region"`
	Transform TransformConfig `json:"transform"`
	Log       LogConfig       `json:"log"`
	Server    ServerConfig    `json:"server"`
}

// StorageConfig selects and configures the object store
type StorageConfig struct {
	Backend      string `json:"backend"` // s3, local, memory
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	Endpoint     string `json:"endpoint"`
	UsePathStyle bool   `json:"use_path_style"`
	LocalDir     string `json:"local_dir"`
	// PublicBaseURL replaces https://<bucket>.s3.amazonaws.com in result URLs
	PublicBaseURL string `json:"public_base_url"`
}

// VisionConfig selects and configures the vision backend
type VisionConfig struct {
	Backend         string  `json:"backend"` // gcv, ollama, saliency
	CredentialsFile string  `json:"credentials_file"`
	Endpoint        string  `json:"endpoint"`
	MaxObjects      int64   `json:"max_objects"`
	OllamaURL       string  `json:"ollama_url"`
	Model           string  `json:"model"`
	SendSize        int     `json:"send_size"`
	MinScore        float64 `json:"min_score"`
}

// RegionConfig holds configuration for region resolution
type RegionConfig struct {
	PaddingPx int    `json:"padding_px"`
	Strategy  string `json:"strategy"` // extremes, union
}

// TransformConfig holds configuration for the resize and crop
type TransformConfig struct {
	PreCrop      bool   `json:"pre_crop"`
	Filter       string `json:"filter"`
	JPEGQuality  int    `json:"jpeg_quality"`
	WebPQuality  int    `json:"webp_quality"`
	WebPLossless bool   `json:"webp_lossless"`
	// MaxPixels caps target and resized width*height
	MaxPixels int `json:"max_pixels"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // text, json
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr string `json:"addr"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:  "s3",
			Region:   "ap-northeast-2",
			LocalDir: "./data",
		},
		Vision: VisionConfig{
			Backend:   "gcv",
			OllamaURL: "http://localhost:11434",
			Model:     "qwen2.5vl:7b",
			SendSize:  1024,
		},
		Region: RegionConfig{
			PaddingPx: 0,
			Strategy:  "extremes",
		},
		Transform: TransformConfig{
			Filter:      "lanczos",
			JPEGQuality: 80,
			WebPQuality: 80,
			MaxPixels:   40_000_000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from environment variables. Unset variables
// leave the current value alone.
func (c *Config) ApplyEnv() error {
	setString(&c.Storage.Backend, "PRODUCTCROP_STORAGE")
	setString(&c.Storage.Bucket, "PRODUCTCROP_BUCKET")
	setString(&c.Storage.Region, "AWS_REGION")
	setString(&c.Storage.Endpoint, "PRODUCTCROP_S3_ENDPOINT")
	setString(&c.Storage.LocalDir, "PRODUCTCROP_LOCAL_DIR")
	setString(&c.Storage.PublicBaseURL, "PRODUCTCROP_PUBLIC_BASE_URL")
	setString(&c.Vision.Backend, "PRODUCTCROP_VISION")
	setString(&c.Vision.CredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")
	setString(&c.Vision.Endpoint, "PRODUCTCROP_VISION_ENDPOINT")
	setString(&c.Vision.OllamaURL, "OLLAMA_HOST")
	setString(&c.Vision.Model, "PRODUCTCROP_MODEL")
	setString(&c.Region.Strategy, "PRODUCTCROP_STRATEGY")
	setString(&c.Transform.Filter, "PRODUCTCROP_FILTER")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")
	setString(&c.Server.Addr, "PRODUCTCROP_ADDR")

	if err := setBool(&c.Storage.UsePathStyle, "PRODUCTCROP_S3_PATH_STYLE"); err != nil {
		return err
	}
	if err := setBool(&c.Transform.PreCrop, "PRODUCTCROP_PRE_CROP"); err != nil {
		return err
	}
	if err := setInt(&c.Region.PaddingPx, "PRODUCTCROP_PADDING_PX"); err != nil {
		return err
	}
	if err := setFloat(&c.Vision.MinScore, "PRODUCTCROP_MIN_SCORE"); err != nil {
		return err
	}
	if err := setInt(&c.Transform.MaxPixels, "PRODUCTCROP_MAX_PIXELS"); err != nil {
		return err
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = f
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case "s3", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local backend")
		}
	default:
		return fmt.Errorf("storage.backend must be s3, local or memory, got %q", c.Storage.Backend)
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required")
	}

	switch strings.ToLower(c.Vision.Backend) {
	case "gcv", "saliency":
	case "ollama":
		if c.Vision.OllamaURL == "" {
			return fmt.Errorf("vision.ollama_url is required for the ollama backend")
		}
	default:
		return fmt.Errorf("vision.backend must be gcv, ollama or saliency, got %q", c.Vision.Backend)
	}

	if c.Vision.MinScore < 0 || c.Vision.MinScore > 1 {
		return fmt.Errorf("vision.min_score must be between 0 and 1")
	}

	if c.Region.PaddingPx < 0 {
		return fmt.Errorf("region.padding_px must not be negative")
	}

	switch strings.ToLower(c.Region.Strategy) {
	case "", "extremes", "union":
	default:
		return fmt.Errorf("region.strategy must be extremes or union, got %q", c.Region.Strategy)
	}

	if c.Transform.JPEGQuality < 1 || c.Transform.JPEGQuality > 100 {
		return fmt.Errorf("transform.jpeg_quality must be between 1 and 100")
	}

	if c.Transform.WebPQuality < 1 || c.Transform.WebPQuality > 100 {
		return fmt.Errorf("transform.webp_quality must be between 1 and 100")
	}

	if c.Transform.MaxPixels < 0 {
		return fmt.Errorf("transform.max_pixels must not be negative")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "productcrop", "config.json")
}
