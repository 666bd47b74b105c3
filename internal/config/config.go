package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Transport TransportConfig `yaml:"transport"`
	DB        DBConfig        `yaml:"db"`
	Blob      BlobConfig      `yaml:"blob"`
	Models    ModelsConfig    `yaml:"models"`
	Inference InferenceConfig `yaml:"inference"`
	Session   SessionConfig   `yaml:"session"`
	Upload    UploadConfig    `yaml:"upload"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

type TransportConfig struct {
	// Mode is "http" or "stdio".
	Mode string `yaml:"mode"`
}

// Database drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type DBConfig struct {
	Driver       string        `yaml:"driver"`
	Path         string        `yaml:"path"`
	RedisAddr    string        `yaml:"redis_addr"`
	RedisMaxIdle int           `yaml:"redis_max_idle"`
	RedisKeyTTL  time.Duration `yaml:"redis_key_ttl"`
}

type BlobConfig struct {
	Root string `yaml:"root"`
}

type ModelsConfig struct {
	DetectorPath        string   `yaml:"detector_path"`
	ClassifierPath      string   `yaml:"classifier_path"`
	ClassLabels         []string `yaml:"class_labels"`
	DetectorInputSize   int      `yaml:"detector_input_size"`
	ClassifierInputSize int      `yaml:"classifier_input_size"`
	NumClasses          int      `yaml:"num_classes"`
	Confidence          float64  `yaml:"confidence"`
	IoU                 float64  `yaml:"iou"`
	MaxDetections       int      `yaml:"max_detections"`
}

type InferenceConfig struct {
	Workers  int   `yaml:"workers"`
	Capacity int64 `yaml:"capacity"`
}

type SessionConfig struct {
	TTL                time.Duration `yaml:"ttl"`
	SweepInterval      time.Duration `yaml:"sweep_interval"`
	BestEffortRecovery bool          `yaml:"best_effort_recovery"`
}

type UploadConfig struct {
	MaxFileSize       int64    `yaml:"max_file_size"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Transport: TransportConfig{
			Mode: "http",
		},
		DB: DBConfig{
			Driver:       DriverSQLite,
			Path:         "dugongwatch.db",
			RedisAddr:    "localhost:6379",
			RedisMaxIdle: 10,
			RedisKeyTTL:  24 * time.Hour,
		},
		Blob: BlobConfig{
			Root: "data",
		},
		Models: ModelsConfig{
			DetectorPath:        "models/detector.onnx",
			ClassifierPath:      "models/classifier.onnx",
			ClassLabels:         []string{"feeding", "resting"},
			DetectorInputSize:   640,
			ClassifierInputSize: 224,
			NumClasses:          2,
			Confidence:          0.3,
			IoU:                 0.3,
			MaxDetections:       1000,
		},
		Session: SessionConfig{
			TTL:           900 * time.Second,
			SweepInterval: time.Minute,
		},
		Upload: UploadConfig{
			MaxFileSize:       25 << 20,
			AllowedExtensions: []string{".jpg", ".jpeg", ".png"},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional YAML file, an optional .env file
// and environment variables, in that order of increasing precedence.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("DUGONG_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	envFile := os.Getenv("DUGONG_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	// godotenv never overrides variables already set in the process.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Transport.Mode {
	case "http", "stdio":
	default:
		return fmt.Errorf("invalid transport mode %q", c.Transport.Mode)
	}
	switch c.DB.Driver {
	case DriverSQLite, DriverRedis:
	default:
		return fmt.Errorf("invalid db driver %q", c.DB.Driver)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", c.Session.TTL)
	}
	// Redis must not expire a ledger before the sweeper would.
	if c.DB.Driver == DriverRedis && c.DB.RedisKeyTTL < c.Session.TTL {
		return fmt.Errorf("db redis_key_ttl %s is shorter than session ttl %s", c.DB.RedisKeyTTL, c.Session.TTL)
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload max_file_size must be positive, got %d", c.Upload.MaxFileSize)
	}
	if len(c.Models.ClassLabels) == 0 {
		return errors.New("models class_labels must not be empty")
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString("DUGONG_SERVER_HOST", &cfg.Server.Host)
	if err := setInt("DUGONG_SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	setString("DUGONG_AUTH_TOKEN", &cfg.Server.AuthToken)
	setString("DUGONG_TRANSPORT", &cfg.Transport.Mode)

	setString("DUGONG_DB_DRIVER", &cfg.DB.Driver)
	setString("DUGONG_DB_PATH", &cfg.DB.Path)
	setString("DUGONG_REDIS_ADDR", &cfg.DB.RedisAddr)
	if err := setDuration("DUGONG_REDIS_KEY_TTL", &cfg.DB.RedisKeyTTL); err != nil {
		return err
	}

	setString("DUGONG_BLOB_ROOT", &cfg.Blob.Root)
	setString("DUGONG_DETECTOR_MODEL", &cfg.Models.DetectorPath)
	setString("DUGONG_CLASSIFIER_MODEL", &cfg.Models.ClassifierPath)
	if labels := os.Getenv("DUGONG_CLASS_LABELS"); labels != "" {
		cfg.Models.ClassLabels = splitList(labels)
	}

	if err := setInt("DUGONG_INFERENCE_WORKERS", &cfg.Inference.Workers); err != nil {
		return err
	}

	if err := setDuration("DUGONG_SESSION_TTL", &cfg.Session.TTL); err != nil {
		return err
	}
	if err := setDuration("DUGONG_SWEEP_INTERVAL", &cfg.Session.SweepInterval); err != nil {
		return err
	}
	if v := os.Getenv("DUGONG_BEST_EFFORT_RECOVERY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid DUGONG_BEST_EFFORT_RECOVERY: %w", err)
		}
		cfg.Session.BestEffortRecovery = b
	}

	if v := os.Getenv("DUGONG_UPLOAD_MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid DUGONG_UPLOAD_MAX_FILE_SIZE: %w", err)
		}
		cfg.Upload.MaxFileSize = n
	}

	setString("DUGONG_LOG_LEVEL", &cfg.Log.Level)
	setString("DUGONG_LOG_PATH", &cfg.Log.Path)
	return nil
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

// setDuration accepts Go duration strings or a bare number of seconds.
func setDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
