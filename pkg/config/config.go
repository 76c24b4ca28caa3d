package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drone/envsubst"
	"github.com/subosito/gotenv"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Backend  BackendCfg  `yaml:"backend"`
	Control  ControlCfg  `yaml:"control"`
	Storage  StorageCfg  `yaml:"storage"`
	Tracking TrackingCfg `yaml:"tracking"`
	Events   EventsCfg   `yaml:"events"`
	Log      LogCfg      `yaml:"log"`
}

type BackendCfg struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	HealthPath     string        `yaml:"health_path"`
	ReplayInterval time.Duration `yaml:"replay_interval"`
}

type ControlCfg struct {
	Addr string `yaml:"addr"`
}

type StorageCfg struct {
	Backend     string `yaml:"backend"` // file | redis | postgres
	DataDir     string `yaml:"data_dir"`
	RedisAddr   string `yaml:"redis_addr"`
	DatabaseURL string `yaml:"database_url"`
	SecretKey   string `yaml:"secret_key"`
}

type TrackingCfg struct {
	FeedURL      string        `yaml:"feed_url"`
	SimulateFrom string        `yaml:"simulate_from"` // "lat,lng"
	MinInterval  time.Duration `yaml:"min_interval"`
	MinDistance  float64       `yaml:"min_distance_m"`
}

type EventsCfg struct {
	KafkaBrokers []string `yaml:"kafka_brokers"`
	RabbitMQURL  string   `yaml:"rabbitmq_url"`
}

type LogCfg struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is provided.
func Default() *Config {
	return &Config{
		Backend: BackendCfg{
			URL:            "http://localhost:8080/api",
			Timeout:        15 * time.Second,
			HealthPath:     "/health",
			ReplayInterval: 30 * time.Second,
		},
		Control: ControlCfg{Addr: "127.0.0.1:7070"},
		Storage: StorageCfg{Backend: "file", DataDir: defaultDataDir()},
		Tracking: TrackingCfg{
			MinInterval: 30 * time.Second,
			MinDistance: 100,
		},
		Log: LogCfg{Level: "INFO"},
	}
}

// Load reads an optional .env file, an optional YAML file (with ${VAR:-default}
// expansion) and finally applies environment overrides.
func Load(yamlPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			replaced, err := envsubst.EvalEnv(string(data))
			if err != nil {
				return nil, fmt.Errorf("expand %s: %w", yamlPath, err)
			}
			if err := yaml.Unmarshal([]byte(replaced), cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", yamlPath, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Backend.URL = strings.TrimRight(env("BACKEND_URL", c.Backend.URL), "/")
	c.Backend.Timeout = envDuration("HTTP_TIMEOUT", c.Backend.Timeout)
	c.Backend.HealthPath = env("HEALTH_PATH", c.Backend.HealthPath)
	c.Backend.ReplayInterval = envDuration("REPLAY_INTERVAL", c.Backend.ReplayInterval)
	c.Control.Addr = env("CONTROL_ADDR", c.Control.Addr)
	c.Storage.Backend = env("STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.DataDir = env("DATA_DIR", c.Storage.DataDir)
	c.Storage.RedisAddr = env("REDIS_ADDR", c.Storage.RedisAddr)
	c.Storage.DatabaseURL = env("DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.SecretKey = env("SECRET_KEY", c.Storage.SecretKey)
	c.Tracking.FeedURL = env("POSITION_FEED_URL", c.Tracking.FeedURL)
	c.Tracking.SimulateFrom = env("SIMULATE_FROM", c.Tracking.SimulateFrom)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Events.KafkaBrokers = strings.Split(v, ",")
	}
	c.Events.RabbitMQURL = env("RABBITMQ_URL", c.Events.RabbitMQURL)
	c.Log.Level = env("LOG_LEVEL", c.Log.Level)
}

// Validate rejects configurations the agent cannot start with.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return errors.New("BACKEND_URL is required")
	}
	if c.Storage.SecretKey == "" {
		return errors.New("SECRET_KEY is required")
	}
	switch c.Storage.Backend {
	case "file":
		if c.Storage.DataDir == "" {
			return errors.New("DATA_DIR is required for the file storage backend")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis storage backend")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// SimulationStart parses Tracking.SimulateFrom ("lat,lng").
func (c *Config) SimulationStart() (lat, lng float64, ok bool) {
	parts := strings.Split(c.Tracking.SimulateFrom, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	return lat, lng, err1 == nil && err2 == nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return dir + string(os.PathSeparator) + "courier-client"
}
