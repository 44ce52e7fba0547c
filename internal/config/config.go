package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the sentinel service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Cache      CacheConfig      `yaml:"cache"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Detection  DetectionConfig  `yaml:"detection"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StorageConfig configures the SQLite database.
type StorageConfig struct {
	Path        string `yaml:"path"`
	BusyRetries int    `yaml:"busyRetries"`
}

// ClassifierConfig configures access to the external classification oracle.
type ClassifierConfig struct {
	BaseURL         string        `yaml:"baseURL"`
	CategoryPath    string        `yaml:"categoryPath"`
	SentimentPath   string        `yaml:"sentimentPath"`
	Timeout         time.Duration `yaml:"timeout"`
	DefaultCategory string        `yaml:"defaultCategory"`
}

// CacheConfig configures the optional Valkey classification cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
	IOTimeout   time.Duration `yaml:"ioTimeout"`
	TTL         time.Duration `yaml:"ttl"`
}

// NotifierConfig configures the chat delivery channel.
type NotifierConfig struct {
	Enabled        bool          `yaml:"enabled"`
	WebhookURL     string        `yaml:"webhookURL"`
	DefaultTarget  string        `yaml:"defaultTarget"`
	Timeout        time.Duration `yaml:"timeout"`
	RatePerSecond  float64       `yaml:"ratePerSecond"`
	Burst          int           `yaml:"burst"`
	MinSeverity    string        `yaml:"minSeverity"`
	ReportChannel  string        `yaml:"reportChannel"`
	DispatchWindow time.Duration `yaml:"dispatchWindow"`
}

// DetectionConfig groups per-variant thresholds and trailing-window sizes.
// Components receive this at construction time so tests can override
// thresholds without mutating shared state.
type DetectionConfig struct {
	Repetition    RepetitionConfig    `yaml:"repetition"`
	Concentration ConcentrationConfig `yaml:"concentration"`
	Sentiment     SentimentConfig     `yaml:"sentiment"`
}

// RepetitionConfig tunes the repeated-question detector.
type RepetitionConfig struct {
	MinOccurrences     int `yaml:"minOccurrences"`     // below this the risk is none (default 5)
	HighOccurrences    int `yaml:"highOccurrences"`    // default 10
	CriticalOccurrence int `yaml:"criticalOccurrence"` // default 20
	HighActors         int `yaml:"highActors"`         // default 5
	CriticalActors     int `yaml:"criticalActors"`     // default 10
	WindowDays         int `yaml:"windowDays"`         // default 30
}

// ConcentrationConfig tunes the answer-concentration detector.
type ConcentrationConfig struct {
	MinResponses      int     `yaml:"minResponses"`      // default 5
	MediumRatio       float64 `yaml:"mediumRatio"`       // default 0.6
	HighRatio         float64 `yaml:"highRatio"`         // default 0.8
	MediumDays        int     `yaml:"mediumDays"`        // default 7
	HighDays          int     `yaml:"highDays"`          // default 14
	ExclusiveCritDays int     `yaml:"exclusiveCritDays"` // default 30
	WindowDays        int     `yaml:"windowDays"`        // default 30
}

// SentimentConfig tunes the sentiment-drift detector.
type SentimentConfig struct {
	MinDays          int     `yaml:"minDays"`          // minimum daily samples before scoring (default 3)
	MediumDrop       float64 `yaml:"mediumDrop"`       // default 0.2
	HighDrop         float64 `yaml:"highDrop"`         // default 0.3
	CriticalDrop     float64 `yaml:"criticalDrop"`     // default 0.4
	HighDropDays     int     `yaml:"highDropDays"`     // default 2
	CriticalDropDays int     `yaml:"criticalDropDays"` // default 3
	MediumFloor      float64 `yaml:"mediumFloor"`      // default -0.2
	HighFloor        float64 `yaml:"highFloor"`        // default -0.3
	CriticalFloor    float64 `yaml:"criticalFloor"`    // default -0.5
	MediumFloorDays  int     `yaml:"mediumFloorDays"`  // default 3
	HighFloorDays    int     `yaml:"highFloorDays"`    // default 5
	CriticalFloorDay int     `yaml:"criticalFloorDay"` // default 7
	WindowDays       int     `yaml:"windowDays"`       // default 14
	BaselineDays     int     `yaml:"baselineDays"`     // default 30
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG")
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// Default returns the documented default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Path:        "sentinel.db",
			BusyRetries: 3,
		},
		Classifier: ClassifierConfig{
			CategoryPath:    "/api/v1/classify/category",
			SentimentPath:   "/api/v1/classify/sentiment",
			Timeout:         3 * time.Second,
			DefaultCategory: "other",
		},
		Cache: CacheConfig{
			Enabled:     false,
			DialTimeout: 2 * time.Second,
			IOTimeout:   500 * time.Millisecond,
			TTL:         time.Hour,
		},
		Notifier: NotifierConfig{
			Enabled:        false,
			Timeout:        5 * time.Second,
			RatePerSecond:  1,
			Burst:          3,
			MinSeverity:    "high",
			DispatchWindow: 15 * time.Second,
		},
		Detection: DefaultDetection(),
		Logging:   LoggingConfig{Level: "info", JSON: false},
	}
}

// DefaultDetection returns the documented detection thresholds.
func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		Repetition: RepetitionConfig{
			MinOccurrences:     5,
			HighOccurrences:    10,
			CriticalOccurrence: 20,
			HighActors:         5,
			CriticalActors:     10,
			WindowDays:         30,
		},
		Concentration: ConcentrationConfig{
			MinResponses:      5,
			MediumRatio:       0.6,
			HighRatio:         0.8,
			MediumDays:        7,
			HighDays:          14,
			ExclusiveCritDays: 30,
			WindowDays:        30,
		},
		Sentiment: SentimentConfig{
			MinDays:          3,
			MediumDrop:       0.2,
			HighDrop:         0.3,
			CriticalDrop:     0.4,
			HighDropDays:     2,
			CriticalDropDays: 3,
			MediumFloor:      -0.2,
			HighFloor:        -0.3,
			CriticalFloor:    -0.5,
			MediumFloorDays:  3,
			HighFloorDays:    5,
			CriticalFloorDay: 7,
			WindowDays:       14,
			BaselineDays:     30,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTINEL_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SENTINEL_CLASSIFIER_URL"); v != "" {
		cfg.Classifier.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_CLASSIFIER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Classifier.Timeout = d
		}
	}
	if v := os.Getenv("SENTINEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Enabled = true
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTINEL_NOTIFIER_ENABLED"); v != "" {
		cfg.Notifier.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SENTINEL_NOTIFIER_WEBHOOK_URL"); v != "" {
		cfg.Notifier.WebhookURL = v
	}
	if v := os.Getenv("SENTINEL_NOTIFIER_TARGET"); v != "" {
		cfg.Notifier.DefaultTarget = v
	}
	if v := os.Getenv("SENTINEL_NOTIFIER_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil && rate > 0 {
			cfg.Notifier.RatePerSecond = rate
		}
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
