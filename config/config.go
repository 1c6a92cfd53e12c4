package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Quantflow QuantflowConfig `yaml:"quantflow"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Provider  ProviderConfig  `yaml:"provider"`
	Research  ResearchConfig  `yaml:"research"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type QuantflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type PipelineConfig struct {
	DataRoot      string        `yaml:"data_root"`
	Datalist      string        `yaml:"datalist"`
	Pacing        time.Duration `yaml:"pacing"`
	RefetchPacing time.Duration `yaml:"refetch_pacing"`
}

type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier int           `yaml:"backoff_multiplier"`
}

type ResearchConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	MembershipTable string `yaml:"membership_table"`
	NamesTable      string `yaml:"names_table"`
	FactorsTable    string `yaml:"factors_table"`
}

type StorageConfig struct {
	Compression string   `yaml:"compression"`
	S3          S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string                 `yaml:"level"`
	Format        string                 `yaml:"format"`
	Output        string                 `yaml:"output"`
	MaxAge        int                    `yaml:"max_age"`
	Fields        map[string]interface{} `yaml:"fields"`
	DashboardName string                 `yaml:"dashboard_name"`
}

var configEnvPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, "config/config.yml", configEnvPaths)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Pipeline: PipelineConfig{
			Pacing:        12 * time.Second,
			RefetchPacing: time.Second,
		},
		Provider: ProviderConfig{
			BaseURL: "https://www.alphavantage.co/query",
			Timeout: 60 * time.Second,
			Retry: RetryConfig{
				MaxAttempts:       3,
				BaseDelay:         2 * time.Second,
				MaxDelay:          30 * time.Second,
				BackoffMultiplier: 2,
			},
		},
		Research: ResearchConfig{
			Port:            1433,
			MembershipTable: "crsp_a_indexes.dsp500list_v2",
			NamesTable:      "crsp.msenames",
			FactorsTable:    "ff_all.factors_daily",
		},
		Storage: StorageConfig{Compression: "snappy"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Resolve the datalist path relative to the config file location.
	if config.Pipeline.Datalist != "" && !filepath.IsAbs(config.Pipeline.Datalist) {
		config.Pipeline.Datalist = filepath.Join(filepath.Dir(path), config.Pipeline.Datalist)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if v := os.Getenv("DATA_ROOT"); v != "" {
		config.Pipeline.DataRoot = strings.TrimSpace(v)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Quantflow.Name == "" {
		return fmt.Errorf("quantflow.name is required")
	}

	if cfg.Quantflow.Version == "" {
		return fmt.Errorf("quantflow.version is required")
	}

	if cfg.Pipeline.DataRoot == "" {
		return fmt.Errorf("pipeline.data_root is required")
	}
	if cfg.Pipeline.Pacing <= 0 {
		return fmt.Errorf("pipeline.pacing must be greater than 0")
	}
	if cfg.Pipeline.RefetchPacing <= 0 {
		return fmt.Errorf("pipeline.refetch_pacing must be greater than 0")
	}

	if cfg.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if cfg.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be greater than 0")
	}
	if cfg.Provider.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("provider.retry.max_attempts must be greater than 0")
	}
	if cfg.Provider.Retry.BaseDelay <= 0 || cfg.Provider.Retry.MaxDelay < cfg.Provider.Retry.BaseDelay {
		return fmt.Errorf("provider.retry delays must satisfy 0 < base_delay <= max_delay")
	}

	switch cfg.Storage.Compression {
	case "snappy", "gzip", "uncompressed":
	default:
		return fmt.Errorf("storage.compression '%s' is invalid", cfg.Storage.Compression)
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		// Production-like deployments must not fall back to the default
		// credential chain for the mirror bucket.
		if IsProductionLike(AppEnvironment()) {
			if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
				return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
			}
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
