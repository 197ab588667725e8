package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration read from the environment.
type Config struct {
	Environment      string `envconfig:"ENVIRONMENT" default:"test"`
	Port             string `envconfig:"PORT" default:"8080"`
	APIKey           string `envconfig:"API_KEY"`
	ResumeDir        string `envconfig:"RESUME_DIR" default:".dataferry/resume"`
	UploadConfigPath string `envconfig:"UPLOAD_CONFIG_PATH" default:"upload-config.yaml"`

	S3 struct {
		Bucket         string `envconfig:"S3_BUCKET"`
		Region         string `envconfig:"S3_REGION" default:"us-east-1"`
		Endpoint       string `envconfig:"S3_ENDPOINT"`
		EndpointBackup string `envconfig:"S3_ENDPOINT_BACKUP"`
		AccessKey      string `envconfig:"AWS_ACCESS_KEY_ID"`
		SecretKey      string `envconfig:"AWS_SECRET_ACCESS_KEY"`
		SessionToken   string `envconfig:"AWS_SESSION_TOKEN"`
	}

	Tracker struct {
		URL   string `envconfig:"TRACKER_URL"`
		Token string `envconfig:"TRACKER_TOKEN"`
	}
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Environment is one deployment target: bucket, key root and tracking service.
type Environment struct {
	ServerURL      string `yaml:"server_url"`
	Bucket         string `yaml:"bucket"`
	UploadTarget   string `yaml:"upload_target"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	EndpointBackup string `yaml:"endpoint_backup"`
}

type UploadOptions struct {
	MultipartThresholdMB      int64    `yaml:"multipart_threshold_mb"`
	PartSizeMB                int64    `yaml:"part_size_mb"`
	Multipart                 string   `yaml:"multipart"` // auto | force | off
	MaxWorkers                int      `yaml:"max_workers"`
	MaxAttempts               int      `yaml:"max_attempts"`
	RetryBackoffSeconds       float64  `yaml:"retry_backoff_seconds"`
	FileFilters               []string `yaml:"file_filters"`
	VerifyMethod              string   `yaml:"verify_method"`
	SkipExisting              bool     `yaml:"skip_existing"`
	TolerateIntegrityMismatch *bool    `yaml:"tolerate_integrity_mismatch"`
	ProgressIntervalSeconds   int      `yaml:"progress_interval_seconds"`
}

// ThresholdBytes returns the single-shot limit in bytes.
func (o *UploadOptions) ThresholdBytes() int64 {
	return o.MultipartThresholdMB * 1024 * 1024
}

func (o *UploadOptions) PartSizeBytes() int64 {
	return o.PartSizeMB * 1024 * 1024
}

func (o *UploadOptions) RetryBackoff() time.Duration {
	return time.Duration(o.RetryBackoffSeconds * float64(time.Second))
}

func (o *UploadOptions) ProgressInterval() time.Duration {
	return time.Duration(o.ProgressIntervalSeconds) * time.Second
}

func (o *UploadOptions) Tolerate() bool {
	return o.TolerateIntegrityMismatch == nil || *o.TolerateIntegrityMismatch
}

type PreviewOptions struct {
	Enabled   bool   `yaml:"enabled"`
	Folder    string `yaml:"folder"`
	Sizes     []int  `yaml:"sizes"`
	Quality   int    `yaml:"quality"`
	ConvertTo string `yaml:"convert_to"`
}

// UploadConfig is the upload policy file.
type UploadConfig struct {
	Environments map[string]Environment `yaml:"environments"`
	Upload       UploadOptions          `yaml:"upload"`
	Previews     PreviewOptions         `yaml:"previews"`
}

// LoadUploadConfig reads the policy file at path. A missing file yields the
// defaults; fields left out of the file keep their default values.
func LoadUploadConfig(path string) (*UploadConfig, error) {
	cfg := DefaultUploadConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read upload config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse upload config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid upload config: %w", err)
	}

	return cfg, nil
}

func (uc *UploadConfig) validate() error {
	u := uc.Upload
	switch {
	case u.MultipartThresholdMB < 0:
		return fmt.Errorf("multipart_threshold_mb must not be negative")
	case u.PartSizeMB <= 0:
		return fmt.Errorf("part_size_mb must be positive")
	case u.MaxWorkers <= 0:
		return fmt.Errorf("max_workers must be positive")
	case u.MaxAttempts <= 0:
		return fmt.Errorf("max_attempts must be positive")
	case u.RetryBackoffSeconds < 0:
		return fmt.Errorf("retry_backoff_seconds must not be negative")
	case u.ProgressIntervalSeconds <= 0:
		return fmt.Errorf("progress_interval_seconds must be positive")
	}
	switch u.Multipart {
	case "auto", "force", "off":
	default:
		return fmt.Errorf("multipart must be auto, force or off, got %q", u.Multipart)
	}
	return nil
}

// Environment returns the named environment, falling back to "test".
func (uc *UploadConfig) Environment(name string) (Environment, bool) {
	if env, ok := uc.Environments[name]; ok {
		return env, true
	}
	env, ok := uc.Environments["test"]
	return env, ok
}

func DefaultUploadConfig() *UploadConfig {
	tolerate := true
	return &UploadConfig{
		Environments: map[string]Environment{
			"test": {UploadTarget: "data"},
		},
		Upload: UploadOptions{
			MultipartThresholdMB:      5,
			PartSizeMB:                5,
			Multipart:                 "auto",
			MaxWorkers:                4,
			MaxAttempts:               5,
			RetryBackoffSeconds:       2,
			FileFilters:               []string{"*.*"},
			VerifyMethod:              "size",
			TolerateIntegrityMismatch: &tolerate,
			ProgressIntervalSeconds:   5,
		},
		Previews: PreviewOptions{
			Folder:    ".previews",
			Sizes:     []int{256},
			Quality:   85,
			ConvertTo: "jpeg",
		},
	}
}

// Target merges the selected environment with explicit environment variables,
// which take precedence.
func (c *Config) Target(uc *UploadConfig) Environment {
	env, _ := uc.Environment(c.Environment)
	if c.S3.Bucket != "" {
		env.Bucket = c.S3.Bucket
	}
	if c.S3.Endpoint != "" {
		env.Endpoint = c.S3.Endpoint
	}
	if c.S3.EndpointBackup != "" {
		env.EndpointBackup = c.S3.EndpointBackup
	}
	if env.Region == "" {
		env.Region = c.S3.Region
	}
	if c.Tracker.URL != "" {
		env.ServerURL = c.Tracker.URL
	}
	return env
}

// SelectEndpoint returns primary when it accepts a TCP connection within
// timeout and backup otherwise. Empty endpoints are skipped.
func SelectEndpoint(ctx context.Context, primary, backup string, timeout time.Duration) string {
	if primary == "" {
		return backup
	}
	if backup == "" {
		return primary
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", hostPort(primary))
	if err != nil {
		return backup
	}
	conn.Close()
	return primary
}

func hostPort(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		if u.Port() != "" {
			return u.Host
		}
		if u.Scheme == "http" {
			return net.JoinHostPort(u.Hostname(), "80")
		}
		return net.JoinHostPort(u.Hostname(), "443")
	}
	if _, _, err := net.SplitHostPort(endpoint); err == nil {
		return endpoint
	}
	return net.JoinHostPort(endpoint, "443")
}
