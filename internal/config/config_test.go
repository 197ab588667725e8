package config

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload-config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("S3_BUCKET", "datasets")
	t.Setenv("ENVIRONMENT", "stage")
	t.Setenv("TRACKER_TOKEN", "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.S3.Bucket != "datasets" {
		t.Errorf("Expected bucket datasets, got %s", cfg.S3.Bucket)
	}
	if cfg.S3.Region != "us-east-1" {
		t.Errorf("Expected default region us-east-1, got %s", cfg.S3.Region)
	}
	if cfg.Environment != "stage" {
		t.Errorf("Expected environment stage, got %s", cfg.Environment)
	}
	if cfg.Tracker.Token != "tok" {
		t.Errorf("Expected tracker token tok, got %s", cfg.Tracker.Token)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", cfg.Port)
	}
}

func TestLoadUploadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadUploadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Upload.ThresholdBytes() != 5*1024*1024 {
		t.Errorf("Expected 5 MiB threshold, got %d", cfg.Upload.ThresholdBytes())
	}
	if cfg.Upload.RetryBackoff() != 2*time.Second {
		t.Errorf("Expected 2s backoff, got %v", cfg.Upload.RetryBackoff())
	}
	if !cfg.Upload.Tolerate() {
		t.Error("Expected integrity mismatch tolerance by default")
	}
	if cfg.Upload.MaxAttempts != 5 {
		t.Errorf("Expected 5 attempts, got %d", cfg.Upload.MaxAttempts)
	}
}

func TestLoadUploadConfig_OverridesAndEnvironments(t *testing.T) {
	path := writeConfig(t, `
environments:
  production:
    bucket: prod-bucket
    upload_target: data
    server_url: http://tracker.example.com
  stage:
    bucket: test-bucket
    upload_target: data/stage
upload:
  part_size_mb: 8
  max_workers: 16
  verify_method: strict
  tolerate_integrity_mismatch: false
  file_filters: ["*.bag", "*.json"]
`)

	cfg, err := LoadUploadConfig(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Upload.PartSizeBytes() != 8*1024*1024 {
		t.Errorf("Expected 8 MiB parts, got %d", cfg.Upload.PartSizeBytes())
	}
	if cfg.Upload.MultipartThresholdMB != 5 {
		t.Errorf("Expected default threshold to survive, got %d", cfg.Upload.MultipartThresholdMB)
	}
	if cfg.Upload.Tolerate() {
		t.Error("Expected tolerance to be disabled")
	}
	if len(cfg.Upload.FileFilters) != 2 {
		t.Errorf("Expected 2 filters, got %v", cfg.Upload.FileFilters)
	}

	tests := []struct {
		name     string
		env      string
		bucket   string
		target   string
		fallback bool
	}{
		{"Known environment", "production", "prod-bucket", "data", false},
		{"Stage environment", "stage", "test-bucket", "data/stage", false},
		{"Unknown falls back to test", "qa", "", "data", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, ok := cfg.Environment(tt.env)
			if !ok {
				t.Fatalf("Expected environment %s to resolve", tt.env)
			}
			if env.Bucket != tt.bucket || env.UploadTarget != tt.target {
				t.Errorf("Expected %s/%s, got %s/%s", tt.bucket, tt.target, env.Bucket, env.UploadTarget)
			}
		})
	}
}

func TestLoadUploadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Malformed YAML", "upload: [1, 2"},
		{"Zero part size", "upload:\n  part_size_mb: 0\n"},
		{"Zero workers", "upload:\n  max_workers: 0\n"},
		{"Unknown multipart mode", "upload:\n  multipart: sometimes\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadUploadConfig(writeConfig(t, tt.body)); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestConfigTarget(t *testing.T) {
	uc := DefaultUploadConfig()
	uc.Environments["production"] = Environment{Bucket: "prod", UploadTarget: "data", Endpoint: "internal.example.com"}

	cfg := &Config{Environment: "production"}
	cfg.S3.Region = "eu-west-1"
	env := cfg.Target(uc)
	if env.Bucket != "prod" || env.Endpoint != "internal.example.com" || env.Region != "eu-west-1" {
		t.Errorf("Unexpected target %+v", env)
	}

	cfg.S3.Bucket = "override"
	cfg.S3.Endpoint = "http://localhost:9000"
	env = cfg.Target(uc)
	if env.Bucket != "override" || env.Endpoint != "http://localhost:9000" {
		t.Errorf("Expected environment variables to win, got %+v", env)
	}
}

func TestSelectEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer ln.Close()

	closed, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	unreachable := "http://" + closed.Addr().String()
	closed.Close()

	reachable := "http://" + ln.Addr().String()
	ctx := context.Background()

	tests := []struct {
		name     string
		primary  string
		backup   string
		expected string
	}{
		{"Primary reachable", reachable, "backup.example.com", reachable},
		{"Primary unreachable", unreachable, "backup.example.com", "backup.example.com"},
		{"No backup", unreachable, "", unreachable},
		{"No primary", "", "backup.example.com", "backup.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectEndpoint(ctx, tt.primary, tt.backup, time.Second)
			if got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestHostPort(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"ks3.example.com", "ks3.example.com:443"},
		{"https://ks3.example.com", "ks3.example.com:443"},
		{"http://minio.local", "minio.local:80"},
		{"http://minio.local:9000", "minio.local:9000"},
		{"minio.local:9000", "minio.local:9000"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := hostPort(tt.in); got != tt.expected {
				t.Errorf("hostPort(%s) = %s, expected %s", tt.in, got, tt.expected)
			}
		})
	}
}

func TestLoadUploadConfig_ExampleFile(t *testing.T) {
	cfg, err := LoadUploadConfig(filepath.Join("..", "..", "upload-config.example.yaml"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	env, ok := cfg.Environment("prod")
	if !ok {
		t.Fatal("Expected prod environment")
	}
	if env.Bucket != "datasets" || env.UploadTarget != "data" {
		t.Errorf("Expected datasets/data, got %s/%s", env.Bucket, env.UploadTarget)
	}
	if cfg.Upload.Multipart != "auto" {
		t.Errorf("Expected auto multipart, got %s", cfg.Upload.Multipart)
	}
	if cfg.Previews.Enabled {
		t.Error("Expected previews disabled in the example")
	}
}
