package config

import (
	"strings"
	"testing"

	"github.com/marmos91/dvuploader/pkg/journal"
	"github.com/marmos91/dvuploader/pkg/upload"
)

func TestValidate_ValidConfig(t *testing.T) {
	isolateHome(t)
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	isolateHome(t)
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidLogFormat(t *testing.T) {
	isolateHome(t)
	cfg := GetDefaultConfig()
	cfg.Logging.Format = "xml"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for invalid log format")
	}
}

func TestValidate_InvalidMetricsPort(t *testing.T) {
	isolateHome(t)
	cfg := GetDefaultConfig()
	cfg.Metrics.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_InvalidSampleRate(t *testing.T) {
	isolateHome(t)
	cfg := GetDefaultConfig()
	cfg.Telemetry.SampleRate = 1.5

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for sample rate above 1")
	}
}

func TestValidate_InvalidRepositoryURL(t *testing.T) {
	isolateHome(t)
	cfg := GetDefaultConfig()
	cfg.Repository.URL = "not a url"

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for malformed URL")
	}
}

func TestValidate_Journal(t *testing.T) {
	isolateHome(t)
	cfg := GetDefaultConfig()
	cfg.Journal.Type = journal.DatabaseTypePostgres
	cfg.Journal.Postgres = journal.PostgresConfig{}

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected postgres journal without host to fail")
	}

	cfg.Journal.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("Disabled journal should not be validated, got %v", err)
	}
}

func TestRepositoryCheck(t *testing.T) {
	tests := []struct {
		name  string
		repo  RepositoryConfig
		field string
	}{
		{"missing url", RepositoryConfig{APIToken: "t", DatasetPID: "p"}, "repository.url"},
		{"missing token", RepositoryConfig{URL: "https://x", DatasetPID: "p"}, "repository.api_token"},
		{"missing dataset", RepositoryConfig{URL: "https://x", APIToken: "t"}, "repository.dataset_pid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.repo.Check()
			if !upload.IsConfigurationError(err) {
				t.Fatalf("Expected ConfigurationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Expected field %s in %v", tt.field, err)
			}
		})
	}

	ok := RepositoryConfig{URL: "https://x", APIToken: "t", DatasetPID: "p"}
	if err := ok.Check(); err != nil {
		t.Errorf("Expected complete repository config to pass, got %v", err)
	}
}
