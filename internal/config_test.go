package internal

import (
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/linkgraph/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenMode(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}

	cfg.Token = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if !cfg.Ingest.CreateLinkTargets {
		t.Error("link targets should be created by default")
	}
}

func TestIngestConfig_Debounce(t *testing.T) {
	cases := map[string]struct {
		d       time.Duration
		wantErr bool
	}{
		"zero uses default": {0, false},
		"two seconds":       {2 * time.Second, false},
		"too short":         {time.Millisecond, true},
		"too long":          {2 * time.Hour, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := IngestConfig{SnapshotDebounce: tc.d}
			err := cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestFullConfig_SectionErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}

	cfg = NewDefaultConfig()
	cfg.Source.Path = ""
	err := cfg.Validate()
	if err == nil || !strings.HasPrefix(err.Error(), "source:") {
		t.Errorf("err = %v", err)
	}
}

func TestConfig_DecodeYAML(t *testing.T) {
	t.Setenv("LINKGRAPH_TOKEN", "s3cret")
	data := []byte(`
app:
  log_level: debug
  http:
    port: 9090
source:
  path: /srv/pages
ingest:
  create_link_targets: false
  snapshot_debounce: 5s
auth:
  mode: token
  token: ${LINKGRAPH_TOKEN}
`)
	cfg := NewDefaultConfig()
	if err := pkgconfig.Decode(data, cfg); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.App.LogLevel.String() != "DEBUG" {
		t.Errorf("app = %+v", cfg.App)
	}
	if cfg.Source.Path != "/srv/pages" || cfg.SQLite.Path != "./linkgraph.db" {
		t.Errorf("paths = %q %q", cfg.Source.Path, cfg.SQLite.Path)
	}
	if cfg.Ingest.CreateLinkTargets || !cfg.Ingest.Watch || cfg.Ingest.SnapshotDebounce != 5*time.Second {
		t.Errorf("ingest = %+v", cfg.Ingest)
	}
	if cfg.Auth.Token != "s3cret" {
		t.Errorf("token = %q", cfg.Auth.Token)
	}
}

func TestMetricsConfig(t *testing.T) {
	cases := map[string]struct {
		cfg     MetricsConfig
		wantErr bool
	}{
		"prometheus":         {MetricsConfig{Exporter: "prometheus", Path: "/metrics"}, false},
		"prometheus no path": {MetricsConfig{Exporter: "prometheus"}, true},
		"none":               {MetricsConfig{Exporter: "none"}, false},
		"unknown":            {MetricsConfig{Exporter: "statsd", Path: "/m"}, true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestHTTPConfig_NegativeWriteRate(t *testing.T) {
	cfg := HTTPConfig{Port: 8080, WriteRate: -1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative write rate should fail")
	}
}
