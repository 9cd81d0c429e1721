package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("device:\n  host: 192.168.1.20\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"device.port", cfg.Device.Port, 16021},
		{"device.timeout", cfg.Device.Timeout.Duration(), 5 * time.Second},
		{"stream.backoff", cfg.Stream.Backoff.Duration(), 5 * time.Second},
		{"stream.connect_timeout", cfg.Stream.ConnectTimeout.Duration(), 5 * time.Second},
		{"stream.max_immediate_retries", cfg.Stream.GetMaxImmediateRetries(), 1},
		{"stream.refresh_on_connect", cfg.Stream.GetRefreshOnConnect(), true},
		{"paint.port", cfg.Paint.Port, 60222},
		{"log.level", cfg.Log.Level, "info"},
		{"database.path", cfg.Database.Path, "./leafd.sqlite"},
		{"script", cfg.Script, "main.lua"},
		{"mqtt.topic_prefix", cfg.MQTT.TopicPrefix, "leafd"},
		{"healthcheck.port", cfg.Healthcheck.Port, 9090},
		{"eventbus.workers", cfg.EventBus.GetWorkers(), 4},
		{"eventbus.queue_size", cfg.EventBus.GetQueueSize(), 100},
		{"shutdown_timeout", cfg.ShutdownTimeout.Duration(), 5 * time.Second},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if cfg.Stream.NoSecondaryPanel != nil {
		t.Errorf("no_secondary_panel = %d, want unset", *cfg.Stream.NoSecondaryPanel)
	}
}

func TestParse_ExplicitValues(t *testing.T) {
	data := `
device:
  host: leaf.local
  token: abc
stream:
  backoff: 250ms
  max_immediate_retries: 0
  refresh_on_connect: false
  touch_stream: true
  touch_port: 40000
  no_secondary_panel: 65535
mqtt:
  enabled: true
  broker: tcp://broker:1883
  qos: 1
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Stream.Backoff.Duration() != 250*time.Millisecond {
		t.Errorf("backoff = %v", cfg.Stream.Backoff.Duration())
	}
	if cfg.Stream.GetMaxImmediateRetries() != 0 {
		t.Errorf("max_immediate_retries = %d, want 0", cfg.Stream.GetMaxImmediateRetries())
	}
	if cfg.Stream.GetRefreshOnConnect() {
		t.Error("refresh_on_connect should be false")
	}
	if cfg.Stream.NoSecondaryPanel == nil || *cfg.Stream.NoSecondaryPanel != 65535 {
		t.Errorf("no_secondary_panel = %v", cfg.Stream.NoSecondaryPanel)
	}
	if !cfg.Stream.TouchStream || cfg.Stream.TouchPort != 40000 {
		t.Errorf("touch stream = %v port %d", cfg.Stream.TouchStream, cfg.Stream.TouchPort)
	}
	if cfg.MQTT.QoS != 1 || cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing_host", "log:\n  level: debug\n"},
		{"negative_retries", "device:\n  host: a\nstream:\n  max_immediate_retries: -1\n"},
		{"mqtt_without_broker", "device:\n  host: a\nmqtt:\n  enabled: true\n"},
		{"bad_qos", "device:\n  host: a\nmqtt:\n  qos: 3\n"},
		{"bad_duration", "device:\n  host: a\nstream:\n  backoff: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := Parse([]byte("device:\n  discover: true\n")); err != nil {
		t.Errorf("discover without host: %v", err)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LEAFD_TEST_TOKEN", "secret")

	tests := []struct {
		input string
		want  string
	}{
		{"${LEAFD_TEST_TOKEN}", "secret"},
		{"${LEAFD_TEST_TOKEN:fallback}", "secret"},
		{"${LEAFD_TEST_UNSET:fallback}", "fallback"},
		{"${LEAFD_TEST_UNSET}", ""},
		{"token: ${LEAFD_TEST_TOKEN}", "token: secret"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.input); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("LEAFD_TEST_HOST", "10.0.0.5")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("device:\n  host: ${LEAFD_TEST_HOST}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Host != "10.0.0.5" {
		t.Errorf("host = %q, want 10.0.0.5", cfg.Device.Host)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
