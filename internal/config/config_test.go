package config

import (
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		expected     string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_STR_1",
			defaultValue: "default",
			envValue:     "env_value",
			expected:     "env_value",
		},
		{
			name:         "returns default when environment variable is not set",
			key:          "TEST_STR_2",
			defaultValue: "default",
			envValue:     "",
			expected:     "default",
		},
		{
			name:         "handles empty default value",
			key:          "TEST_STR_3",
			defaultValue: "",
			envValue:     "env_value",
			expected:     "env_value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}

			result := getenv(tt.key, tt.defaultValue)
			if result != tt.expected {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, result, tt.expected)
			}
		})
	}
}

func TestGetenvBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{name: "true value", envValue: "true", def: false, expected: true},
		{name: "numeric true", envValue: "1", def: false, expected: true},
		{name: "false value", envValue: "false", def: true, expected: false},
		{name: "garbage falls back to default", envValue: "yeah", def: true, expected: true},
		{name: "unset falls back to default", envValue: "", def: true, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv("TEST_BOOL", tt.envValue)
				defer os.Unsetenv("TEST_BOOL")
			}

			if got := getenvBool("TEST_BOOL", tt.def); got != tt.expected {
				t.Errorf("getenvBool(TEST_BOOL, %v) = %v, want %v", tt.def, got, tt.expected)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      time.Duration
		expected time.Duration
	}{
		{name: "valid duration", envValue: "45s", def: time.Second, expected: 45 * time.Second},
		{name: "sub-second duration", envValue: "250ms", def: time.Second, expected: 250 * time.Millisecond},
		{name: "invalid duration falls back to default", envValue: "fast", def: 2 * time.Second, expected: 2 * time.Second},
		{name: "unset falls back to default", envValue: "", def: 3 * time.Second, expected: 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv("TEST_DURATION", tt.envValue)
				defer os.Unsetenv("TEST_DURATION")
			}

			if got := getenvDuration("TEST_DURATION", tt.def); got != tt.expected {
				t.Errorf("getenvDuration(TEST_DURATION, %v) = %v, want %v", tt.def, got, tt.expected)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		check   func(t *testing.T, cfg Config)
	}{
		{
			name:    "default values when no env vars set",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg Config) {
				if cfg.AppName != "pushrelay" {
					t.Errorf("AppName = %q, want %q", cfg.AppName, "pushrelay")
				}
				if cfg.HTTPPort != ":8084" {
					t.Errorf("HTTPPort = %q, want %q", cfg.HTTPPort, ":8084")
				}
				if cfg.DB.Name != "pushrelay" {
					t.Errorf("DB.Name = %q, want %q", cfg.DB.Name, "pushrelay")
				}
				if cfg.Supervisor.PollInterval != 30*time.Second {
					t.Errorf("Supervisor.PollInterval = %v, want %v", cfg.Supervisor.PollInterval, 30*time.Second)
				}
				if cfg.Listener.MaxElapsed != 300*time.Second {
					t.Errorf("Listener.MaxElapsed = %v, want %v", cfg.Listener.MaxElapsed, 300*time.Second)
				}
				if cfg.Audit.Enabled {
					t.Error("Audit.Enabled = true, want false by default")
				}
			},
		},
		{
			name: "custom values from environment",
			envVars: map[string]string{
				"APP_NAME":           "bridge-test",
				"HTTP_PORT":          ":9999",
				"DB_USER":            "bridge",
				"DB_HOST":            "db.internal",
				"RULE_POLL_INTERVAL": "5s",
				"STREAM_MAX_ELAPSED": "2m",
				"AUDIT_PUBLISH":      "true",
				"AUDIT_TOPIC":        "relay_audit",
			},
			check: func(t *testing.T, cfg Config) {
				if cfg.AppName != "bridge-test" {
					t.Errorf("AppName = %q, want %q", cfg.AppName, "bridge-test")
				}
				if cfg.HTTPPort != ":9999" {
					t.Errorf("HTTPPort = %q, want %q", cfg.HTTPPort, ":9999")
				}
				if cfg.DB.User != "bridge" {
					t.Errorf("DB.User = %q, want %q", cfg.DB.User, "bridge")
				}
				if cfg.Supervisor.PollInterval != 5*time.Second {
					t.Errorf("Supervisor.PollInterval = %v, want %v", cfg.Supervisor.PollInterval, 5*time.Second)
				}
				if cfg.Listener.MaxElapsed != 2*time.Minute {
					t.Errorf("Listener.MaxElapsed = %v, want %v", cfg.Listener.MaxElapsed, 2*time.Minute)
				}
				if !cfg.Audit.Enabled {
					t.Error("Audit.Enabled = false, want true")
				}
				if cfg.Audit.Topic != "relay_audit" {
					t.Errorf("Audit.Topic = %q, want %q", cfg.Audit.Topic, "relay_audit")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			defer func() {
				for k := range tt.envVars {
					os.Unsetenv(k)
				}
			}()

			tt.check(t, FromEnv())
		})
	}
}

func TestDSN(t *testing.T) {
	cfg := Config{DB: DB{User: "u", Pass: "p", Host: "h", Port: "5433", Name: "n"}}
	want := "postgres://u:p@h:5433/n?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
