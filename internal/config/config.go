package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Listener struct {
	ConnectTimeout  time.Duration // timeout for dial + TLS handshake on the inbound stream
	HeaderTimeout   time.Duration // timeout waiting for the stream response headers
	InitialBackoff  time.Duration // first reconnect delay
	MaxBackoff      time.Duration // ceiling on a single reconnect delay
	MaxElapsed      time.Duration // wall-clock budget for one reconnect sequence
	UnexpectedDelay time.Duration // fixed pause after an unclassified failure
}

type Supervisor struct {
	PollInterval time.Duration // how often the rule table is reconciled
}

type Dispatch struct {
	Timeout time.Duration // outbound webhook request timeout
}

type Audit struct {
	Enabled     bool   // publish relayed notifications to NSQ
	NsqdTCPAddr string // e.g. nsqd:4150
	Topic       string // NSQ topic for the audit feed
}

type Config struct {
	AppName    string
	HTTPPort   string // :8084
	DB         DB
	Listener   Listener
	Supervisor Supervisor
	Dispatch   Dispatch
	Audit      Audit
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "pushrelay"),
		HTTPPort: getenv("HTTP_PORT", ":8084"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "pushrelay"),
		},
		Listener: Listener{
			ConnectTimeout:  getenvDuration("STREAM_CONNECT_TIMEOUT", 10*time.Second),
			HeaderTimeout:   getenvDuration("STREAM_HEADER_TIMEOUT", 10*time.Second),
			InitialBackoff:  getenvDuration("STREAM_INITIAL_BACKOFF", 500*time.Millisecond),
			MaxBackoff:      getenvDuration("STREAM_MAX_BACKOFF", 60*time.Second),
			MaxElapsed:      getenvDuration("STREAM_MAX_ELAPSED", 300*time.Second),
			UnexpectedDelay: getenvDuration("STREAM_UNEXPECTED_DELAY", 5*time.Second),
		},
		Supervisor: Supervisor{
			PollInterval: getenvDuration("RULE_POLL_INTERVAL", 30*time.Second),
		},
		Dispatch: Dispatch{
			Timeout: getenvDuration("WEBHOOK_TIMEOUT", 15*time.Second),
		},
		Audit: Audit{
			Enabled:     getenvBool("AUDIT_PUBLISH", false),
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			Topic:       getenv("AUDIT_TOPIC", "relayed_notifications"),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
