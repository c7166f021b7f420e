package config

import (
	"log/slog"
	"testing"
	"time"
)

var envKeys = []string{
	"APP_ENV", "LOG_LEVEL", "HTTP_ADDR",
	"DB_DRIVER", "DB_DSN", "SQLITE_PATH", "DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_LOG_SQL",
	"MQTT_BROKER", "MQTT_PORT", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_CLIENT_ID", "MQTT_QOS", "MQTT_TOPIC_PREFIX",
	"MQTT_CONNECT_TIMEOUT", "MQTT_RETRY_INTERVAL", "MQTT_MAX_RECONNECT_INTERVAL",
	"ZONE_COUNT",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_TTL",
	"QUERY_TIMEOUT", "SHUTDOWN_TIMEOUT", "SIM_INTERVAL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	if got.AppEnv != "dev" {
		t.Errorf("AppEnv = %q, want %q", got.AppEnv, "dev")
	}
	if got.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, slog.LevelInfo)
	}
	if got.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", got.HTTPAddr, ":8080")
	}
	if got.DBDriver != "sqlite3" {
		t.Errorf("DBDriver = %q, want sqlite3", got.DBDriver)
	}
	if got.SQLitePath != "data/greenhouse.db" {
		t.Errorf("SQLitePath = %q", got.SQLitePath)
	}
	if got.DBMaxOpenConns != 4 || got.DBMaxIdleConns != 4 {
		t.Errorf("pool = %d/%d, want 4/4", got.DBMaxOpenConns, got.DBMaxIdleConns)
	}
	if got.MQTTBroker != "localhost" || got.MQTTPort != 1883 {
		t.Errorf("broker = %s:%d, want localhost:1883", got.MQTTBroker, got.MQTTPort)
	}
	if got.MQTTClientID != "greenhouse-logger" {
		t.Errorf("MQTTClientID = %q", got.MQTTClientID)
	}
	if got.MQTTQoS != 1 {
		t.Errorf("MQTTQoS = %d, want 1 (at least once)", got.MQTTQoS)
	}
	if got.MQTTTopicPrefix != "greenhouse" {
		t.Errorf("MQTTTopicPrefix = %q", got.MQTTTopicPrefix)
	}
	if got.MQTTConnectTimeout != 10*time.Second {
		t.Errorf("MQTTConnectTimeout = %v", got.MQTTConnectTimeout)
	}
	if got.ZoneCount != 4 {
		t.Errorf("ZoneCount = %d, want 4", got.ZoneCount)
	}
	if got.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty (cache disabled)", got.RedisAddr)
	}
	if got.QueryTimeout != 5*time.Second || got.ShutdownTimeout != 10*time.Second {
		t.Errorf("timeouts = %v/%v", got.QueryTimeout, got.ShutdownTimeout)
	}
	if got.SimInterval != 5*time.Second {
		t.Errorf("SimInterval = %v, want 5s", got.SimInterval)
	}
}

func TestLoadFromEnv_AppEnv_Invalid(t *testing.T) {
	for _, v := range []string{"staging", "DEV", "whatever"} {
		t.Run(v, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("APP_ENV", v)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() error = nil, want non-nil")
			}
		})
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", " prod ")
	t.Setenv("HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("MQTT_BROKER", "broker.lan")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("MQTT_USERNAME", "logger")
	t.Setenv("MQTT_PASSWORD", "s3cret")
	t.Setenv("MQTT_QOS", "2")
	t.Setenv("ZONE_COUNT", "6")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("DB_LOG_SQL", "true")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.AppEnv != "prod" {
		t.Errorf("AppEnv = %q, want prod", got.AppEnv)
	}
	if got.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("HTTPAddr = %q", got.HTTPAddr)
	}
	if got.MQTTBroker != "broker.lan" || got.MQTTPort != 8883 {
		t.Errorf("broker = %s:%d", got.MQTTBroker, got.MQTTPort)
	}
	if got.MQTTUsername != "logger" || got.MQTTPassword != "s3cret" {
		t.Errorf("credentials = %q/%q", got.MQTTUsername, got.MQTTPassword)
	}
	if got.MQTTQoS != 2 {
		t.Errorf("MQTTQoS = %d, want 2", got.MQTTQoS)
	}
	if got.ZoneCount != 6 {
		t.Errorf("ZoneCount = %d, want 6", got.ZoneCount)
	}
	if got.RedisAddr != "redis:6379" || got.RedisDB != 3 {
		t.Errorf("redis = %q db %d", got.RedisAddr, got.RedisDB)
	}
	if !got.DBLogSQL {
		t.Error("DBLogSQL = false, want true")
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "db driver", key: "DB_DRIVER", value: "mysql"},
		{name: "postgres without dsn", key: "DB_DRIVER", value: "postgres"},
		{name: "max open conns", key: "DB_MAX_OPEN_CONNS", value: "many"},
		{name: "conn lifetime", key: "DB_CONN_MAX_LIFETIME", value: "forever"},
		{name: "log sql", key: "DB_LOG_SQL", value: "maybe"},
		{name: "mqtt port text", key: "MQTT_PORT", value: "abc"},
		{name: "mqtt port range", key: "MQTT_PORT", value: "70000"},
		{name: "qos", key: "MQTT_QOS", value: "3"},
		{name: "connect timeout zero", key: "MQTT_CONNECT_TIMEOUT", value: "0s"},
		{name: "retry interval negative", key: "MQTT_RETRY_INTERVAL", value: "-1s"},
		{name: "zone count negative", key: "ZONE_COUNT", value: "-1"},
		{name: "zone count too large", key: "ZONE_COUNT", value: "65"},
		{name: "redis db", key: "REDIS_DB", value: "zero"},
		{name: "query timeout", key: "QUERY_TIMEOUT", value: "soon"},
		{name: "sim interval zero", key: "SIM_INTERVAL", value: "0s"},
		{name: "log level", key: "LOG_LEVEL", value: "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() with %s=%q error = nil, want non-nil", tt.key, tt.value)
			}
		})
	}
}

func TestLoadFromEnv_Postgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_DSN", "postgres://app:app@db:5432/greenhouse")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}
	if got.DBDriver != "postgres" || got.DBDSN == "" {
		t.Errorf("driver = %q dsn = %q", got.DBDriver, got.DBDSN)
	}
}

func TestParseLogLevel_Valid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want slog.Level
	}{
		{name: "debug", in: "debug", want: slog.LevelDebug},
		{name: "info", in: "info", want: slog.LevelInfo},
		{name: "warn", in: "warn", want: slog.LevelWarn},
		{name: "warning", in: "warning", want: slog.LevelWarn},
		{name: "error", in: "error", want: slog.LevelError},
		{name: "case insensitive", in: "DeBuG", want: slog.LevelDebug},
		{name: "trims whitespace", in: "  warn \n", want: slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLogLevel(tt.in)
			if err != nil {
				t.Fatalf("parseLogLevel(%q) error = %v, want nil", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLogLevel_Invalid(t *testing.T) {
	for _, in := range []string{"", "nope", "warns", "1"} {
		got, err := parseLogLevel(in)
		if err == nil {
			t.Fatalf("parseLogLevel(%q) error = nil, want non-nil", in)
		}
		if got != slog.LevelInfo {
			t.Errorf("parseLogLevel(%q) = %v, want %v on error", in, got, slog.LevelInfo)
		}
	}
}
