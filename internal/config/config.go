package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DroneTales/GreenHouse/shared/types"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	// DBDriver is "sqlite3" or "postgres".
	DBDriver          string
	DBDSN             string
	SQLitePath        string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBLogSQL          bool

	MQTTBroker               string
	MQTTPort                 int
	MQTTUsername             string
	MQTTPassword             string
	MQTTClientID             string
	MQTTQoS                  byte
	MQTTTopicPrefix          string
	MQTTConnectTimeout       time.Duration
	MQTTRetryInterval        time.Duration
	MQTTMaxReconnectInterval time.Duration

	ZoneCount int

	// RedisAddr enables the latest-value cache when non-empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	QueryTimeout    time.Duration
	ShutdownTimeout time.Duration

	// SimInterval is only read by the simulator.
	SimInterval time.Duration
}

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	driver := env("DB_DRIVER", "sqlite3")
	switch driver {
	case "sqlite3", "postgres":
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite3, postgres)", driver)
	}
	dsn := env("DB_DSN", "")
	if driver == "postgres" && dsn == "" {
		return Config{}, fmt.Errorf("DB_DSN is required when DB_DRIVER=postgres")
	}

	maxOpenConns, err := envInt("DB_MAX_OPEN_CONNS", 4)
	if err != nil {
		return Config{}, err
	}
	maxIdleConns, err := envInt("DB_MAX_IDLE_CONNS", 4)
	if err != nil {
		return Config{}, err
	}
	connMaxLifetime, err := envDuration("DB_CONN_MAX_LIFETIME", 0)
	if err != nil {
		return Config{}, err
	}
	logSQL, err := envBool("DB_LOG_SQL", false)
	if err != nil {
		return Config{}, err
	}

	mqttPort, err := envInt("MQTT_PORT", 1883)
	if err != nil {
		return Config{}, err
	}
	if mqttPort <= 0 || mqttPort > 65535 {
		return Config{}, fmt.Errorf("MQTT_PORT out of range: %d", mqttPort)
	}

	qos, err := envInt("MQTT_QOS", 1)
	if err != nil {
		return Config{}, err
	}
	if qos < 0 || qos > 2 {
		return Config{}, fmt.Errorf("invalid MQTT_QOS %d (allowed: 0, 1, 2)", qos)
	}

	connectTimeout, err := envPositiveDuration("MQTT_CONNECT_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	retryInterval, err := envPositiveDuration("MQTT_RETRY_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	maxReconnectInterval, err := envPositiveDuration("MQTT_MAX_RECONNECT_INTERVAL", 60*time.Second)
	if err != nil {
		return Config{}, err
	}

	zoneCount, err := envInt("ZONE_COUNT", types.DefaultZoneCount)
	if err != nil {
		return Config{}, err
	}
	if zoneCount < 0 || zoneCount > types.MaxZoneCount {
		return Config{}, fmt.Errorf("ZONE_COUNT out of range: %d (allowed: 0-%d)", zoneCount, types.MaxZoneCount)
	}

	redisDB, err := envInt("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	redisTTL, err := envDuration("REDIS_TTL", 24*time.Hour)
	if err != nil {
		return Config{}, err
	}

	queryTimeout, err := envPositiveDuration("QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := envPositiveDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	simInterval, err := envPositiveDuration("SIM_INTERVAL", 5*time.Second)
	if err != nil {
		return Config{}, err
	}

	return Config{
		AppEnv:   appEnv,
		LogLevel: level,
		HTTPAddr: env("HTTP_ADDR", ":8080"),

		DBDriver:          driver,
		DBDSN:             dsn,
		SQLitePath:        env("SQLITE_PATH", "data/greenhouse.db"),
		DBMaxOpenConns:    maxOpenConns,
		DBMaxIdleConns:    maxIdleConns,
		DBConnMaxLifetime: connMaxLifetime,
		DBLogSQL:          logSQL,

		MQTTBroker:               env("MQTT_BROKER", "localhost"),
		MQTTPort:                 mqttPort,
		MQTTUsername:             env("MQTT_USERNAME", ""),
		MQTTPassword:             os.Getenv("MQTT_PASSWORD"),
		MQTTClientID:             env("MQTT_CLIENT_ID", "greenhouse-logger"),
		MQTTQoS:                  byte(qos),
		MQTTTopicPrefix:          env("MQTT_TOPIC_PREFIX", "greenhouse"),
		MQTTConnectTimeout:       connectTimeout,
		MQTTRetryInterval:        retryInterval,
		MQTTMaxReconnectInterval: maxReconnectInterval,

		ZoneCount: zoneCount,

		RedisAddr:     env("REDIS_ADDR", ""),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		RedisTTL:      redisTTL,

		QueryTimeout:    queryTimeout,
		ShutdownTimeout: shutdownTimeout,

		SimInterval: simInterval,
	}, nil
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return d, nil
}

func envPositiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	d, err := envDuration(key, fallback)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
