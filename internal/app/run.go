package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DroneTales/GreenHouse/internal/config"
	"github.com/DroneTales/GreenHouse/internal/db"
	"github.com/DroneTales/GreenHouse/internal/httpapi"
	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse"
	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse/cache"
	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse/service"
	"github.com/DroneTales/GreenHouse/internal/mqtt"
	"github.com/DroneTales/GreenHouse/shared/topics"
	"github.com/DroneTales/GreenHouse/tools/migrate"
)

func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("config loaded",
		"appEnv", cfg.AppEnv,
		"logLevel", cfg.LogLevel.String(),
		"httpAddr", cfg.HTTPAddr,
		"dbDriver", cfg.DBDriver,
		"sqlitePath", cfg.SQLitePath,
		"dbMaxOpenConns", cfg.DBMaxOpenConns,
		"dbMaxIdleConns", cfg.DBMaxIdleConns,
		"dbConnMaxLifetime", cfg.DBConnMaxLifetime,
		"mqttBroker", cfg.MQTTBroker,
		"mqttPort", cfg.MQTTPort,
		"mqttTopicPrefix", cfg.MQTTTopicPrefix,
		"mqttQoS", cfg.MQTTQoS,
		"zoneCount", cfg.ZoneCount,
		"redisEnabled", cfg.RedisAddr != "",
	)

	dbConn, err := db.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeErr := db.Close(dbConn)
		if closeErr != nil {
			logger.Error("db close", "error", closeErr)
		}
	}()

	if err := migrate.Run(ctx, dbConn, migrate.Dialect(cfg.DBDriver), logger); err != nil {
		return err
	}
	logger.Info("database connection successful", "driver", cfg.DBDriver)

	latest, err := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.RedisTTL,
	})
	if err != nil {
		// The cache only speeds up /latest; the store answers without it.
		logger.Warn("redis unavailable, latest-value cache disabled", "error", err)
		latest = cache.Noop{}
	}
	defer func() {
		if closeErr := latest.Close(); closeErr != nil {
			logger.Error("redis close", "error", closeErr)
		}
	}()

	mapper := topics.NewMapper(cfg.MQTTTopicPrefix, cfg.ZoneCount)

	// Set the MQTT handler before Connect so OnConnect can subscribe immediately.
	// The broker may send queued messages right after CONNACK; the handler must
	// be in place before that.
	mqttSubscriber, err := mqtt.NewSubscriber(cfg, mapper, logger)
	if err != nil {
		return err
	}
	mux := httpapi.NewMux(dbConn, mqttSubscriber)
	feature, err := greenhouse.RegisterFeature(ctx, mux, dbConn, cfg.DBDriver, latest, mapper, mqttSubscriber, service.Options{
		QueryTimeout: cfg.QueryTimeout,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := feature.Close(); closeErr != nil {
			logger.Error("repository close", "error", closeErr)
		}
	}()

	// Don't block startup when the broker is down; the session keeps retrying.
	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.MQTTConnectTimeout)
	err = mqttSubscriber.Connect(connectCtx)
	connectCancel()
	if err != nil {
		logger.Warn("mqtt not connected yet (retrying in background)", "error", err)
	}

	srv := httpapi.NewServer(cfg, mux, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		mqttSubscriber.Disconnect()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Stop ingestion first so the in-flight insert completes before the store closes.
	logger.Info("mqtt disconnecting")
	mqttSubscriber.Disconnect()

	logger.Info("http shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	err = <-errCh
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return ctx.Err()
}
