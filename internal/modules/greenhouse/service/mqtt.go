package service

import (
	"context"

	"github.com/DroneTales/GreenHouse/internal/mqtt"
	"github.com/DroneTales/GreenHouse/shared/types"
)

// Register attaches the ingest path to the subscriber.
func (s *Service) Register(subscriber mqtt.MQTTSubscriber) {
	registerMQTTHandler(subscriber, s)
}

// registerMQTTHandler sets up the greenhouse module's MQTT message handler
func registerMQTTHandler(subscriber mqtt.MQTTSubscriber, s *Service) {
	subscriber.SetMessageHandler(func(reading types.Reading) error {
		s.logger.Debug("processing reading",
			"kind", reading.Kind,
			"timestamp", reading.Time,
		)

		ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
		defer cancel()

		if err := s.Ingest(ctx, reading); err != nil {
			s.logger.Error("failed to insert reading",
				"kind", reading.Kind,
				"error", err,
			)
			return err
		}

		s.logger.Debug("successfully stored reading", "kind", reading.Kind)
		return nil
	})
}
