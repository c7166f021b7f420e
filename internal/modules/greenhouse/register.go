package greenhouse

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse/cache"
	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse/controller"
	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse/repository"
	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse/service"
	"github.com/DroneTales/GreenHouse/internal/mqtt"
	"github.com/DroneTales/GreenHouse/shared/topics"
)

// Feature owns the greenhouse module's store handle.
type Feature struct {
	Service    *service.Service
	repository repository.ReadingRepository
}

// RegisterFeature builds the store, attaches ingestion to subscriber and
// mounts the query routes on mux.
func RegisterFeature(
	ctx context.Context,
	mux *http.ServeMux,
	db *sql.DB,
	dialect string,
	latest cache.LatestCache,
	mapper *topics.Mapper,
	subscriber mqtt.MQTTSubscriber,
	opts service.Options,
) (*Feature, error) {
	greenhouseRepository, err := repository.NewRepository(ctx, db, dialect)
	if err != nil {
		return nil, err
	}
	greenhouseService := service.NewService(greenhouseRepository, latest, mapper, opts)
	greenhouseService.Register(subscriber)

	greenhouseController := controller.NewGreenhouseController(greenhouseService)
	greenhouseController.RegisterRoutes(mux)

	return &Feature{Service: greenhouseService, repository: greenhouseRepository}, nil
}

func (f *Feature) Close() error {
	return f.repository.Close()
}
