package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/DroneTales/GreenHouse/internal/modules/greenhouse/service"
	"github.com/DroneTales/GreenHouse/shared/types"
)

// GreenhouseService is the part of service.Service the HTTP layer uses.
type GreenhouseService interface {
	GetSeries(ctx context.Context, sel service.RangeSelector, group types.Group) (service.SeriesSet, error)
	Readings(ctx context.Context, from, to time.Time, kinds []types.Kind, limit int) ([]types.Reading, error)
	Latest(ctx context.Context, group types.Group) ([]types.Reading, error)
	Kinds() []service.KindInfo
}

type GreenhouseController interface {
	RegisterRoutes(mux *http.ServeMux)
}

type greenhouseControllerImpl struct {
	service GreenhouseService
	now     func() time.Time
}

func NewGreenhouseController(svc GreenhouseService) GreenhouseController {
	return &greenhouseControllerImpl{service: svc, now: time.Now}
}

func (c *greenhouseControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/series", c.handleSeries)
	mux.HandleFunc("GET /api/v1/readings", c.handleReadings)
	mux.HandleFunc("GET /api/v1/latest", c.handleLatest)
	mux.HandleFunc("GET /api/v1/kinds", c.handleKinds)
}
