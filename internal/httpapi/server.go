package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DroneTales/GreenHouse/internal/config"
)

func NewServer(cfg config.Config, mux *http.ServeMux, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestID(requestLogger(logger, mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
