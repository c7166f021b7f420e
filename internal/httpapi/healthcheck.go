package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/DroneTales/GreenHouse/internal/mqtt"
	"github.com/DroneTales/GreenHouse/internal/utils"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// SessionStatus is satisfied by *mqtt.Subscriber.
type SessionStatus interface {
	State() mqtt.State
	Stats() mqtt.Stats
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	db      Pinger
	session SessionStatus
}

type healthResponse struct {
	Status string      `json:"status"`
	DB     string      `json:"db"`
	MQTT   string      `json:"mqtt"`
	Ingest *mqtt.Stats `json:"ingest,omitempty"`
}

func NewHealthchecker(db Pinger, session SessionStatus) healthchecker {
	return &healthcheckerImpl{db: db, session: session}
}

// handleHealthz reports 200 whenever the store answers. The MQTT state is
// informational: a broker outage does not make the logger unhealthy.
func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		slog.Error("failed to check database connectivity", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
		return
	}

	resp := healthResponse{Status: "ok", DB: "ok", MQTT: "disabled"}
	if h.session != nil {
		stats := h.session.Stats()
		resp.MQTT = h.session.State().String()
		resp.Ingest = &stats
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func registerHealthcheck(mux *http.ServeMux, db Pinger, session SessionStatus) {
	healthchecker := NewHealthchecker(db, session)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
