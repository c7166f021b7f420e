package controller

import (
	"log/slog"
	"net/http"

	"github.com/DroneTales/GreenHouse/internal/utils"
	"github.com/DroneTales/GreenHouse/shared/types"
)

func (c *greenhouseControllerImpl) handleSeries(w http.ResponseWriter, r *http.Request) {
	sel, group, err := parseSeriesQuery(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	set, err := c.service.GetSeries(r.Context(), sel, group)
	if err != nil {
		if isBadRequest(err) {
			utils.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("series: query failed", "range", sel.Preset, "group", group, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	utils.WriteJSON(w, http.StatusOK, set)
}

func (c *greenhouseControllerImpl) handleReadings(w http.ResponseWriter, r *http.Request) {
	from, to, kinds, limit, err := parseReadingsQuery(r, c.now().UTC())
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	readings, err := c.service.Readings(r.Context(), from, to, kinds, limit)
	if err != nil {
		if isBadRequest(err) {
			utils.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("readings: query failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load readings")
		return
	}
	utils.WriteJSON(w, http.StatusOK, toReadingViews(readings))
}

func (c *greenhouseControllerImpl) handleLatest(w http.ResponseWriter, r *http.Request) {
	group, err := types.ParseGroup(r.URL.Query().Get("group"))
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	latest, err := c.service.Latest(r.Context(), group)
	if err != nil {
		if isBadRequest(err) {
			utils.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("latest: query failed", "group", group, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to load latest readings")
		return
	}
	utils.WriteJSON(w, http.StatusOK, toReadingViews(latest))
}

func (c *greenhouseControllerImpl) handleKinds(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, c.service.Kinds())
}
