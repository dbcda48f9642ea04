package handler

import (
	"net/http"

	"taskforge/internal/worker"
)

type StatsHandler struct {
	Metrics *worker.Metrics
}

func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Metrics.Snapshot())
}
