package handlers

import (
	"net/http"
	"strings"

	"carmarket-ingest/models"
	"carmarket-ingest/scraper"
	"carmarket-ingest/services"
	"carmarket-ingest/utils"
)

// AdminHandler exposes operator actions: trigger a scrape run for one
// source. It shares the feed secret; operators call it from cron or by hand.
type AdminHandler struct {
	importer *services.Importer
	registry *scraper.Registry
	secret   string
	logger   *utils.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(importer *services.Importer, registry *scraper.Registry, secret string, logger *utils.Logger) *AdminHandler {
	return &AdminHandler{importer: importer, registry: registry, secret: secret, logger: logger}
}

// RunSource handles POST /api/admin/run/{source}: one synchronous
// scrape-and-reconcile run. Runs for the same source must not overlap;
// the external scheduler owns that serialization.
func (h *AdminHandler) RunSource(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" || r.Header.Get(secretHeader) != h.secret {
		respondWithError(w, http.StatusUnauthorized, "missing or invalid "+secretHeader)
		return
	}
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	// Expected path: api/admin/run/{source}
	if len(parts) < 4 || parts[3] == "" {
		respondWithError(w, http.StatusBadRequest, "expected /api/admin/run/{source}")
		return
	}
	src := models.Source(parts[3])
	if _, ok := h.registry.Get(src); !ok {
		respondWithError(w, http.StatusNotFound, "unknown source "+string(src))
		return
	}

	il, err := h.importer.RunSource(r.Context(), src)
	if err != nil {
		respondWithJSON(w, http.StatusInternalServerError, toResponse(il))
		return
	}
	respondWithJSON(w, http.StatusOK, toResponse(il))
}
