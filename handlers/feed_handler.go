// Package handlers exposes the feed ingestion entry points: a structured
// JSON push for one dealer and a raw delimited-feed upload, both behind a
// shared-secret header. Everything user-facing lives elsewhere; these
// endpoints exist for partner systems and the operations cron.
package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"carmarket-ingest/models"
	"carmarket-ingest/scraper/feed"
	"carmarket-ingest/services"
	"carmarket-ingest/storage"
	"carmarket-ingest/utils"
)

const secretHeader = "X-Feed-Secret"

// maxResponseErrors truncates the error list echoed back to callers.
const maxResponseErrors = 10

// FeedHandler serves the partner push API.
type FeedHandler struct {
	importer *services.Importer
	dealers  storage.DealerStore
	secret   string
	logger   *utils.Logger
}

// NewFeedHandler creates a FeedHandler.
func NewFeedHandler(importer *services.Importer, dealers storage.DealerStore, secret string, logger *utils.Logger) *FeedHandler {
	return &FeedHandler{importer: importer, dealers: dealers, secret: secret, logger: logger}
}

// pushListing is one structured record in a push batch.
type pushListing struct {
	StockNumber  string   `json:"stock_number"`
	Title        string   `json:"title"`
	Price        string   `json:"price"`
	Mileage      string   `json:"mileage"`
	Transmission string   `json:"transmission"`
	FuelType     string   `json:"fuel_type"`
	VehicleType  string   `json:"vehicle_type"`
	VIN          string   `json:"vin"`
	Description  string   `json:"description"`
	Phone        string   `json:"phone"`
	Email        string   `json:"email"`
	State        string   `json:"state"`
	City         string   `json:"city"`
	Images       []string `json:"images"`
}

// pushRequest is the structured batch body, tagged with the dealer's
// activation token.
type pushRequest struct {
	ActivationToken string        `json:"activation_token"`
	Listings        []pushListing `json:"listings"`
}

// batchResponse reports what one submission did.
type batchResponse struct {
	Status      string   `json:"status"`
	Inserted    int      `json:"inserted"`
	Updated     int      `json:"updated"`
	Deactivated int      `json:"deactivated"`
	Skipped     int      `json:"skipped"`
	TotalRows   int      `json:"total_rows"`
	TotalErrors int      `json:"total_errors"`
	Errors      []string `json:"errors,omitempty"`
}

// PushListings handles POST /api/feed/listings.
func (h *FeedHandler) PushListings(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.ActivationToken == "" {
		respondWithError(w, http.StatusBadRequest, "activation_token is required")
		return
	}
	if len(req.Listings) == 0 {
		respondWithError(w, http.StatusBadRequest, "listings is empty")
		return
	}

	dealer, err := h.dealers.GetByToken(r.Context(), req.ActivationToken)
	if errors.Is(err, storage.ErrNotFound) {
		respondWithError(w, http.StatusForbidden, "unknown activation token")
		return
	}
	if err != nil {
		h.logger.Error("[api] dealer lookup failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "dealer lookup failed")
		return
	}

	raws, rowErrors := h.normalize(req.Listings, dealer)
	il, err := h.importer.PushBatch(r.Context(), dealer, raws, rowErrors)
	if errors.Is(err, services.ErrQuotaExceeded) {
		respondWithError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "ingestion failed: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, toResponse(il))
}

// PushCSV handles POST /api/feed/csv: the raw delimited feed body.
func (h *FeedHandler) PushCSV(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		respondWithError(w, http.StatusMethodNotAllowed, "only POST is allowed")
		return
	}

	rows, badRows, err := feed.Parse(r.Body)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "unreadable feed: "+err.Error())
		return
	}
	if len(rows) == 0 && len(badRows) == 0 {
		respondWithError(w, http.StatusBadRequest, "feed contains no rows")
		return
	}

	il, err := h.importer.RunFeed(r.Context(), rows, badRows)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "ingestion failed: "+err.Error())
		return
	}
	respondWithJSON(w, http.StatusOK, toResponse(il))
}

// normalize converts structured push records to DTOs via the same feed-row
// path the CSV uses, so both entry points share one rule set.
func (h *FeedHandler) normalize(listings []pushListing, dealer *models.Dealer) ([]*models.RawListing, []string) {
	var raws []*models.RawListing
	var rowErrors []string

	for i, pl := range listings {
		row := feed.Row{
			DealerAccountID: dealer.AccountID,
			StockNumber:     pl.StockNumber,
			Title:           pl.Title,
			Price:           pl.Price,
			Mileage:         pl.Mileage,
			Transmission:    pl.Transmission,
			FuelType:        pl.FuelType,
			VehicleType:     pl.VehicleType,
			VIN:             pl.VIN,
			Description:     pl.Description,
			Phone:           pl.Phone,
			Email:           pl.Email,
			State:           pl.State,
			City:            pl.City,
		}
		for j, img := range pl.Images {
			switch j {
			case 0:
				row.Image1 = img
			case 1:
				row.Image2 = img
			case 2:
				row.Image3 = img
			case 3:
				row.Image4 = img
			}
		}

		raw, err := feed.ToRaw(row, dealer)
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("listing %d: %v", i, err))
			continue
		}
		raws = append(raws, raw)
	}
	return raws, rowErrors
}

// authorized enforces the shared-secret header in constant time.
func (h *FeedHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if h.secret == "" {
		h.logger.Warn("[api] FEED_SECRET not configured — rejecting feed request")
		respondWithError(w, http.StatusServiceUnavailable, "feed ingestion is not configured")
		return false
	}
	got := r.Header.Get(secretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
		respondWithError(w, http.StatusUnauthorized, "missing or invalid "+secretHeader)
		return false
	}
	return true
}

func toResponse(il *models.ImportLog) batchResponse {
	errs := il.Errors
	if len(errs) > maxResponseErrors {
		errs = errs[:maxResponseErrors]
	}
	return batchResponse{
		Status:      string(il.Status),
		Inserted:    il.Inserted,
		Updated:     il.Updated,
		Deactivated: il.Deactivated,
		Skipped:     il.Skipped,
		TotalRows:   il.TotalRows,
		TotalErrors: il.TotalErrors,
		Errors:      errs,
	}
}
