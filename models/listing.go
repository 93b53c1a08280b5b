package models

import "time"

// Source identifies one external origin of listings.
type Source string

const (
	SourcePlazaMotors   Source = "plazamotors"
	SourceRidgelineAuto Source = "ridgelineauto"
	SourceLakesideAuto  Source = "lakesideauto"
	SourceDealerFeed    Source = "dealer_feed"
)

// RawListing holds one listing as produced by a source adapter, before
// reconciliation. Numeric fields are already scrubbed; image URLs still
// point at the source host until relocation runs.
type RawListing struct {
	Source       Source
	ExternalID   string
	Title        string
	Brand        string
	Model        string
	Year         int
	Price        int
	Mileage      int
	Transmission string
	FuelType     string
	VehicleType  string
	Images       []string
	VIN          string
	Description  string
	Phone        string
	Email        string
	State        string
	City         string
	CityName     string
	ScrapedAt    time.Time
}

// Listing is one vehicle offer as known to the marketplace — one row in
// external_listings, keyed by (source, external_id).
//
// Views is a counter owned by the display layer; ingestion copies it
// forward on every update and never resets it. Rows are never hard-deleted
// here, only deactivated when a reconciliation pass stops seeing them.
type Listing struct {
	ID           int64
	Source       Source
	ExternalID   string
	Title        string
	Brand        string
	Model        string
	Year         int
	Price        int
	Mileage      int
	Transmission string
	FuelType     string
	VehicleType  string
	Image1       string
	Image2       string
	Image3       string
	Image4       string
	VIN          string
	Description  string
	Phone        string
	Email        string
	State        string
	City         string
	CityName     string
	IsActive     bool
	LastSeenAt   time.Time
	Views        int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FromRaw builds a Listing from an adapter DTO. Up to four images are kept;
// extras are dropped.
func FromRaw(r *RawListing, now time.Time) *Listing {
	l := &Listing{
		Source:       r.Source,
		ExternalID:   r.ExternalID,
		Title:        r.Title,
		Brand:        r.Brand,
		Model:        r.Model,
		Year:         r.Year,
		Price:        r.Price,
		Mileage:      r.Mileage,
		Transmission: r.Transmission,
		FuelType:     r.FuelType,
		VehicleType:  r.VehicleType,
		VIN:          r.VIN,
		Description:  r.Description,
		Phone:        r.Phone,
		Email:        r.Email,
		State:        r.State,
		City:         r.City,
		CityName:     r.CityName,
		IsActive:     true,
		LastSeenAt:   now,
	}
	slots := []*string{&l.Image1, &l.Image2, &l.Image3, &l.Image4}
	for i, u := range r.Images {
		if i >= len(slots) {
			break
		}
		*slots[i] = u
	}
	return l
}

// ImageURLs returns the non-empty image fields in slot order.
func (l *Listing) ImageURLs() []string {
	var out []string
	for _, u := range []string{l.Image1, l.Image2, l.Image3, l.Image4} {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}
