// Package feed parses the partner CSV feed. Rows are decoded by header
// name, numeric columns coerced leniently, and the result grouped by dealer
// account so the importer can resolve and quota-check one dealer at a time.
package feed

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jszwec/csvutil"

	"carmarket-ingest/models"
	"carmarket-ingest/scraper"
)

// Row is one raw feed line. Numeric columns arrive as strings because
// partners routinely send "12,500" and "$3999"; coercion happens in ToRaw.
type Row struct {
	DealerAccountID string `csv:"dealer_id"`
	StockNumber     string `csv:"stock_number"`
	Title           string `csv:"title"`
	Price           string `csv:"price"`
	Mileage         string `csv:"mileage"`
	Transmission    string `csv:"transmission,omitempty"`
	FuelType        string `csv:"fuel_type,omitempty"`
	VehicleType     string `csv:"vehicle_type,omitempty"`
	VIN             string `csv:"vin,omitempty"`
	Description     string `csv:"description,omitempty"`
	Phone           string `csv:"phone,omitempty"`
	Email           string `csv:"email,omitempty"`
	State           string `csv:"state,omitempty"`
	City            string `csv:"city,omitempty"`
	Image1          string `csv:"image_1,omitempty"`
	Image2          string `csv:"image_2,omitempty"`
	Image3          string `csv:"image_3,omitempty"`
	Image4          string `csv:"image_4,omitempty"`
}

// DealerBatch is all feed rows for one dealer account, in feed order.
type DealerBatch struct {
	AccountID string
	Rows      []Row
}

// Parse decodes the delimited feed body. The first line must be a header;
// a row that fails to decode is returned in badRows by line number instead
// of aborting the feed.
func Parse(r io.Reader) (rows []Row, badRows []string, err error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read feed body: %w", err)
	}

	csvReader := csv.NewReader(bytes.NewReader(data))
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	dec, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		return nil, nil, fmt.Errorf("feed header: %w", err)
	}

	for line := 2; ; line++ {
		var row Row
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			badRows = append(badRows, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if strings.TrimSpace(row.DealerAccountID) == "" {
			badRows = append(badRows, fmt.Sprintf("line %d: missing dealer_id", line))
			continue
		}
		rows = append(rows, row)
	}

	return rows, badRows, nil
}

// GroupByDealer splits rows into per-dealer batches, preserving the feed's
// row order inside each batch and the order dealers first appear.
func GroupByDealer(rows []Row) []DealerBatch {
	index := make(map[string]int)
	var batches []DealerBatch

	for _, row := range rows {
		account := strings.TrimSpace(row.DealerAccountID)
		i, ok := index[account]
		if !ok {
			i = len(batches)
			index[account] = i
			batches = append(batches, DealerBatch{AccountID: account})
		}
		batches[i].Rows = append(batches[i].Rows, row)
	}

	return batches
}

// ToRaw normalizes one feed row into the canonical DTO, namespaced under
// the dealer's activation token. Returns scraper.ErrUnlistable for rows that
// cannot become listings.
func ToRaw(row Row, dealer *models.Dealer) (*models.RawListing, error) {
	title := scraper.NormalizeText(row.Title)
	year, brand, model, err := scraper.ParseTitle(title)
	if err != nil {
		return nil, fmt.Errorf("title %q: %w", title, err)
	}

	price := scraper.ParseAmount(row.Price)
	if price == 0 {
		return nil, fmt.Errorf("title %q: missing price: %w", title, scraper.ErrUnlistable)
	}

	stock := strings.TrimSpace(row.StockNumber)
	if stock == "" {
		// No stable stock number: fingerprint the content instead.
		stock = scraper.DeriveExternalID(row.DealerAccountID + "|" + title + "|" + row.VIN)
	}

	raw := &models.RawListing{
		Source:       models.SourceDealerFeed,
		ExternalID:   dealer.ExternalID(stock),
		Title:        title,
		Brand:        brand,
		Model:        model,
		Year:         year,
		Price:        price,
		Mileage:      scraper.ParseAmount(row.Mileage),
		Transmission: scraper.NormalizeTransmission(row.Transmission),
		FuelType:     scraper.NormalizeText(row.FuelType),
		VehicleType:  scraper.NormalizeText(row.VehicleType),
		VIN:          strings.ToUpper(scraper.NormalizeText(row.VIN)),
		Description:  scraper.NormalizeText(row.Description),
		Phone:        scraper.NormalizeText(row.Phone),
		Email:        scraper.NormalizeText(row.Email),
		State:        scraper.NormalizeText(row.State),
		City:         scraper.NormalizeText(row.City),
		CityName:     scraper.NormalizeText(row.City),
		ScrapedAt:    time.Now(),
	}

	for _, img := range []string{row.Image1, row.Image2, row.Image3, row.Image4} {
		if u := scraper.ResolveImageURL(nil, img); u != "" {
			raw.Images = append(raw.Images, u)
		}
	}

	return raw, nil
}
