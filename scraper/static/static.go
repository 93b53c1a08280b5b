// Package static implements the source adapter for plain server-rendered
// dealer sites: one HTTP GET per catalog page, goquery extraction per row,
// pagination by incrementing a page query parameter.
package static

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"

	"carmarket-ingest/config"
	"carmarket-ingest/models"
	"carmarket-ingest/scraper"
	"carmarket-ingest/utils"
)

// Adapter scrapes one static-HTML site described by a SourceConfig.
type Adapter struct {
	src    config.SourceConfig
	cfg    *config.Config
	logger *utils.Logger
	client *http.Client
	retry  *utils.RetryConfig
}

// New creates an Adapter for one configured static site.
func New(src config.SourceConfig, cfg *config.Config, logger *utils.Logger) *Adapter {
	return &Adapter{
		src:    src,
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: time.Duration(cfg.FetchTimeoutS) * time.Second},
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   2 * time.Second,
			Logger:      logger,
		},
	}
}

func (a *Adapter) Source() models.Source {
	return models.Source(a.src.Name)
}

// Fetch walks catalog pages until an empty page, a non-2xx response, or the
// page cap. A page failure after retries ends pagination for the run; rows
// already collected are still returned.
func (a *Adapter) Fetch(ctx context.Context) ([]*models.RawListing, error) {
	pageCap := a.src.PageCap
	if pageCap == 0 {
		pageCap = a.cfg.PageCap
	}
	rowCap := a.src.RowsPerPage
	if rowCap == 0 {
		rowCap = a.cfg.RowsPerPage
	}
	delay := a.src.DelayMs
	if delay == 0 {
		delay = a.cfg.RateLimitMs
	}

	base, err := url.Parse(a.src.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] invalid base URL: %w", a.src.Name, err)
	}

	var all []*models.RawListing
	for page := 1; page <= pageCap; page++ {
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}

		rows, err := a.fetchPage(ctx, base, page, rowCap)
		if err != nil {
			a.logger.Warn("[%s] page %d failed, stopping pagination: %v", a.src.Name, page, err)
			break
		}
		if len(rows) == 0 {
			a.logger.Debug("[%s] page %d empty — end of catalog", a.src.Name, page)
			break
		}

		all = append(all, rows...)
		a.logger.Info("[%s] page %d done — %d rows so far", a.src.Name, page, len(all))

		if page < pageCap {
			time.Sleep(time.Duration(delay) * time.Millisecond)
		}
	}

	return all, nil
}

func (a *Adapter) fetchPage(ctx context.Context, base *url.URL, page, rowCap int) ([]*models.RawListing, error) {
	pageURL := *base
	q := pageURL.Query()
	q.Set(a.src.PageParam, strconv.Itoa(page))
	pageURL.RawQuery = q.Encode()

	var doc *goquery.Document
	err := a.retry.Do(ctx, fmt.Sprintf("%s-page-%d", a.src.Name, page), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) carmarket-ingest/1.0")

		resp, err := a.client.Do(req)
		if err != nil {
			return fmt.Errorf("get %s: %w", pageURL.String(), err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("get %s: status %d", pageURL.String(), resp.StatusCode)
		}

		doc, err = goquery.NewDocumentFromReader(resp.Body)
		if err != nil {
			return fmt.Errorf("parse %s: %w", pageURL.String(), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return a.extractRows(doc, base, rowCap), nil
}

// extractRows pulls listing DTOs out of one parsed page. A bad row is
// logged and skipped; it never aborts the page.
func (a *Adapter) extractRows(doc *goquery.Document, base *url.URL, rowCap int) []*models.RawListing {
	var rows []*models.RawListing

	doc.Find(a.src.RowSelector).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if len(rows) >= rowCap {
			return false
		}

		row, err := a.extractRow(sel, base)
		if err != nil {
			a.logger.Debug("[%s] row %d skipped: %v", a.src.Name, i, err)
			return true
		}
		rows = append(rows, row)
		return true
	})

	return rows
}

func (a *Adapter) extractRow(sel *goquery.Selection, base *url.URL) (*models.RawListing, error) {
	f := a.src.Fields

	title := scraper.NormalizeText(sel.Find(f.Title).First().Text())
	year, brand, model, err := scraper.ParseTitle(title)
	if err != nil {
		return nil, fmt.Errorf("title %q: %w", title, err)
	}

	price := scraper.ParseAmount(sel.Find(f.Price).First().Text())
	if price == 0 && a.src.PriceMandatory {
		return nil, fmt.Errorf("title %q: missing price: %w", title, scraper.ErrUnlistable)
	}

	externalID, err := a.externalID(sel, base)
	if err != nil {
		return nil, err
	}

	row := &models.RawListing{
		Source:     a.Source(),
		ExternalID: externalID,
		Title:      title,
		Brand:      brand,
		Model:      model,
		Year:       year,
		Price:      price,
		Mileage:    scraper.ParseAmount(sel.Find(f.Mileage).First().Text()),
		State:      a.src.State,
		City:       a.src.City,
		CityName:   a.src.CityName,
		Phone:      a.src.Phone,
		ScrapedAt:  time.Now(),
	}

	if f.Transmission != "" {
		row.Transmission = scraper.NormalizeTransmission(sel.Find(f.Transmission).First().Text())
	}

	attr := f.ImageAttr
	if attr == "" {
		attr = "src"
	}
	sel.Find(f.Image).EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if len(row.Images) >= 4 {
			return false
		}
		raw, _ := img.Attr(attr)
		if u := scraper.ResolveImageURL(base, raw); u != "" {
			row.Images = append(row.Images, u)
		}
		return true
	})

	return row, nil
}

// externalID derives the source-local identifier from the detail link. For
// sites whose URLs carry no stable ID, DeriveExternalID fingerprints the
// link instead so re-scrapes map to the same record.
func (a *Adapter) externalID(sel *goquery.Selection, base *url.URL) (string, error) {
	attr := a.src.Fields.LinkAttr
	if attr == "" {
		attr = "href"
	}
	raw, ok := sel.Find(a.src.Fields.Link).First().Attr(attr)
	if !ok || raw == "" {
		return "", fmt.Errorf("row has no detail link: %w", scraper.ErrUnlistable)
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("bad detail link %q: %w", raw, scraper.ErrUnlistable)
	}
	link := base.ResolveReference(ref)

	if a.src.DetailLinkParam != "" {
		if id := link.Query().Get(a.src.DetailLinkParam); id != "" {
			return id, nil
		}
	}
	return scraper.DeriveExternalID(link.String()), nil
}
