// Package browser implements the source adapter for client-side-rendered
// dealer catalogs: a headless browser loads each page, waits for the content
// selector plus a fixed settle delay, optionally scrolls to trigger lazy
// loading, then extracts listing cards from the rendered DOM.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"carmarket-ingest/config"
	"carmarket-ingest/models"
	"carmarket-ingest/scraper"
	"carmarket-ingest/utils"
)

// Adapter drives a headless browser over one configured catalog site.
type Adapter struct {
	src    config.SourceConfig
	cfg    *config.Config
	logger *utils.Logger
	retry  *utils.RetryConfig
}

// New creates an Adapter for one configured browser-rendered site.
func New(src config.SourceConfig, cfg *config.Config, logger *utils.Logger) *Adapter {
	return &Adapter{
		src:    src,
		cfg:    cfg,
		logger: logger,
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

// cardData mirrors the object shape produced by the extraction script.
type cardData struct {
	Title        string   `json:"title"`
	Price        string   `json:"price"`
	Mileage      string   `json:"mileage"`
	Transmission string   `json:"transmission"`
	Images       []string `json:"images"`
	URL          string   `json:"url"`
}

// detailData mirrors the detail-page extraction result.
type detailData struct {
	VIN          string `json:"vin"`
	Transmission string `json:"transmission"`
	FuelType     string `json:"fuelType"`
	Description  string `json:"description"`
}

// Fetch paginates through the rendered catalog, then enriches rows from
// detail pages with a bounded worker pool. Page ordering of the output is
// not significant.
func (a *Adapter) Fetch(ctx context.Context) ([]*models.RawListing, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, a.allocatorOptions()...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	silentCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelSilent()
	allocCtx = silentCtx

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
	detailURLs := make(map[*models.RawListing]string)
	for page := 1; page <= pageCap; page++ {
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}

		cards, err := a.scrapePage(allocCtx, base, page, rowCap)
		if err != nil {
			a.logger.Warn("[%s] page %d failed, stopping pagination: %v", a.src.Name, page, err)
			break
		}
		if len(cards) == 0 {
			a.logger.Debug("[%s] page %d rendered empty — end of catalog", a.src.Name, page)
			break
		}

		rows := a.normalizeCards(cards, base, detailURLs)
		all = append(all, rows...)
		a.logger.Info("[%s] page %d done — %d rows so far", a.src.Name, page, len(all))

		if page < pageCap {
			time.Sleep(time.Duration(delay) * time.Millisecond)
		}
	}

	if a.src.Detail.Any() {
		all = a.enrichFromDetailPages(allocCtx, all, detailURLs)
	}

	return all, nil
}

func (a *Adapter) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
			"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
	)
	if bin := findChromeBinary(a.cfg.ChromeBin); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}
	return opts
}

// scrapePage renders one catalog page and extracts raw card data.
func (a *Adapter) scrapePage(allocCtx context.Context, base *url.URL, page, rowCap int) ([]cardData, error) {
	pageURL := *base
	q := pageURL.Query()
	q.Set(a.src.PageParam, strconv.Itoa(page))
	pageURL.RawQuery = q.Encode()

	settle := time.Duration(a.src.SettleMs) * time.Millisecond
	if settle == 0 {
		settle = 3 * time.Second
	}

	var cards []cardData
	err := a.retry.Do(allocCtx, fmt.Sprintf("%s-page-%d", a.src.Name, page), func() error {
		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, time.Duration(a.cfg.FetchTimeoutS)*time.Second)
		defer cancelTimeout()

		actions := []chromedp.Action{
			chromedp.Navigate(pageURL.String()),
			chromedp.WaitVisible(a.src.WaitSelector, chromedp.ByQuery),
			chromedp.Sleep(settle),
		}
		for i := 0; i < a.src.ScrollPasses; i++ {
			actions = append(actions,
				chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
				chromedp.Sleep(settle/2+time.Second),
			)
		}

		var raw string
		actions = append(actions, chromedp.Evaluate(a.extractScript(rowCap), &raw))

		if err := chromedp.Run(ctx, actions...); err != nil {
			return fmt.Errorf("chromedp page render: %w", err)
		}
		cards = cards[:0]
		if err := json.Unmarshal([]byte(raw), &cards); err != nil {
			return fmt.Errorf("decode extracted cards: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("[%s] page %d — %d cards extracted", a.src.Name, page, len(cards))
	return cards, nil
}

// extractScript builds the in-page extraction function from the configured
// selectors. It returns JSON so the result survives the CDP round trip
// untyped.
func (a *Adapter) extractScript(rowCap int) string {
	f := a.src.Fields
	attr := f.ImageAttr
	if attr == "" {
		attr = "src"
	}
	linkAttr := f.LinkAttr
	if linkAttr == "" {
		linkAttr = "href"
	}

	return fmt.Sprintf(`
		(function() {
			var out = [];
			var rows = document.querySelectorAll(%q);
			for (var i = 0; i < rows.length && out.length < %d; i++) {
				var row = rows[i];
				var pick = function(sel) {
					if (!sel) return '';
					var el = row.querySelector(sel);
					return el ? el.innerText.trim() : '';
				};
				var link = row.querySelector(%q);
				var images = [];
				row.querySelectorAll(%q).forEach(function(img) {
					if (images.length < 4 && img.getAttribute(%q)) {
						images.push(img.getAttribute(%q));
					}
				});
				out.push({
					title:        pick(%q),
					price:        pick(%q),
					mileage:      pick(%q),
					transmission: pick(%q),
					images:       images,
					url:          link ? link.getAttribute(%q) || '' : ''
				});
			}
			return JSON.stringify(out);
		})()
	`, a.src.RowSelector, rowCap, f.Link, f.Image, attr, attr,
		f.Title, f.Price, f.Mileage, f.Transmission, linkAttr)
}

// normalizeCards turns extracted DOM data into DTOs, applying the shared
// normalization rules. Bad cards are logged and skipped.
func (a *Adapter) normalizeCards(cards []cardData, base *url.URL, detailURLs map[*models.RawListing]string) []*models.RawListing {
	var rows []*models.RawListing

	for _, c := range cards {
		title := scraper.NormalizeText(c.Title)
		year, brand, model, err := scraper.ParseTitle(title)
		if err != nil {
			a.logger.Debug("[%s] card %q skipped: %v", a.src.Name, title, err)
			continue
		}

		price := scraper.ParseAmount(c.Price)
		if price == 0 && a.src.PriceMandatory {
			a.logger.Debug("[%s] card %q skipped: missing price", a.src.Name, title)
			continue
		}

		externalID, detailURL, err := a.externalID(c.URL, base)
		if err != nil {
			a.logger.Debug("[%s] card %q skipped: %v", a.src.Name, title, err)
			continue
		}

		row := &models.RawListing{
			Source:       a.Source(),
			ExternalID:   externalID,
			Title:        title,
			Brand:        brand,
			Model:        model,
			Year:         year,
			Price:        price,
			Mileage:      scraper.ParseAmount(c.Mileage),
			Transmission: scraper.NormalizeTransmission(c.Transmission),
			State:        a.src.State,
			City:         a.src.City,
			CityName:     a.src.CityName,
			Phone:        a.src.Phone,
			ScrapedAt:    time.Now(),
		}
		for _, img := range c.Images {
			if len(row.Images) >= 4 {
				break
			}
			if u := scraper.ResolveImageURL(base, img); u != "" {
				row.Images = append(row.Images, u)
			}
		}
		detailURLs[row] = detailURL
		rows = append(rows, row)
	}

	return rows
}

func (a *Adapter) externalID(rawLink string, base *url.URL) (id, detailURL string, err error) {
	if rawLink == "" {
		return "", "", fmt.Errorf("card has no detail link: %w", scraper.ErrUnlistable)
	}
	ref, err := url.Parse(rawLink)
	if err != nil {
		return "", "", fmt.Errorf("bad detail link %q: %w", rawLink, scraper.ErrUnlistable)
	}
	link := base.ResolveReference(ref)

	if a.src.DetailLinkParam != "" {
		if v := link.Query().Get(a.src.DetailLinkParam); v != "" {
			return v, link.String(), nil
		}
	}
	return scraper.DeriveExternalID(link.String()), link.String(), nil
}

// enrichFromDetailPages visits each row's detail page for fields the
// catalog page does not carry (VIN, transmission, fuel type, description).
// Fetches are independent, so they run on a small bounded pool. When a
// detail fetch fails the row is dropped if the source marks details as
// required, otherwise kept with the optional fields left empty.
func (a *Adapter) enrichFromDetailPages(allocCtx context.Context, rows []*models.RawListing, detailURLs map[*models.RawListing]string) []*models.RawListing {
	pool := utils.NewWorkerPool(a.cfg.MaxConcurrency, a.cfg.RateLimitMs)

	var mu sync.Mutex
	failed := make(map[*models.RawListing]bool)

	for _, row := range rows {
		r := row
		detailURL := detailURLs[r]
		if detailURL == "" {
			continue
		}

		pool.Submit(func() {
			det, err := a.scrapeDetailPage(allocCtx, detailURL)
			if err != nil {
				a.logger.Warn("[%s] detail page failed for %s: %v", a.src.Name, r.ExternalID, err)
				if a.src.DetailRequired {
					mu.Lock()
					failed[r] = true
					mu.Unlock()
				}
				return
			}

			if det.VIN != "" {
				r.VIN = scraper.NormalizeText(det.VIN)
			}
			if det.Transmission != "" {
				r.Transmission = scraper.NormalizeTransmission(det.Transmission)
			}
			if det.FuelType != "" {
				r.FuelType = scraper.NormalizeText(det.FuelType)
			}
			if det.Description != "" {
				r.Description = scraper.NormalizeText(det.Description)
			}
			a.logger.Debug("[%s] enriched %s", a.src.Name, r.ExternalID)
		})
	}
	pool.Wait()

	if len(failed) == 0 {
		return rows
	}
	kept := rows[:0]
	for _, r := range rows {
		if !failed[r] {
			kept = append(kept, r)
		}
	}
	a.logger.Warn("[%s] dropped %d rows with failed required detail fetches", a.src.Name, len(failed))
	return kept
}

func (a *Adapter) scrapeDetailPage(allocCtx context.Context, detailURL string) (*detailData, error) {
	d := a.src.Detail

	var det detailData
	err := a.retry.Do(allocCtx, "detail-page", func() error {
		ctx, cancel := chromedp.NewContext(allocCtx)
		defer cancel()

		ctx, cancelTimeout := context.WithTimeout(ctx, time.Duration(a.cfg.FetchTimeoutS)*time.Second)
		defer cancelTimeout()

		script := fmt.Sprintf(`
			(function() {
				var pick = function(sel) {
					if (!sel) return '';
					var el = document.querySelector(sel);
					return el ? el.innerText.trim() : '';
				};
				return JSON.stringify({
					vin:          pick(%q),
					transmission: pick(%q),
					fuelType:     pick(%q),
					description:  pick(%q)
				});
			})()
		`, d.VIN, d.Transmission, d.FuelType, d.Description)

		var raw string
		err := chromedp.Run(ctx,
			chromedp.Navigate(detailURL),
			chromedp.Sleep(2*time.Second),
			chromedp.Evaluate(script, &raw),
		)
		if err != nil {
			return fmt.Errorf("chromedp detail extract: %w", err)
		}
		return json.Unmarshal([]byte(raw), &det)
	})
	if err != nil {
		return nil, err
	}
	return &det, nil
}

// findChromeBinary locates the Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
