package static

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"carmarket-ingest/config"
	"carmarket-ingest/utils"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxRetries:    1,
		PageCap:       5,
		RowsPerPage:   10,
		RateLimitMs:   0,
		FetchTimeoutS: 5,
	}
}

func testSource(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		Name:            "testlot",
		Kind:            "static",
		BaseURL:         baseURL + "/inventory",
		PageParam:       "page",
		RowSelector:     "div.lot",
		PriceMandatory:  true,
		DetailLinkParam: "vehicle_id",
		Fields: config.FieldSelectors{
			Title:     "h3.lot-title",
			Price:     "span.lot-price",
			Mileage:   "span.lot-mileage",
			Image:     "img.lot-photo",
			ImageAttr: "src",
			Link:      "a.lot-link",
			LinkAttr:  "href",
		},
	}
}

func lotHTML(title, price, mileage, link string) string {
	return fmt.Sprintf(`
		<div class="lot">
			<h3 class="lot-title">%s</h3>
			<span class="lot-price">%s</span>
			<span class="lot-mileage">%s</span>
			<img class="lot-photo" src="/photos/car.jpg">
			<a class="lot-link" href="%s">Details</a>
		</div>`, title, price, mileage, link)
}

func catalogPage(rows ...string) string {
	body := "<html><body><div id=\"inventory\">"
	for _, r := range rows {
		body += r
	}
	return body + "</div></body></html>"
}

// newCatalogServer serves one HTML body per page number. Pages listed in
// failPages answer with a 500; pages with no entry render an empty catalog.
func newCatalogServer(t *testing.T, pages map[int]string, failPages map[int]bool, requests *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if failPages[page] {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
			return
		}
		body, ok := pages[page]
		if !ok {
			body = catalogPage()
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchStopsOnEmptyPage(t *testing.T) {
	var requests int32
	srv := newCatalogServer(t, map[int]string{
		1: catalogPage(
			lotHTML("2018 Honda Civic LX", "$12,500", "33,000 mi", "/vehicle?vehicle_id=101"),
			lotHTML("2016 Toyota RAV4 XLE", "$15,900", "61,000 mi", "/vehicle?vehicle_id=102"),
		),
		2: catalogPage(
			lotHTML("2021 Ford F-150 XLT", "$38,999", "12,000 mi", "/vehicle?vehicle_id=103"),
		),
	}, nil, &requests)

	a := New(testSource(srv.URL), testConfig(), utils.NewLogger(false))
	rows, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("got %d rows; want 3", len(rows))
	}
	// Pagination stops at the first empty page, well before the page cap.
	if requests != 3 {
		t.Errorf("server saw %d requests; want 3 (two full pages + empty)", requests)
	}

	first := rows[0]
	if first.ExternalID != "101" {
		t.Errorf("external id = %q; want the detail-link param value", first.ExternalID)
	}
	if first.Year != 2018 || first.Brand != "Honda" || first.Model != "Civic LX" {
		t.Errorf("title not parsed: %d %q %q", first.Year, first.Brand, first.Model)
	}
	if first.Price != 12500 || first.Mileage != 33000 {
		t.Errorf("amounts = %d / %d; want 12500 / 33000", first.Price, first.Mileage)
	}
	if len(first.Images) != 1 || first.Images[0] != srv.URL+"/photos/car.jpg" {
		t.Errorf("images = %v; want the photo resolved against the page base", first.Images)
	}
}

func TestFetchServerErrorEndsPaginationKeepsRows(t *testing.T) {
	var requests int32
	srv := newCatalogServer(t, map[int]string{
		1: catalogPage(
			lotHTML("2018 Honda Civic LX", "$12,500", "33,000 mi", "/vehicle?vehicle_id=101"),
		),
		3: catalogPage(
			lotHTML("2021 Ford F-150 XLT", "$38,999", "12,000 mi", "/vehicle?vehicle_id=103"),
		),
	}, map[int]bool{2: true}, &requests)

	a := New(testSource(srv.URL), testConfig(), utils.NewLogger(false))
	rows, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("a failed page must not fail the fetch: %v", err)
	}

	// Page 1 survives; page 3 is never reached past the broken page 2.
	if len(rows) != 1 || rows[0].ExternalID != "101" {
		t.Fatalf("got %d rows; want only page 1's row", len(rows))
	}
	if requests != 2 {
		t.Errorf("server saw %d requests; want 2 (no request past the failure)", requests)
	}
}

func TestFetchHonorsPageCap(t *testing.T) {
	var requests int32
	pages := make(map[int]string)
	for p := 1; p <= 10; p++ {
		pages[p] = catalogPage(
			lotHTML("2018 Honda Civic LX", "$12,500", "", fmt.Sprintf("/vehicle?vehicle_id=%d", p)),
		)
	}
	srv := newCatalogServer(t, pages, nil, &requests)

	src := testSource(srv.URL)
	src.PageCap = 3
	a := New(src, testConfig(), utils.NewLogger(false))

	rows, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(rows) != 3 || requests != 3 {
		t.Errorf("rows = %d, requests = %d; want 3 and 3", len(rows), requests)
	}
}

func TestFetchHonorsRowCap(t *testing.T) {
	var requests int32
	var lots []string
	for i := 0; i < 5; i++ {
		lots = append(lots, lotHTML("2018 Honda Civic LX", "$12,500", "", fmt.Sprintf("/vehicle?vehicle_id=%d", 100+i)))
	}
	srv := newCatalogServer(t, map[int]string{1: catalogPage(lots...)}, nil, &requests)

	src := testSource(srv.URL)
	src.RowsPerPage = 3
	a := New(src, testConfig(), utils.NewLogger(false))

	rows, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("got %d rows; want truncated to 3 per page", len(rows))
	}
}

func TestFetchSkipsMalformedRows(t *testing.T) {
	var requests int32
	srv := newCatalogServer(t, map[int]string{
		1: catalogPage(
			lotHTML("2018 Honda Civic LX", "$12,500", "", "/vehicle?vehicle_id=101"),
			lotHTML("Great deal, call now!!", "$9,000", "", "/vehicle?vehicle_id=102"),
			lotHTML("2015 Mazda 3 Touring", "Price on request", "", "/vehicle?vehicle_id=103"),
			lotHTML("2016 Toyota RAV4 XLE", "$15,900", "", "/vehicle?vehicle_id=104"),
		),
	}, nil, &requests)

	a := New(testSource(srv.URL), testConfig(), utils.NewLogger(false))
	rows, err := a.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// The no-year title and the missing mandatory price are skipped; rows
	// after them on the same page still come through.
	if len(rows) != 2 {
		t.Fatalf("got %d rows; want 2", len(rows))
	}
	if rows[0].ExternalID != "101" || rows[1].ExternalID != "104" {
		t.Errorf("kept rows = %q, %q; want 101 and 104", rows[0].ExternalID, rows[1].ExternalID)
	}
}

func TestFetchFingerprintsLinkWithoutIDParam(t *testing.T) {
	var requests int32
	srv := newCatalogServer(t, map[int]string{
		1: catalogPage(
			lotHTML("2018 Honda Civic LX", "$12,500", "", "/vehicles/honda-civic-lx-blue"),
		),
	}, nil, &requests)

	src := testSource(srv.URL)
	src.DetailLinkParam = ""
	a := New(src, testConfig(), utils.NewLogger(false))

	fetchOnce := func() string {
		rows, err := a.Fetch(context.Background())
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if len(rows) != 1 {
			t.Fatalf("got %d rows; want 1", len(rows))
		}
		return rows[0].ExternalID
	}

	first := fetchOnce()
	second := fetchOnce()
	if first == "" || first != second {
		t.Errorf("fingerprinted ID not stable across runs: %q vs %q", first, second)
	}
	if len(first) != 8 {
		t.Errorf("fingerprinted ID %q has length %d; want 8", first, len(first))
	}
}
