package feed

import (
	"strings"
	"testing"

	"carmarket-ingest/models"
)

const sampleFeed = `dealer_id,stock_number,title,price,mileage,transmission,vin,state,city,image_1
ACCT-100,STK1,2019 Honda Accord EX,"21,500","33,000",Automatic,1HGCV1F3XKA000001,TX,austin,https://cdn.example/a.jpg
ACCT-100,STK2,2016 Toyota RAV4 XLE,15900,61000,auto,,TX,austin,
ACCT-200,B77,2021 Ford F-150 XLT,$38999,12000,Automatic,,OK,tulsa,/img/loading.gif
,STK9,2015 Mazda 3,9000,80000,,,TX,austin,
ACCT-100,STK3,No year here,5000,10000,,,TX,austin,
`

func testDealer(account string) *models.Dealer {
	return &models.Dealer{
		AccountID:          account,
		ActivationToken:    "tok0123456789abcdefg",
		SubscriptionStatus: models.SubPending,
	}
}

func TestParseFeed(t *testing.T) {
	rows, badRows, err := Parse(strings.NewReader(sampleFeed))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	// 5 data lines: one is missing dealer_id.
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	if len(badRows) != 1 {
		t.Fatalf("expected 1 bad row, got %d: %v", len(badRows), badRows)
	}
	if !strings.Contains(badRows[0], "missing dealer_id") {
		t.Errorf("bad row message = %q; want missing dealer_id", badRows[0])
	}

	if rows[0].StockNumber != "STK1" || rows[0].Price != "21,500" {
		t.Errorf("row 0 parsed wrong: %+v", rows[0])
	}
}

func TestGroupByDealerPreservesOrder(t *testing.T) {
	rows, _, err := Parse(strings.NewReader(sampleFeed))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	batches := GroupByDealer(rows)
	if len(batches) != 2 {
		t.Fatalf("expected 2 dealer batches, got %d", len(batches))
	}
	if batches[0].AccountID != "ACCT-100" || batches[1].AccountID != "ACCT-200" {
		t.Errorf("batch order wrong: %q, %q", batches[0].AccountID, batches[1].AccountID)
	}
	if len(batches[0].Rows) != 3 {
		t.Errorf("expected 3 rows for ACCT-100, got %d", len(batches[0].Rows))
	}
	if batches[0].Rows[0].StockNumber != "STK1" || batches[0].Rows[1].StockNumber != "STK2" {
		t.Errorf("row order inside batch not preserved: %+v", batches[0].Rows)
	}
}

func TestToRawNormalizes(t *testing.T) {
	dealer := testDealer("ACCT-100")
	row := Row{
		DealerAccountID: "ACCT-100",
		StockNumber:     "STK1",
		Title:           "2019 Honda Accord EX",
		Price:           "21,500",
		Mileage:         "33,000",
		Transmission:    "auto",
		VIN:             "1hgcv1f3xka000001",
		State:           "TX",
		City:            "austin",
		Image1:          "https://cdn.example/a.jpg",
	}

	raw, err := ToRaw(row, dealer)
	if err != nil {
		t.Fatalf("ToRaw failed: %v", err)
	}

	if raw.ExternalID != "DC-tok0123456789abcdefg-STK1" {
		t.Errorf("external id = %q; want token-namespaced stock number", raw.ExternalID)
	}
	if raw.Year != 2019 || raw.Brand != "Honda" || raw.Model != "Accord EX" {
		t.Errorf("title not parsed: %d %q %q", raw.Year, raw.Brand, raw.Model)
	}
	if raw.Price != 21500 || raw.Mileage != 33000 {
		t.Errorf("amounts not coerced: price=%d mileage=%d", raw.Price, raw.Mileage)
	}
	if raw.Transmission != "Automatic" {
		t.Errorf("transmission = %q; want Automatic", raw.Transmission)
	}
	if raw.VIN != "1HGCV1F3XKA000001" {
		t.Errorf("vin = %q; want upper-cased", raw.VIN)
	}
	if len(raw.Images) != 1 || raw.Images[0] != "https://cdn.example/a.jpg" {
		t.Errorf("images = %v", raw.Images)
	}
}

func TestToRawRejectsUnlistable(t *testing.T) {
	dealer := testDealer("ACCT-100")

	if _, err := ToRaw(Row{DealerAccountID: "ACCT-100", Title: "No year here", Price: "5000"}, dealer); err == nil {
		t.Error("expected error for title without year")
	}
	if _, err := ToRaw(Row{DealerAccountID: "ACCT-100", Title: "2015 Mazda 3", Price: ""}, dealer); err == nil {
		t.Error("expected error for missing price")
	}
}

func TestToRawFingerprintsMissingStockNumber(t *testing.T) {
	dealer := testDealer("ACCT-100")
	row := Row{
		DealerAccountID: "ACCT-100",
		Title:           "2015 Mazda 3 Touring",
		Price:           "9000",
	}

	a, err := ToRaw(row, dealer)
	if err != nil {
		t.Fatalf("ToRaw failed: %v", err)
	}
	b, err := ToRaw(row, dealer)
	if err != nil {
		t.Fatalf("ToRaw failed: %v", err)
	}

	if a.ExternalID != b.ExternalID {
		t.Errorf("fingerprinted IDs differ across runs: %q vs %q", a.ExternalID, b.ExternalID)
	}
	if !strings.HasPrefix(a.ExternalID, dealer.ExternalIDPrefix()) {
		t.Errorf("fingerprinted ID %q not namespaced under dealer prefix", a.ExternalID)
	}
}
