package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"carmarket-ingest/models"
	"carmarket-ingest/storage"
	"carmarket-ingest/utils"
)

func newImageTestServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch {
		case strings.HasSuffix(r.URL.Path, ".jpg"):
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write([]byte("jpeg-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRelocator(t *testing.T) (*ImageRelocator, *storage.LocalObjectStore) {
	t.Helper()
	store, err := storage.NewLocalObjectStore(t.TempDir(), "https://market.example/media/listings")
	if err != nil {
		t.Fatalf("object store: %v", err)
	}
	return NewImageRelocator(store, utils.NewLogger(false)), store
}

func TestRelocateRewritesToHostedURL(t *testing.T) {
	var hits int32
	srv := newImageTestServer(t, &hits)
	ir, store := newTestRelocator(t)

	raw := &models.RawListing{
		Source:     models.SourcePlazaMotors,
		ExternalID: "aaa11111",
		Images:     []string{srv.URL + "/photos/front.jpg", srv.URL + "/photos/rear.jpg"},
		ScrapedAt:  time.Now(),
	}
	ir.Relocate(context.Background(), raw)

	for i, u := range raw.Images {
		if !strings.HasPrefix(u, "https://market.example/media/listings/plazamotors/aaa11111/") {
			t.Errorf("slot %d = %q; want platform-hosted URL", i, u)
		}
	}
	if !store.Exists("plazamotors/aaa11111/0.jpg") || !store.Exists("plazamotors/aaa11111/1.jpg") {
		t.Error("objects not stored under record/slot keys")
	}
	if hits != 2 {
		t.Errorf("origin fetched %d times; want 2", hits)
	}
}

func TestRelocateIsIdempotent(t *testing.T) {
	var hits int32
	srv := newImageTestServer(t, &hits)
	ir, _ := newTestRelocator(t)

	external := srv.URL + "/photos/front.jpg"
	first := &models.RawListing{
		Source:     models.SourcePlazaMotors,
		ExternalID: "aaa11111",
		Images:     []string{external},
	}
	ir.Relocate(context.Background(), first)

	// Same record re-scraped: still carrying the external URL, but the
	// object already exists, so no second download happens.
	second := &models.RawListing{
		Source:     models.SourcePlazaMotors,
		ExternalID: "aaa11111",
		Images:     []string{external},
	}
	ir.Relocate(context.Background(), second)

	if hits != 1 {
		t.Errorf("origin fetched %d times across two runs; want 1", hits)
	}
	if second.Images[0] != first.Images[0] {
		t.Errorf("hosted URL drifted between runs: %q vs %q", first.Images[0], second.Images[0])
	}

	// Already-hosted URLs are left alone entirely.
	ir.Relocate(context.Background(), second)
	if hits != 1 {
		t.Errorf("hosted URL re-fetched; hits = %d", hits)
	}
}

func TestRelocateKeepsExternalURLOnFailure(t *testing.T) {
	var hits int32
	srv := newImageTestServer(t, &hits)
	ir, _ := newTestRelocator(t)

	good := srv.URL + "/photos/ok.jpg"
	bad := srv.URL + "/photos/missing.png"
	raw := &models.RawListing{
		Source:     models.SourceRidgelineAuto,
		ExternalID: "bbb22222",
		Images:     []string{bad, good},
	}
	ir.Relocate(context.Background(), raw)

	if raw.Images[0] != bad {
		t.Errorf("failed slot = %q; want the external URL kept", raw.Images[0])
	}
	if !strings.HasPrefix(raw.Images[1], "https://market.example/media/listings/") {
		t.Errorf("good slot = %q; want relocated despite sibling failure", raw.Images[1])
	}
}

func TestAlreadyHostedFollowsConfiguredBase(t *testing.T) {
	var hits int32
	srv := newImageTestServer(t, &hits)

	store, err := storage.NewLocalObjectStore(t.TempDir(), "https://cdn.example/vehicle-photos")
	if err != nil {
		t.Fatalf("object store: %v", err)
	}
	ir := NewImageRelocator(store, utils.NewLogger(false))

	raw := &models.RawListing{
		Source:     models.SourcePlazaMotors,
		ExternalID: "aaa11111",
		Images: []string{
			"https://cdn.example/vehicle-photos/plazamotors/aaa11111/0.jpg",
			srv.URL + "/photos/front.jpg",
		},
	}
	ir.Relocate(context.Background(), raw)

	if hits != 1 {
		t.Errorf("origin fetched %d times; want 1 — the hosted slot must be skipped", hits)
	}
	if raw.Images[0] != "https://cdn.example/vehicle-photos/plazamotors/aaa11111/0.jpg" {
		t.Errorf("hosted slot rewritten to %q", raw.Images[0])
	}
	if !strings.HasPrefix(raw.Images[1], "https://cdn.example/vehicle-photos/") {
		t.Errorf("external slot = %q; want relocated under the configured base", raw.Images[1])
	}
}

func TestObjectKeySanitizesAndDefaults(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"https://cdn.example/a.JPG?w=800", "dealer_feed/DC-tok-STK_1/0.jpg"},
		{"https://cdn.example/a.webp", "dealer_feed/DC-tok-STK_1/0.webp"},
		{"https://cdn.example/render", "dealer_feed/DC-tok-STK_1/0.jpg"},
	}
	for _, tt := range tests {
		if got := objectKey(models.SourceDealerFeed, "DC-tok-STK/1", 0, tt.src); got != tt.want {
			t.Errorf("objectKey(%q) = %q; want %q", tt.src, got, tt.want)
		}
	}
}
