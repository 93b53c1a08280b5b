package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"carmarket-ingest/models"
	"carmarket-ingest/utils"
)

// ObjectStore is the platform object storage the relocated images land in.
type ObjectStore interface {
	// Exists reports whether an object is already stored under key.
	Exists(key string) bool
	// Put stores the object bytes under key and returns its public URL.
	Put(key string, body io.Reader) (string, error)
	// URL returns the public URL for an existing key.
	URL(key string) string
}

// ImageRelocator downloads externally hosted listing images and re-hosts
// them in platform storage. Relocation is best-effort and idempotent: a
// failure leaves the external URL in place, and an already-stored image is
// never fetched again.
type ImageRelocator struct {
	store      ObjectStore
	client     *http.Client
	hostPrefix string
	logger     *utils.Logger
}

// NewImageRelocator creates an ImageRelocator over the given object store.
func NewImageRelocator(store ObjectStore, logger *utils.Logger) *ImageRelocator {
	return &ImageRelocator{
		store:      store,
		client:     &http.Client{Timeout: 30 * time.Second},
		hostPrefix: store.URL(""),
		logger:     logger,
	}
}

// Relocate rewrites the row's image URLs to platform-hosted copies where it
// can. Keys are addressed by record and slot, so a re-run of the same
// record short-circuits on Exists instead of re-uploading.
func (ir *ImageRelocator) Relocate(ctx context.Context, raw *models.RawListing) {
	for i, src := range raw.Images {
		if src == "" || ir.alreadyHosted(src) {
			continue
		}

		key := objectKey(raw.Source, raw.ExternalID, i, src)
		if ir.store.Exists(key) {
			raw.Images[i] = ir.store.URL(key)
			continue
		}

		hosted, err := ir.fetchAndStore(ctx, src, key)
		if err != nil {
			// Best-effort: the external URL stays in place for this slot.
			ir.logger.Warn("[images] %s/%s slot %d kept external URL: %v", raw.Source, raw.ExternalID, i, err)
			continue
		}
		raw.Images[i] = hosted
	}
}

func (ir *ImageRelocator) fetchAndStore(ctx context.Context, src, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := ir.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", src, resp.StatusCode)
	}

	hosted, err := ir.store.Put(key, resp.Body)
	if err != nil {
		return "", fmt.Errorf("store %s: %w", key, err)
	}
	return hosted, nil
}

// alreadyHosted recognizes URLs that already point at platform storage,
// whatever base URL the store is configured with.
func (ir *ImageRelocator) alreadyHosted(src string) bool {
	return strings.HasPrefix(src, ir.hostPrefix)
}

// objectKey builds the content-addressed-by-record storage key:
// {source}/{external_id}/{slot}{ext}.
func objectKey(source models.Source, externalID string, slot int, src string) string {
	ext := strings.ToLower(path.Ext(stripQuery(src)))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
	default:
		ext = ".jpg"
	}
	return fmt.Sprintf("%s/%s/%d%s", source, sanitizeKeyPart(externalID), slot, ext)
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// sanitizeKeyPart keeps external IDs filesystem- and URL-safe.
func sanitizeKeyPart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
