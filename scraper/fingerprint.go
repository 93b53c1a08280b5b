package scraper

import (
	"strings"

	"github.com/google/uuid"
)

// externalIDNamespace seeds the deterministic fingerprint IDs. Changing it
// would orphan every fallback-keyed listing, so it never changes.
var externalIDNamespace = uuid.MustParse("9f2c4d66-1b7a-4c08-8d35-52e10b8e6a41")

// DeriveExternalID builds a stable fallback identifier for sources without
// a usable listing ID. The same content key always maps to the same record
// across runs. The UUID is truncated to its first block to match the short
// opaque IDs surfaced by source pages.
func DeriveExternalID(contentKey string) string {
	id := uuid.NewSHA1(externalIDNamespace, []byte(contentKey))
	return strings.SplitN(id.String(), "-", 2)[0]
}
