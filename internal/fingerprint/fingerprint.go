// Package fingerprint computes the content-addressed identity digest used to
// deduplicate news items across runs.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"sha256news/internal/domain"
)

// Compute derives the fingerprint of a news item from its normalized identity
// fields (title and source URL). Case is folded and whitespace collapsed, so
// re-emitted reprints of the same story with trivial textual drift in the
// body, or casing changes in the headline, collapse to one fingerprint.
// Pure and total: equal normalized identity always yields an equal digest.
func Compute(item domain.NewsItem) domain.Fingerprint {
	identity := normalize(item.Title) + "\n" + normalize(item.SourceURL)
	sum := sha256.Sum256([]byte(identity))
	return domain.Fingerprint(hex.EncodeToString(sum[:]))
}

func normalize(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}
