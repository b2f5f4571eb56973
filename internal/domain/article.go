package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Article is a generated long-form analysis built from one or more news items.
// Immutable after creation.
type Article struct {
	ID                 string        `json:"id"`
	Title              string        `json:"title"`
	Summary            string        `json:"summary"`
	KeyInsights        []string      `json:"key_insights,omitempty"`
	Body               string        `json:"body"`
	Tags               []string      `json:"tags,omitempty"`
	SourceFingerprints []Fingerprint `json:"source_fingerprints"`
	GeneratedAt        time.Time     `json:"generated_at"`
}

// ArticleID derives the short content id used for caching and file naming.
func ArticleID(title string) string {
	sum := sha256.Sum256([]byte(title))
	return hex.EncodeToString(sum[:])[:12]
}

// PublicationRecord captures one publish attempt for an (article, target) pair.
type PublicationRecord struct {
	Target        string    `json:"target"`
	ArticleID     string    `json:"article_id"`
	ExternalRef   string    `json:"external_ref,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// RunRecord summarizes one orchestrator invocation. Append-only.
type RunRecord struct {
	RunID           string              `json:"run_id"`
	StartedAt       time.Time           `json:"started_at"`
	EndedAt         time.Time           `json:"ended_at"`
	Draft           bool                `json:"draft,omitempty"`
	ItemsSeen       int                 `json:"items_seen"`
	ItemsNovel      int                 `json:"items_novel"`
	ArticlesCreated int                 `json:"articles_created"`
	Publications    []PublicationRecord `json:"publications,omitempty"`
}
