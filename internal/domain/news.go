package domain

import "time"

// NewsItem is a raw mining-news candidate fetched from a source provider.
// Immutable once fetched.
type NewsItem struct {
	ExternalID  string
	Title       string
	Body        string
	SourceURL   string
	Source      string
	PublishedAt time.Time
}

// Fingerprint is the hex digest of a news item's normalized identity fields.
type Fingerprint string

// State enumerates fingerprint lifecycle milestones. Transitions advance
// monotonically seen -> synthesized -> published; failed is reachable from
// any non-published state and makes the fingerprint eligible for retry.
type State string

const (
	StateSeen        State = "seen"
	StateSynthesized State = "synthesized"
	StatePublished   State = "published"
	StateFailed      State = "failed"
)

// Stage identifies where in the pipeline a fingerprint failed.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageSynthesis Stage = "synthesis"
	StagePublish   Stage = "publish"
)

// FingerprintRecord tracks the processing state of one deduplicated story.
type FingerprintRecord struct {
	Fingerprint   Fingerprint
	State         State
	ArticleID     string
	FailedStage   Stage
	FailureReason string
	FirstSeenAt   time.Time
	LastUpdatedAt time.Time
}
