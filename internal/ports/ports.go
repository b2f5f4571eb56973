package ports

import (
	"context"

	"sha256news/internal/domain"
)

// FetchQuery bounds a single news-source fetch.
type FetchQuery struct {
	MaxItems int
	DaysBack int
}

// NewsSource pulls one finite batch of raw candidates from upstream providers.
type NewsSource interface {
	Fetch(ctx context.Context, query FetchQuery) ([]domain.NewsItem, error)
}

// Synthesizer turns a group of novel news items into one structured article.
type Synthesizer interface {
	Synthesize(ctx context.Context, items []domain.NewsItem) (domain.Article, error)
}

// Publisher pushes a finished article to one publishing surface. Publish must
// be safe to call twice for the same article.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, article domain.Article) (domain.PublicationRecord, error)
}

// Grouper decides how novel items are batched into articles. The orchestrator
// only requires that every consumed item ends up in exactly one group.
type Grouper interface {
	Group(items []domain.NewsItem) [][]domain.NewsItem
}

// FingerprintStore owns the dedup index. Per-fingerprint transitions are
// serialized by the implementation.
type FingerprintStore interface {
	IsNovel(ctx context.Context, fp domain.Fingerprint) (bool, error)
	RecordSeen(ctx context.Context, fp domain.Fingerprint) (domain.FingerprintRecord, error)
	Advance(ctx context.Context, fp domain.Fingerprint, state domain.State, articleID string) (domain.FingerprintRecord, error)
	MarkFailed(ctx context.Context, fp domain.Fingerprint, stage domain.Stage, reason string) error
	Get(ctx context.Context, fp domain.Fingerprint) (domain.FingerprintRecord, bool, error)
}

// RunLedger is the append-only record of pipeline executions.
type RunLedger interface {
	Append(ctx context.Context, record domain.RunRecord) error
	ListRecent(ctx context.Context, n int) ([]domain.RunRecord, error)
}
