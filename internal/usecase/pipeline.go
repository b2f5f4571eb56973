package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"sha256news/internal/domain"
	"sha256news/internal/fingerprint"
	"sha256news/internal/logging"
	"sha256news/internal/ports"
)

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source      ports.NewsSource
	Synthesizer ports.Synthesizer
	Publishers  []ports.Publisher
	Grouper     ports.Grouper
	Store       ports.FingerprintStore
	Ledger      ports.RunLedger
	Logger      *slog.Logger
}

// Options bounds a single run.
type Options struct {
	MaxItems      int
	DaysBack      int
	Concurrency   int
	CallTimeout   time.Duration
	PrimaryTarget string
	Draft         bool
}

func (o Options) withDefaults() Options {
	if o.MaxItems <= 0 {
		o.MaxItems = 10
	}
	if o.DaysBack <= 0 {
		o.DaysBack = 1
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	return o
}

// Pipeline drives one fetch -> filter -> synthesize -> publish sequence and
// records outcomes in the fingerprint store and run ledger.
type Pipeline struct {
	source      ports.NewsSource
	synthesizer ports.Synthesizer
	publishers  []ports.Publisher
	grouper     ports.Grouper
	store       ports.FingerprintStore
	ledger      ports.RunLedger
	logger      *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	grouper := deps.Grouper
	if grouper == nil {
		grouper = BatchGrouper{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		source:      deps.Source,
		synthesizer: deps.Synthesizer,
		publishers:  deps.Publishers,
		grouper:     grouper,
		store:       deps.Store,
		ledger:      deps.Ledger,
		logger:      logger,
	}
}

// RunOnce executes the full pipeline once. A fetch failure aborts the run
// before any state mutation; every later stage failure is recorded per item
// or per target and never aborts the run. Repeated runs over an unchanged
// source batch are no-ops beyond appending a run record.
func (p *Pipeline) RunOnce(ctx context.Context, opts Options) (domain.RunRecord, error) {
	opts = opts.withDefaults()

	record := domain.RunRecord{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Draft:     opts.Draft,
	}

	runLog := logging.WithRun(p.logger, record.RunID)
	runLog.Info("pipeline run started", "draft", opts.Draft, "maxItems", opts.MaxItems)

	items, err := p.fetch(ctx, opts)
	if err != nil {
		return domain.RunRecord{}, &domain.FetchError{Err: err}
	}
	record.ItemsSeen = len(items)

	novel := p.filter(ctx, items)
	record.ItemsNovel = len(novel)

	articles := p.synthesize(ctx, opts, novel)
	record.ArticlesCreated = len(articles)

	if !opts.Draft {
		record.Publications = p.publish(ctx, opts, articles)
	}

	record.EndedAt = time.Now().UTC()
	if p.ledger != nil {
		if err := p.ledger.Append(ctx, record); err != nil {
			runLog.Error("append run record", "error", err)
		}
	}

	runLog.Info("pipeline run finished",
		"seen", record.ItemsSeen,
		"novel", record.ItemsNovel,
		"articles", record.ArticlesCreated,
		"publications", len(record.Publications))

	return record, nil
}

func (p *Pipeline) fetch(ctx context.Context, opts Options) ([]domain.NewsItem, error) {
	callCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
	defer cancel()

	items, err := p.source.Fetch(callCtx, ports.FetchQuery{MaxItems: opts.MaxItems, DaysBack: opts.DaysBack})
	if err != nil {
		return nil, err
	}

	if len(items) > opts.MaxItems {
		items = items[:opts.MaxItems]
	}
	return items, nil
}

// filter deduplicates the batch against itself and against the store, and
// records every surviving item as seen.
func (p *Pipeline) filter(ctx context.Context, items []domain.NewsItem) []domain.NewsItem {
	var novel []domain.NewsItem
	inBatch := map[domain.Fingerprint]struct{}{}

	for _, item := range items {
		fp := fingerprint.Compute(item)
		if _, ok := inBatch[fp]; ok {
			continue
		}
		inBatch[fp] = struct{}{}

		isNovel, err := p.store.IsNovel(ctx, fp)
		if err != nil {
			p.logger.Error("novelty check", "fingerprint", fp, "error", err)
			continue
		}
		if !isNovel {
			continue
		}

		if _, err := p.store.RecordSeen(ctx, fp); err != nil {
			p.logger.Error("record seen", "fingerprint", fp, "error", err)
			continue
		}
		novel = append(novel, item)
	}

	return novel
}

// synthesize runs the generator once per group. A failing group marks only
// its own fingerprints; other groups proceed.
func (p *Pipeline) synthesize(ctx context.Context, opts Options, novel []domain.NewsItem) []domain.Article {
	if len(novel) == 0 {
		return nil
	}

	groups := p.grouper.Group(novel)

	var (
		mu       sync.Mutex
		articles []domain.Article
	)

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Concurrency)

	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		group := group
		eg.Go(func() error {
			fps := make([]domain.Fingerprint, len(group))
			for i, item := range group {
				fps[i] = fingerprint.Compute(item)
			}

			callCtx, cancel := context.WithTimeout(groupCtx, opts.CallTimeout)
			article, err := p.synthesizer.Synthesize(callCtx, group)
			cancel()
			if err != nil {
				p.logger.Warn("synthesis failed", "items", len(group), "error", err)
				p.failGroup(ctx, fps, domain.StageSynthesis, domain.ReasonSynthesisError)
				return nil
			}

			article.ID = domain.ArticleID(article.Title)
			article.SourceFingerprints = fps
			article.GeneratedAt = time.Now().UTC()

			for _, fp := range fps {
				if _, err := p.store.Advance(ctx, fp, domain.StateSynthesized, article.ID); err != nil {
					p.logger.Error("advance to synthesized", "fingerprint", fp, "error", err)
				}
			}

			mu.Lock()
			articles = append(articles, article)
			mu.Unlock()
			return nil
		})
	}

	_ = eg.Wait()
	return articles
}

// publish fans each article out to every configured target in order. One
// target's failure never suppresses another's attempt; fingerprints advance
// to published only when the primary target succeeded.
func (p *Pipeline) publish(ctx context.Context, opts Options, articles []domain.Article) []domain.PublicationRecord {
	var (
		mu      sync.Mutex
		results []domain.PublicationRecord
	)

	eg, _ := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Concurrency)

	for _, article := range articles {
		article := article
		eg.Go(func() error {
			primaryOK := false

			for _, publisher := range p.publishers {
				callCtx, cancel := context.WithTimeout(ctx, opts.CallTimeout)
				pub, err := publisher.Publish(callCtx, article)
				cancel()
				if err != nil {
					p.logger.Warn("publication failed", "target", publisher.Name(), "article", article.ID, "error", err)
					pub = domain.PublicationRecord{
						Target:        publisher.Name(),
						ArticleID:     article.ID,
						PublishedAt:   time.Now().UTC(),
						Success:       false,
						FailureReason: failureReason(err),
					}
				}
				if pub.Success && publisher.Name() == opts.PrimaryTarget {
					primaryOK = true
				}

				mu.Lock()
				results = append(results, pub)
				mu.Unlock()
			}

			if primaryOK {
				for _, fp := range article.SourceFingerprints {
					if _, err := p.store.Advance(ctx, fp, domain.StatePublished, article.ID); err != nil {
						p.logger.Error("advance to published", "fingerprint", fp, "error", err)
					}
				}
			} else {
				// Without the primary surface the story is retried in full
				// next run, including re-synthesis.
				p.failGroup(ctx, article.SourceFingerprints, domain.StagePublish, domain.ReasonPublishError)
			}
			return nil
		})
	}

	_ = eg.Wait()
	return results
}

func (p *Pipeline) failGroup(ctx context.Context, fps []domain.Fingerprint, stage domain.Stage, reason string) {
	for _, fp := range fps {
		if err := p.store.MarkFailed(ctx, fp, stage, reason); err != nil {
			p.logger.Error("mark failed", "fingerprint", fp, "stage", stage, "error", err)
		}
	}
}

func failureReason(err error) string {
	var pubErr *domain.PublicationError
	if errors.As(err, &pubErr) && pubErr.Reason != "" {
		return pubErr.Reason
	}
	return err.Error()
}

// BatchGrouper aggregates the whole novel batch into a single article, the
// default policy for daily digests.
type BatchGrouper struct{}

// Group returns one group containing every item.
func (BatchGrouper) Group(items []domain.NewsItem) [][]domain.NewsItem {
	if len(items) == 0 {
		return nil
	}
	return [][]domain.NewsItem{items}
}

// ItemGrouper produces one article per news item.
type ItemGrouper struct{}

// Group returns a singleton group per item.
func (ItemGrouper) Group(items []domain.NewsItem) [][]domain.NewsItem {
	groups := make([][]domain.NewsItem, 0, len(items))
	for _, item := range items {
		groups = append(groups, []domain.NewsItem{item})
	}
	return groups
}
