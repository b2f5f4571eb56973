package app

import (
	"context"
	"fmt"
	"log/slog"

	"sha256news/internal/config"
	"sha256news/internal/domain"
	"sha256news/internal/fingerprint"
	"sha256news/internal/infrastructure/eventregistry"
	"sha256news/internal/infrastructure/gemini"
	"sha256news/internal/infrastructure/github"
	"sha256news/internal/infrastructure/parser"
	"sha256news/internal/infrastructure/storage"
	"sha256news/internal/infrastructure/twitter"
	"sha256news/internal/logging"
	"sha256news/internal/ports"
	"sha256news/internal/scanner"
	"sha256news/internal/usecase"
)

// Application wires configs to use cases and exposes the invocation surface.
type Application struct {
	cfg         config.Config
	logger      *slog.Logger
	source      ports.NewsSource
	synthesizer ports.Synthesizer
	publishers  []ports.Publisher
	store       ports.FingerprintStore
	ledger      ports.RunLedger
	pipeline    *usecase.Pipeline
	cleanup     func()
}

// New builds a runnable application instance. With an empty database DSN the
// fingerprint store and run ledger are in-memory and last one process.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.LevelOrDefault())
	}

	registry := scanner.NewRegistry()
	registry.Register(eventregistry.NewClient(nil))
	registry.Register(parser.NewNewsroomScanner(nil))

	source := parser.NewStrategySource(registry, cfg.Sources, baseLogger.With("component", "source"))
	synthesizer := gemini.NewClient(cfg.Gemini)

	githubPublisher := github.NewPublisher(cfg.GitHub, baseLogger.With("component", "publisher.github"))
	twitterPublisher := twitter.NewPublisher(cfg.Twitter, githubPublisher.ArticleURL)

	available := map[string]ports.Publisher{
		githubPublisher.Name():  githubPublisher,
		twitterPublisher.Name(): twitterPublisher,
	}

	publishers := make([]ports.Publisher, 0, len(cfg.Pipeline.TargetOrder))
	for _, name := range cfg.Pipeline.TargetOrder {
		publisher, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("unknown publication target %q", name)
		}
		publishers = append(publishers, publisher)
	}

	var (
		store   ports.FingerprintStore
		ledger  ports.RunLedger
		cleanup = func() {}
	)
	if cfg.Database.DSN != "" {
		db, err := storage.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		store = storage.NewPostgresStore(db)
		ledger = storage.NewPostgresLedger(db)
		cleanup = func() { _ = db.Close() }
	} else {
		baseLogger.Warn("no database DSN configured; dedup state will not survive restarts")
		store = storage.NewMemoryStore()
		ledger = storage.NewMemoryLedger()
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:      source,
		Synthesizer: synthesizer,
		Publishers:  publishers,
		Store:       store,
		Ledger:      ledger,
		Logger:      baseLogger.With("component", "pipeline"),
	})

	return &Application{
		cfg:         cfg,
		logger:      baseLogger,
		source:      source,
		synthesizer: synthesizer,
		publishers:  publishers,
		store:       store,
		ledger:      ledger,
		pipeline:    pipeline,
		cleanup:     cleanup,
	}, nil
}

// Close releases held resources.
func (a *Application) Close() {
	if a.cleanup != nil {
		a.cleanup()
	}
}

// FetchNews pulls one bounded batch and annotates each item with its
// fingerprint and novelty.
func (a *Application) FetchNews(ctx context.Context) ([]FetchedItem, error) {
	items, err := a.source.Fetch(ctx, ports.FetchQuery{
		MaxItems: a.cfg.Pipeline.MaxItemsPerRun,
		DaysBack: a.cfg.Pipeline.DaysBack,
	})
	if err != nil {
		return nil, &domain.FetchError{Err: err}
	}

	annotated := make([]FetchedItem, 0, len(items))
	for _, item := range items {
		fp := fingerprint.Compute(item)
		novel, err := a.store.IsNovel(ctx, fp)
		if err != nil {
			return nil, fmt.Errorf("novelty check: %w", err)
		}
		annotated = append(annotated, FetchedItem{Item: item, Fingerprint: fp, Novel: novel})
	}
	return annotated, nil
}

// FetchedItem pairs a raw item with its dedup identity.
type FetchedItem struct {
	Item        domain.NewsItem    `json:"item"`
	Fingerprint domain.Fingerprint `json:"fingerprint"`
	Novel       bool               `json:"novel"`
}

// SynthesizeArticle generates one article from the given items without
// touching pipeline state.
func (a *Application) SynthesizeArticle(ctx context.Context, items []domain.NewsItem) (domain.Article, error) {
	article, err := a.synthesizer.Synthesize(ctx, items)
	if err != nil {
		return domain.Article{}, err
	}
	article.ID = domain.ArticleID(article.Title)
	return article, nil
}

// Publish pushes an article to every configured target in order and returns
// one record per target.
func (a *Application) Publish(ctx context.Context, article domain.Article) []domain.PublicationRecord {
	records := make([]domain.PublicationRecord, 0, len(a.publishers))
	for _, publisher := range a.publishers {
		record, err := publisher.Publish(ctx, article)
		if err != nil {
			a.logger.Warn("publication failed", "target", publisher.Name(), "error", err)
			record = domain.PublicationRecord{
				Target:        publisher.Name(),
				ArticleID:     article.ID,
				Success:       false,
				FailureReason: err.Error(),
			}
		}
		records = append(records, record)
	}
	return records
}

// RunPipeline executes the full fetch-to-publish sequence once.
func (a *Application) RunPipeline(ctx context.Context, draft bool) (domain.RunRecord, error) {
	return a.pipeline.RunOnce(ctx, usecase.Options{
		MaxItems:      a.cfg.Pipeline.MaxItemsPerRun,
		DaysBack:      a.cfg.Pipeline.DaysBack,
		Concurrency:   a.cfg.Pipeline.Concurrency,
		CallTimeout:   a.cfg.Pipeline.CallTimeout,
		PrimaryTarget: a.cfg.Pipeline.PrimaryTarget,
		Draft:         draft || a.cfg.Pipeline.Draft,
	})
}

// RecentRuns lists the newest ledger entries.
func (a *Application) RecentRuns(ctx context.Context, n int) ([]domain.RunRecord, error) {
	return a.ledger.ListRecent(ctx, n)
}
