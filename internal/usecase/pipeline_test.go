package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sha256news/internal/domain"
	"sha256news/internal/fingerprint"
	"sha256news/internal/infrastructure/storage"
	"sha256news/internal/ports"
)

type fakeSource struct {
	items []domain.NewsItem
	err   error
	calls int
}

func (s *fakeSource) Fetch(ctx context.Context, query ports.FetchQuery) ([]domain.NewsItem, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

type fakeSynthesizer struct {
	mu    sync.Mutex
	calls int
	fail  func(items []domain.NewsItem) bool
}

func (s *fakeSynthesizer) Synthesize(ctx context.Context, items []domain.NewsItem) (domain.Article, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.fail != nil && s.fail(items) {
		return domain.Article{}, &domain.SynthesisError{Reason: "model refused"}
	}

	titles := make([]string, len(items))
	for i, item := range items {
		titles[i] = item.Title
	}
	return domain.Article{
		Title:   "Mining digest: " + strings.Join(titles, "; "),
		Summary: "what moved the hashrate today",
		Body:    "full analysis",
	}, nil
}

func (s *fakeSynthesizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakePublisher struct {
	name  string
	mu    sync.Mutex
	calls int
	fail  bool
}

func (p *fakePublisher) Name() string { return p.name }

func (p *fakePublisher) Publish(ctx context.Context, article domain.Article) (domain.PublicationRecord, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.fail {
		return domain.PublicationRecord{}, &domain.PublicationError{Target: p.name, Reason: domain.ReasonPublishError}
	}
	return domain.PublicationRecord{
		Target:      p.name,
		ArticleID:   article.ID,
		ExternalRef: fmt.Sprintf("https://%s.example/%s", p.name, article.ID),
		PublishedAt: time.Now().UTC(),
		Success:     true,
	}, nil
}

func (p *fakePublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type pipelineFixture struct {
	source    *fakeSource
	synth     *fakeSynthesizer
	primary   *fakePublisher
	secondary *fakePublisher
	store     *storage.MemoryStore
	ledger    *storage.MemoryLedger
	pipeline  *Pipeline
}

func newFixture(items []domain.NewsItem, grouper ports.Grouper) *pipelineFixture {
	f := &pipelineFixture{
		source:    &fakeSource{items: items},
		synth:     &fakeSynthesizer{},
		primary:   &fakePublisher{name: "github"},
		secondary: &fakePublisher{name: "twitter"},
		store:     storage.NewMemoryStore(),
		ledger:    storage.NewMemoryLedger(),
	}
	f.pipeline = NewPipeline(PipelineDeps{
		Source:      f.source,
		Synthesizer: f.synth,
		Publishers:  []ports.Publisher{f.primary, f.secondary},
		Grouper:     grouper,
		Store:       f.store,
		Ledger:      f.ledger,
	})
	return f
}

func runOptions() Options {
	return Options{
		MaxItems:      10,
		Concurrency:   2,
		CallTimeout:   time.Second,
		PrimaryTarget: "github",
	}
}

func mustState(t *testing.T, store *storage.MemoryStore, item domain.NewsItem) domain.FingerprintRecord {
	t.Helper()
	record, ok, err := store.Get(context.Background(), fingerprint.Compute(item))
	if err != nil {
		t.Fatalf("get fingerprint: %v", err)
	}
	if !ok {
		t.Fatalf("no record for %q", item.Title)
	}
	return record
}

func TestRunOnceHappyPath(t *testing.T) {
	t.Parallel()

	items := []domain.NewsItem{
		{Title: "Pool X hashrate rises", SourceURL: "u1"},
		{Title: "Difficulty adjustment hits record", SourceURL: "u2"},
	}
	f := newFixture(items, nil)

	record, err := f.pipeline.RunOnce(context.Background(), runOptions())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	if record.ItemsSeen != 2 || record.ItemsNovel != 2 {
		t.Fatalf("unexpected counts: seen=%d novel=%d", record.ItemsSeen, record.ItemsNovel)
	}
	if record.ArticlesCreated != 1 {
		t.Fatalf("expected one digest article, got %d", record.ArticlesCreated)
	}
	if len(record.Publications) != 2 {
		t.Fatalf("expected 2 publication records, got %d", len(record.Publications))
	}
	for _, item := range items {
		if state := mustState(t, f.store, item).State; state != domain.StatePublished {
			t.Errorf("item %q state = %s, want published", item.Title, state)
		}
	}
}

func TestRunOnceIdempotent(t *testing.T) {
	t.Parallel()

	items := []domain.NewsItem{{Title: "Pool X hashrate rises", SourceURL: "u1"}}
	f := newFixture(items, nil)
	ctx := context.Background()

	first, err := f.pipeline.RunOnce(ctx, runOptions())
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.pipeline.RunOnce(ctx, runOptions())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.ItemsNovel != 1 {
		t.Fatalf("first run novel = %d, want 1", first.ItemsNovel)
	}
	if second.ItemsNovel != 0 || second.ArticlesCreated != 0 || len(second.Publications) != 0 {
		t.Fatalf("second run mutated state: %+v", second)
	}
	if got := f.synth.callCount(); got != 1 {
		t.Fatalf("synthesizer called %d times, want 1", got)
	}
	if got := f.primary.callCount(); got != 1 {
		t.Fatalf("primary target called %d times, want 1", got)
	}

	runs, err := f.ledger.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 run records, got %d", len(runs))
	}
}

func TestBatchCollapsesReprints(t *testing.T) {
	t.Parallel()

	items := []domain.NewsItem{
		{Title: "Pool X hashrate rises", SourceURL: "u1", Body: "original"},
		{Title: "pool x hashrate rises", SourceURL: "u1", Body: "reprint"},
	}
	f := newFixture(items, nil)

	record, err := f.pipeline.RunOnce(context.Background(), runOptions())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	if record.ItemsSeen != 2 {
		t.Fatalf("items seen = %d, want 2", record.ItemsSeen)
	}
	if record.ItemsNovel != 1 {
		t.Fatalf("reprints must collapse to one novel item, got %d", record.ItemsNovel)
	}
}

func TestSynthesisFailureIsolation(t *testing.T) {
	t.Parallel()

	good := domain.NewsItem{Title: "Pool X hashrate rises", SourceURL: "u1"}
	bad := domain.NewsItem{Title: "broken story", SourceURL: "u2"}

	f := newFixture([]domain.NewsItem{good, bad}, ItemGrouper{})
	f.synth.fail = func(items []domain.NewsItem) bool {
		return len(items) == 1 && items[0].Title == bad.Title
	}

	record, err := f.pipeline.RunOnce(context.Background(), runOptions())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	if record.ArticlesCreated != 1 {
		t.Fatalf("expected one article from the surviving group, got %d", record.ArticlesCreated)
	}

	goodRecord := mustState(t, f.store, good)
	if goodRecord.State != domain.StatePublished {
		t.Errorf("good item state = %s, want published", goodRecord.State)
	}

	badRecord := mustState(t, f.store, bad)
	if badRecord.State != domain.StateFailed {
		t.Fatalf("bad item state = %s, want failed", badRecord.State)
	}
	if badRecord.FailedStage != domain.StageSynthesis || badRecord.FailureReason != domain.ReasonSynthesisError {
		t.Errorf("bad item stage/reason = %s/%s", badRecord.FailedStage, badRecord.FailureReason)
	}
}

func TestSecondaryTargetFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	item := domain.NewsItem{Title: "Pool X hashrate rises", SourceURL: "u1"}
	f := newFixture([]domain.NewsItem{item}, nil)
	f.secondary.fail = true

	record, err := f.pipeline.RunOnce(context.Background(), runOptions())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	if len(record.Publications) != 2 {
		t.Fatalf("expected both targets attempted, got %d records", len(record.Publications))
	}

	outcomes := map[string]bool{}
	for _, pub := range record.Publications {
		outcomes[pub.Target] = pub.Success
	}
	if !outcomes["github"] || outcomes["twitter"] {
		t.Fatalf("unexpected outcomes: %v", outcomes)
	}

	if state := mustState(t, f.store, item).State; state != domain.StatePublished {
		t.Fatalf("primary succeeded, state = %s, want published", state)
	}
}

func TestPrimaryFailureForcesFullRetry(t *testing.T) {
	t.Parallel()

	item := domain.NewsItem{Title: "Pool X hashrate rises", SourceURL: "u1"}
	f := newFixture([]domain.NewsItem{item}, nil)
	f.primary.fail = true
	ctx := context.Background()

	if _, err := f.pipeline.RunOnce(ctx, runOptions()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	failed := mustState(t, f.store, item)
	if failed.State != domain.StateFailed || failed.FailureReason != domain.ReasonPublishError {
		t.Fatalf("after primary failure: state=%s reason=%s", failed.State, failed.FailureReason)
	}

	f.primary.fail = false
	second, err := f.pipeline.RunOnce(ctx, runOptions())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.ItemsNovel != 1 {
		t.Fatalf("failed item must be novel again, got %d", second.ItemsNovel)
	}
	if got := f.synth.callCount(); got != 2 {
		t.Fatalf("expected re-synthesis on retry, synth calls = %d", got)
	}
	if state := mustState(t, f.store, item).State; state != domain.StatePublished {
		t.Fatalf("retry state = %s, want published", state)
	}
}

func TestFetchErrorAbortsBeforeStateMutation(t *testing.T) {
	t.Parallel()

	f := newFixture(nil, nil)
	f.source.err = errors.New("source rate limited")
	ctx := context.Background()

	_, err := f.pipeline.RunOnce(ctx, runOptions())

	var fetchErr *domain.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}

	runs, lErr := f.ledger.ListRecent(ctx, 10)
	if lErr != nil {
		t.Fatalf("list recent: %v", lErr)
	}
	if len(runs) != 0 {
		t.Fatalf("aborted fetch must not append a run record, got %d", len(runs))
	}
}

func TestDraftStopsBeforePublishing(t *testing.T) {
	t.Parallel()

	item := domain.NewsItem{Title: "Pool X hashrate rises", SourceURL: "u1"}
	f := newFixture([]domain.NewsItem{item}, nil)

	opts := runOptions()
	opts.Draft = true

	record, err := f.pipeline.RunOnce(context.Background(), opts)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}

	if !record.Draft || record.ArticlesCreated != 1 {
		t.Fatalf("unexpected draft record: %+v", record)
	}
	if len(record.Publications) != 0 || f.primary.callCount() != 0 {
		t.Fatal("draft run must not touch publication targets")
	}
	if state := mustState(t, f.store, item).State; state != domain.StateSynthesized {
		t.Fatalf("draft state = %s, want synthesized", state)
	}
}

func TestMaxItemsBoundsRun(t *testing.T) {
	t.Parallel()

	var items []domain.NewsItem
	for i := 0; i < 25; i++ {
		items = append(items, domain.NewsItem{
			Title:     fmt.Sprintf("story %d", i),
			SourceURL: fmt.Sprintf("u%d", i),
		})
	}
	f := newFixture(items, nil)

	opts := runOptions()
	opts.MaxItems = 5

	record, err := f.pipeline.RunOnce(context.Background(), opts)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if record.ItemsSeen != 5 {
		t.Fatalf("items seen = %d, want 5", record.ItemsSeen)
	}
}

func TestArticleBackReferencesCoverGroup(t *testing.T) {
	t.Parallel()

	items := []domain.NewsItem{
		{Title: "Pool X hashrate rises", SourceURL: "u1"},
		{Title: "Difficulty adjustment hits record", SourceURL: "u2"},
	}

	var captured domain.Article
	f := newFixture(items, nil)
	f.pipeline = NewPipeline(PipelineDeps{
		Source:      f.source,
		Synthesizer: f.synth,
		Publishers: []ports.Publisher{&capturingPublisher{
			fakePublisher: fakePublisher{name: "github"},
			sink:          &captured,
		}},
		Store:  f.store,
		Ledger: f.ledger,
	})

	if _, err := f.pipeline.RunOnce(context.Background(), runOptions()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if len(captured.SourceFingerprints) != 2 {
		t.Fatalf("article back-references = %d, want 2", len(captured.SourceFingerprints))
	}
	want := map[domain.Fingerprint]struct{}{
		fingerprint.Compute(items[0]): {},
		fingerprint.Compute(items[1]): {},
	}
	for _, fp := range captured.SourceFingerprints {
		if _, ok := want[fp]; !ok {
			t.Errorf("unexpected back-reference %s", fp)
		}
	}
	if captured.ID != domain.ArticleID(captured.Title) {
		t.Errorf("article id %s not derived from title", captured.ID)
	}
}

type capturingPublisher struct {
	fakePublisher
	sink *domain.Article
}

func (p *capturingPublisher) Publish(ctx context.Context, article domain.Article) (domain.PublicationRecord, error) {
	*p.sink = article
	return p.fakePublisher.Publish(ctx, article)
}
