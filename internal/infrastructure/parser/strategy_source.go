package parser

import (
	"context"
	"fmt"
	"log/slog"

	"sha256news/internal/config"
	"sha256news/internal/domain"
	"sha256news/internal/ports"
	"sha256news/internal/scanner"
)

// StrategySource implements NewsSource via registered scanner strategies. The
// fetch aggregates every configured source into one candidate batch so the
// orchestrator can dedup across providers.
type StrategySource struct {
	registry *scanner.Registry
	sources  []config.SourceConfig
	logger   *slog.Logger
}

var _ ports.NewsSource = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, sources []config.SourceConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sources:  sources,
		logger:   log,
	}
}

// Fetch iterates over configured sources and executes their scanners.
func (s *StrategySource) Fetch(ctx context.Context, query ports.FetchQuery) ([]domain.NewsItem, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}

	s.debug("fetch batch", "sources", len(s.sources), "max_items", query.MaxItems)

	var aggregated []domain.NewsItem
	for _, source := range s.sources {
		strategy, err := s.registry.Resolve(source.Scanner)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", source.Name, err)
		}

		req := scanner.Request{
			SourceName: source.Name,
			MaxItems:   query.MaxItems,
			DaysBack:   query.DaysBack,
			Options:    source.Options,
		}

		results, err := strategy.Scan(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("scan source %s: %w", source.Name, err)
		}

		for i := range results {
			if results[i].Source == "" {
				results[i].Source = source.Name
			}
		}
		s.debug("source produced items", "source", source.Name, "count", len(results))
		aggregated = append(aggregated, results...)
	}

	s.debug("strategy source done", "total_items", len(aggregated))
	return aggregated, nil
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
