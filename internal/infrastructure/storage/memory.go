package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sha256news/internal/domain"
	"sha256news/internal/ports"
)

// MemoryStore is a process-local fingerprint store used for tests and
// DSN-less runs. All transitions serialize behind one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	records map[domain.Fingerprint]domain.FingerprintRecord
}

var _ ports.FingerprintStore = (*MemoryStore)(nil)

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[domain.Fingerprint]domain.FingerprintRecord{}}
}

// IsNovel reports whether no record exists or the existing one is failed.
func (s *MemoryStore) IsNovel(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[fp]
	if !ok {
		return true, nil
	}
	return record.State == domain.StateFailed, nil
}

// RecordSeen creates the record at "seen" or resets a failed one for retry.
// A record already past "seen" is left untouched.
func (s *MemoryStore) RecordSeen(ctx context.Context, fp domain.Fingerprint) (domain.FingerprintRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	record, ok := s.records[fp]
	if !ok {
		record = domain.FingerprintRecord{
			Fingerprint:   fp,
			State:         domain.StateSeen,
			FirstSeenAt:   now,
			LastUpdatedAt: now,
		}
		s.records[fp] = record
		return record, nil
	}

	if record.State == domain.StateFailed {
		record.State = domain.StateSeen
		record.FailedStage = ""
		record.FailureReason = ""
		record.ArticleID = ""
		record.LastUpdatedAt = now
		s.records[fp] = record
	}

	return record, nil
}

// Advance moves a fingerprint forward through its lifecycle.
func (s *MemoryStore) Advance(ctx context.Context, fp domain.Fingerprint, state domain.State, articleID string) (domain.FingerprintRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[fp]
	if !ok {
		return domain.FingerprintRecord{}, fmt.Errorf("fingerprint %s: %w", fp, domain.ErrInvalidTransition)
	}

	if err := validateTransition(record, state, articleID); err != nil {
		return domain.FingerprintRecord{}, err
	}

	record.State = state
	if articleID != "" {
		record.ArticleID = articleID
	}
	record.FailedStage = ""
	record.FailureReason = ""
	record.LastUpdatedAt = time.Now().UTC()
	s.records[fp] = record

	return record, nil
}

// MarkFailed flags the fingerprint for retry, keeping the failing stage.
func (s *MemoryStore) MarkFailed(ctx context.Context, fp domain.Fingerprint, stage domain.Stage, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[fp]
	if !ok {
		return fmt.Errorf("fingerprint %s: %w", fp, domain.ErrInvalidTransition)
	}
	if record.State == domain.StatePublished {
		return fmt.Errorf("fingerprint %s already published: %w", fp, domain.ErrInvalidTransition)
	}

	record.State = domain.StateFailed
	record.FailedStage = stage
	record.FailureReason = reason
	record.LastUpdatedAt = time.Now().UTC()
	s.records[fp] = record

	return nil
}

// Get returns the current record, if any.
func (s *MemoryStore) Get(ctx context.Context, fp domain.Fingerprint) (domain.FingerprintRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[fp]
	return record, ok, nil
}

// validateTransition enforces the monotonic seen -> synthesized -> published
// lifecycle. Publishing requires a stored article id.
func validateTransition(record domain.FingerprintRecord, next domain.State, articleID string) error {
	switch next {
	case domain.StateSynthesized:
		if record.State != domain.StateSeen {
			return transitionError(record.State, next)
		}
		if articleID == "" {
			return fmt.Errorf("synthesized requires an article id: %w", domain.ErrInvalidTransition)
		}
	case domain.StatePublished:
		if record.State != domain.StateSynthesized {
			return transitionError(record.State, next)
		}
		if record.ArticleID == "" && articleID == "" {
			return fmt.Errorf("published requires an article id: %w", domain.ErrInvalidTransition)
		}
	default:
		return transitionError(record.State, next)
	}
	return nil
}

func transitionError(from, to domain.State) error {
	return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrInvalidTransition)
}

// MemoryLedger is an append-only in-memory run ledger.
type MemoryLedger struct {
	mu   sync.Mutex
	runs []domain.RunRecord
}

var _ ports.RunLedger = (*MemoryLedger)(nil)

// NewMemoryLedger builds an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Append stores one run record.
func (l *MemoryLedger) Append(ctx context.Context, record domain.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, record)
	return nil
}

// ListRecent returns up to n records, newest first.
func (l *MemoryLedger) ListRecent(ctx context.Context, n int) ([]domain.RunRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.runs) {
		n = len(l.runs)
	}

	recent := make([]domain.RunRecord, 0, n)
	for i := len(l.runs) - 1; i >= len(l.runs)-n; i-- {
		recent = append(recent, l.runs[i])
	}
	return recent, nil
}
