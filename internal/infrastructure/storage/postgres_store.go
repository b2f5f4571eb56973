package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"sha256news/internal/domain"
	"sha256news/internal/ports"
)

// PostgresStore persists the fingerprint dedup index in Postgres. Row locks
// taken inside each transaction serialize concurrent transitions on the same
// fingerprint.
type PostgresStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.FingerprintStore = (*PostgresStore)(nil)

// NewPostgresStore wires a sql.DB implementation.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// IsNovel reports whether no record exists or the existing one is failed.
func (s *PostgresStore) IsNovel(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	query, args, err := s.builder.
		Select("state").
		From("fingerprints").
		Where(sq.Eq{"fingerprint": string(fp)}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build novelty query: %w", err)
	}

	var state string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("query fingerprint state: %w", err)
	}

	return domain.State(state) == domain.StateFailed, nil
}

// RecordSeen upserts the record at "seen". An existing non-failed record is
// left untouched; a failed one is reset for retry.
func (s *PostgresStore) RecordSeen(ctx context.Context, fp domain.Fingerprint) (domain.FingerprintRecord, error) {
	now := time.Now().UTC()

	query, args, err := s.builder.
		Insert("fingerprints").
		Columns("fingerprint", "state", "first_seen_at", "last_updated_at").
		Values(string(fp), string(domain.StateSeen), now, now).
		Suffix(`ON CONFLICT (fingerprint) DO UPDATE
		        SET state = EXCLUDED.state,
		            article_id = NULL,
		            failed_stage = NULL,
		            failure_reason = NULL,
		            last_updated_at = EXCLUDED.last_updated_at
		        WHERE fingerprints.state = 'failed'`).
		ToSql()
	if err != nil {
		return domain.FingerprintRecord{}, fmt.Errorf("build seen upsert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return domain.FingerprintRecord{}, fmt.Errorf("upsert seen: %w", err)
	}

	record, ok, err := s.Get(ctx, fp)
	if err != nil {
		return domain.FingerprintRecord{}, err
	}
	if !ok {
		return domain.FingerprintRecord{}, fmt.Errorf("fingerprint %s missing after upsert", fp)
	}
	return record, nil
}

// Advance moves a fingerprint forward through its lifecycle inside a
// transaction holding a row lock.
func (s *PostgresStore) Advance(ctx context.Context, fp domain.Fingerprint, state domain.State, articleID string) (domain.FingerprintRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.FingerprintRecord{}, fmt.Errorf("begin advance: %w", err)
	}

	record, err := s.lockRecord(ctx, tx, fp)
	if err != nil {
		_ = tx.Rollback()
		return domain.FingerprintRecord{}, err
	}

	if err := validateTransition(record, state, articleID); err != nil {
		_ = tx.Rollback()
		return domain.FingerprintRecord{}, err
	}

	record.State = state
	if articleID != "" {
		record.ArticleID = articleID
	}
	record.FailedStage = ""
	record.FailureReason = ""
	record.LastUpdatedAt = time.Now().UTC()

	if err := s.updateRecord(ctx, tx, record); err != nil {
		_ = tx.Rollback()
		return domain.FingerprintRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.FingerprintRecord{}, fmt.Errorf("commit advance: %w", err)
	}
	return record, nil
}

// MarkFailed flags the fingerprint for retry, keeping the failing stage.
func (s *PostgresStore) MarkFailed(ctx context.Context, fp domain.Fingerprint, stage domain.Stage, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark failed: %w", err)
	}

	record, err := s.lockRecord(ctx, tx, fp)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if record.State == domain.StatePublished {
		_ = tx.Rollback()
		return fmt.Errorf("fingerprint %s already published: %w", fp, domain.ErrInvalidTransition)
	}

	record.State = domain.StateFailed
	record.FailedStage = stage
	record.FailureReason = reason
	record.LastUpdatedAt = time.Now().UTC()

	if err := s.updateRecord(ctx, tx, record); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark failed: %w", err)
	}
	return nil
}

// Get returns the current record, if any.
func (s *PostgresStore) Get(ctx context.Context, fp domain.Fingerprint) (domain.FingerprintRecord, bool, error) {
	query, args, err := s.builder.
		Select("fingerprint", "state", "article_id", "failed_stage", "failure_reason", "first_seen_at", "last_updated_at").
		From("fingerprints").
		Where(sq.Eq{"fingerprint": string(fp)}).
		ToSql()
	if err != nil {
		return domain.FingerprintRecord{}, false, fmt.Errorf("build get query: %w", err)
	}

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FingerprintRecord{}, false, nil
	}
	if err != nil {
		return domain.FingerprintRecord{}, false, err
	}
	return record, true, nil
}

func (s *PostgresStore) lockRecord(ctx context.Context, tx *sql.Tx, fp domain.Fingerprint) (domain.FingerprintRecord, error) {
	query, args, err := s.builder.
		Select("fingerprint", "state", "article_id", "failed_stage", "failure_reason", "first_seen_at", "last_updated_at").
		From("fingerprints").
		Where(sq.Eq{"fingerprint": string(fp)}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return domain.FingerprintRecord{}, fmt.Errorf("build lock query: %w", err)
	}

	record, err := scanRecord(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FingerprintRecord{}, fmt.Errorf("fingerprint %s: %w", fp, domain.ErrInvalidTransition)
	}
	return record, err
}

func (s *PostgresStore) updateRecord(ctx context.Context, tx *sql.Tx, record domain.FingerprintRecord) error {
	query, args, err := s.builder.
		Update("fingerprints").
		Set("state", string(record.State)).
		Set("article_id", nullable(record.ArticleID)).
		Set("failed_stage", nullable(string(record.FailedStage))).
		Set("failure_reason", nullable(record.FailureReason)).
		Set("last_updated_at", record.LastUpdatedAt).
		Where(sq.Eq{"fingerprint": string(record.Fingerprint)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update fingerprint: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (domain.FingerprintRecord, error) {
	var (
		record        domain.FingerprintRecord
		fp            string
		state         string
		articleID     sql.NullString
		failedStage   sql.NullString
		failureReason sql.NullString
	)

	err := row.Scan(&fp, &state, &articleID, &failedStage, &failureReason, &record.FirstSeenAt, &record.LastUpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FingerprintRecord{}, err
		}
		return domain.FingerprintRecord{}, fmt.Errorf("scan fingerprint: %w", err)
	}

	record.Fingerprint = domain.Fingerprint(fp)
	record.State = domain.State(state)
	record.ArticleID = articleID.String
	record.FailedStage = domain.Stage(failedStage.String)
	record.FailureReason = failureReason.String
	return record, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
