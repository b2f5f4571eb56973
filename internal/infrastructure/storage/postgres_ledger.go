package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"sha256news/internal/domain"
	"sha256news/internal/ports"
)

// PostgresLedger appends run records and their publication outcomes. Rows are
// never updated or deleted.
type PostgresLedger struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.RunLedger = (*PostgresLedger)(nil)

// NewPostgresLedger wires a sql.DB implementation.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Append stores one run record with its publication outcomes.
func (l *PostgresLedger) Append(ctx context.Context, record domain.RunRecord) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}

	query, args, err := l.builder.
		Insert("runs").
		Columns("run_id", "started_at", "ended_at", "draft", "items_seen", "items_novel", "articles_created").
		Values(record.RunID, record.StartedAt, record.EndedAt, record.Draft, record.ItemsSeen, record.ItemsNovel, record.ArticlesCreated).
		ToSql()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("build run insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}

	for _, pub := range record.Publications {
		query, args, err := l.builder.
			Insert("publications").
			Columns("run_id", "target", "article_id", "external_ref", "published_at", "success", "failure_reason").
			Values(record.RunID, pub.Target, pub.ArticleID, pub.ExternalRef, pub.PublishedAt, pub.Success, pub.FailureReason).
			ToSql()
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("build publication insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert publication: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

// ListRecent returns up to n run records, newest first, with their
// publication outcomes attached.
func (l *PostgresLedger) ListRecent(ctx context.Context, n int) ([]domain.RunRecord, error) {
	if n <= 0 {
		n = 10
	}

	query, args, err := l.builder.
		Select("run_id", "started_at", "ended_at", "draft", "items_seen", "items_novel", "articles_created").
		From("runs").
		OrderBy("started_at DESC").
		Limit(uint64(n)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var records []domain.RunRecord
	for rows.Next() {
		var record domain.RunRecord
		err := rows.Scan(&record.RunID, &record.StartedAt, &record.EndedAt, &record.Draft,
			&record.ItemsSeen, &record.ItemsNovel, &record.ArticlesCreated)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	for i := range records {
		publications, err := l.listPublications(ctx, records[i].RunID)
		if err != nil {
			return nil, err
		}
		records[i].Publications = publications
	}

	return records, nil
}

func (l *PostgresLedger) listPublications(ctx context.Context, runID string) ([]domain.PublicationRecord, error) {
	query, args, err := l.builder.
		Select("target", "article_id", "external_ref", "published_at", "success", "failure_reason").
		From("publications").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("published_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build publications query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query publications: %w", err)
	}
	defer rows.Close()

	var publications []domain.PublicationRecord
	for rows.Next() {
		var pub domain.PublicationRecord
		err := rows.Scan(&pub.Target, &pub.ArticleID, &pub.ExternalRef, &pub.PublishedAt, &pub.Success, &pub.FailureReason)
		if err != nil {
			return nil, fmt.Errorf("scan publication: %w", err)
		}
		publications = append(publications, pub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return publications, nil
}
