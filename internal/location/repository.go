package location

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Repository defines persistence for the position history.
type Repository interface {
	// Insert appends a record and sets its ID.
	Insert(ctx context.Context, rec *Record) error

	// History returns the newest records of a source, newest first.
	History(ctx context.Context, sourceKey string, limit int) ([]Record, error)

	// DeleteBefore removes records reported before t.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
}

// SQLiteRepository implements Repository using the positions table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed position repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Insert appends a position record.
func (r *SQLiteRepository) Insert(ctx context.Context, rec *Record) error {
	const query = `INSERT INTO positions (source_key, source_kind, tag, flight, lat, lon,
		reported_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := r.db.ExecContext(ctx, query,
		rec.SourceKey, rec.SourceKind, rec.Tag, nullStr(rec.Flight), rec.Lat, rec.Lon,
		formatTime(rec.ReportedAt), formatTime(rec.ReceivedAt))
	if err != nil {
		return fmt.Errorf("inserting position for %s: %w", rec.SourceKey, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading position id: %w", err)
	}
	rec.ID = id
	return nil
}

// History returns up to limit records of a source, newest first.
func (r *SQLiteRepository) History(ctx context.Context, sourceKey string, limit int) ([]Record, error) {
	const query = `SELECT id, source_key, source_kind, tag, flight, lat, lon, reported_at, received_at
		FROM positions WHERE source_key = ?
		ORDER BY reported_at DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, sourceKey, limit)
	if err != nil {
		return nil, fmt.Errorf("querying positions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating positions: %w", err)
	}
	return records, nil
}

// DeleteBefore removes records reported before t.
func (r *SQLiteRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM positions WHERE reported_at < ?", formatTime(t))
	if err != nil {
		return 0, fmt.Errorf("deleting old positions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// Count returns the number of stored records.
func (r *SQLiteRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM positions").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting positions: %w", err)
	}
	return n, nil
}

func scanRecord(rows *sql.Rows) (*Record, error) {
	var rec Record
	var flight sql.NullString
	var reportedAt, receivedAt string

	if err := rows.Scan(&rec.ID, &rec.SourceKey, &rec.SourceKind, &rec.Tag, &flight,
		&rec.Lat, &rec.Lon, &reportedAt, &receivedAt); err != nil {
		return nil, fmt.Errorf("scanning position: %w", err)
	}

	rec.Flight = flight.String
	rec.ReportedAt, _ = time.Parse(time.RFC3339Nano, reportedAt) //nolint:errcheck // format is ours
	rec.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt) //nolint:errcheck // format is ours
	return &rec, nil
}

// formatTime stores times as sortable UTC text with a fixed-width fraction.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// nullStr stores an empty string as NULL.
func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
