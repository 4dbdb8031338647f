package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"faultscope/src/contracts"
)

// dialect holds what differs between the SQL backends.
type dialect struct {
	name   string
	schema string
	// bind renders the n-th (1-based) placeholder.
	bind func(n int) string
}

// sqlStore implements Store on database/sql. Reports are kept as a JSON
// payload next to the columns needed for listing.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect) (*sqlStore, error) {
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		return nil, fmt.Errorf("failed to init %s schema: %w", d.name, err)
	}
	return &sqlStore{db: db, d: d}, nil
}

// q replaces each '?' with the dialect placeholder.
func (s *sqlStore) q(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.d.bind(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveReport upserts r.
func (s *sqlStore) SaveReport(ctx context.Context, r *contracts.Report) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("report without id")
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	query := s.q(`
		INSERT INTO reports (id, fault_id, base_path, records, degraded, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			fault_id = excluded.fault_id,
			base_path = excluded.base_path,
			records = excluded.records,
			degraded = excluded.degraded,
			created_at = excluded.created_at,
			payload = excluded.payload
	`)
	_, err = s.db.ExecContext(ctx, query,
		r.ID,
		r.FaultID,
		r.BasePath,
		len(r.Records),
		r.Degraded,
		r.CreatedAt.UnixNano(),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// GetReport loads the report payload.
func (s *sqlStore) GetReport(ctx context.Context, id string) (*contracts.Report, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT payload FROM reports WHERE id = ?`), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	var r contracts.Report
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report %s: %w", id, err)
	}
	return &r, nil
}

// ListReports returns summaries, newest first.
func (s *sqlStore) ListReports(ctx context.Context, faultID string, limit int) ([]contracts.ReportSummary, error) {
	query := `SELECT id, fault_id, base_path, records, degraded, created_at FROM reports`
	var args []interface{}
	if faultID != "" {
		query += ` WHERE fault_id = ?`
		args = append(args, faultID)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	out := []contracts.ReportSummary{}
	for rows.Next() {
		var sum contracts.ReportSummary
		var created int64
		if err := rows.Scan(&sum.ID, &sum.FaultID, &sum.BasePath, &sum.Records, &sum.Degraded, &created); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		sum.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}
	return out, nil
}

// Close closes the database.
func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
