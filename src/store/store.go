// Package store keeps the history of finished reports.
package store

import (
	"context"
	"fmt"
	"strings"

	"faultscope/src/contracts"
)

// Store persists reports so earlier query results can be listed and shown
// again without rescanning the artifact.
type Store interface {
	// SaveReport stores r. Saving a report with an existing ID replaces it.
	SaveReport(ctx context.Context, r *contracts.Report) error

	// GetReport returns the report with the given ID.
	GetReport(ctx context.Context, id string) (*contracts.Report, error)

	// ListReports returns summaries, newest first. An empty faultID lists
	// every report; limit <= 0 means no limit.
	ListReports(ctx context.Context, faultID string, limit int) ([]contracts.ReportSummary, error)

	// Close closes the store connection
	Close() error
}

// ErrNotFound is returned when a report ID is unknown.
type ErrNotFound struct {
	ID string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("report not found: %s", e.ID)
}

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates the store selected by driver.
func Open(driver, dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverSQLite:
		return NewSQLiteStore(dsn)
	case DriverPostgres:
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func summarize(r *contracts.Report) contracts.ReportSummary {
	return contracts.ReportSummary{
		ID:        r.ID,
		FaultID:   r.FaultID,
		BasePath:  r.BasePath,
		Records:   len(r.Records),
		Degraded:  r.Degraded,
		CreatedAt: r.CreatedAt,
	}
}
