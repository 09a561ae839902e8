package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"FinTrain/internal/domain/models"
	"FinTrain/internal/domain/repository"
	pkgch "FinTrain/pkg/clickhouse"
)

// CHRunStore persists run reports to ClickHouse for history queries.
type CHRunStore struct {
	db    *sql.DB
	table string
}

// NewCHRunStore creates the ClickHouse-backed run store.
func NewCHRunStore(ch *pkgch.Client, table string) repository.RunStore {
	if table == "" {
		table = "pipeline_runs"
	}
	return &CHRunStore{db: ch.DB(), table: table}
}

func (s *CHRunStore) SaveRun(ctx context.Context, report models.RunReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	ts := report.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	q := fmt.Sprintf(
		"INSERT INTO %s (ts, duration_seconds, total_symbols, successful_updates, report) VALUES (?, ?, ?, ?, ?)",
		s.table,
	)
	if _, err := s.db.ExecContext(ctx, q,
		ts,
		report.DurationSeconds,
		uint32(report.TotalSymbols),
		uint32(report.SuccessfulUpdates),
		string(raw),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *CHRunStore) LastRun(ctx context.Context) (models.RunReport, error) {
	q := fmt.Sprintf("SELECT report FROM %s ORDER BY ts DESC LIMIT 1", s.table)

	var raw string
	if err := s.db.QueryRowContext(ctx, q).Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return models.RunReport{}, models.ErrNoRuns
		}
		return models.RunReport{}, fmt.Errorf("query last run: %w", err)
	}

	var report models.RunReport
	if err := json.Unmarshal([]byte(raw), &report); err != nil {
		return models.RunReport{}, fmt.Errorf("unmarshal report: %w", err)
	}
	return report, nil
}

func (s *CHRunStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
