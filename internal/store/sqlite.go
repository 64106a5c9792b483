package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/crm-cleanse/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// for single-binary deployments and the CLI.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	kind         TEXT NOT NULL,
	record_id    TEXT NOT NULL,
	status       TEXT NOT NULL,
	credit_cost  INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cost_usd     REAL NOT NULL DEFAULT 0,
	result       TEXT,
	error        TEXT,
	created_at   DATETIME NOT NULL,
	completed_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
CREATE INDEX IF NOT EXISTS idx_runs_record_id ON runs(record_id);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.CompletedAt.IsZero() {
		run.CompletedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, record_id, status, credit_cost, total_tokens, cost_usd, result, error, created_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Kind), run.RecordID, string(run.Status),
		run.CreditCost, run.TotalTokens, run.CostUSD,
		nullableBytes(run.Result), run.Error, run.CreatedAt, run.CompletedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert run")
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RunRecord, error) {
	var r model.RunRecord
	var result sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, record_id, status, credit_cost, total_tokens, cost_usd, result, error, created_at, completed_at FROM runs WHERE id = ?`,
		runID,
	).Scan(&r.ID, &r.Kind, &r.RecordID, &r.Status, &r.CreditCost, &r.TotalTokens, &r.CostUSD, &result, &r.Error, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	if result.Valid {
		r.Result = []byte(result.String)
	}
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRecord, error) {
	query := `SELECT id, kind, record_id, status, credit_cost, total_tokens, cost_usd, result, error, created_at, completed_at FROM runs WHERE 1=1`
	args := []any{}

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.RecordID != "" {
		query += ` AND record_id = ?`
		args = append(args, filter.RecordID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunRecord
	for rows.Next() {
		var r model.RunRecord
		var result sql.NullString
		if err := rows.Scan(&r.ID, &r.Kind, &r.RecordID, &r.Status, &r.CreditCost, &r.TotalTokens, &r.CostUSD, &result, &r.Error, &r.CreatedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		if result.Valid {
			r.Result = []byte(result.String)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate runs")
	}
	return runs, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// compile-time interface checks
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
