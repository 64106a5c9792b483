package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/crm-cleanse/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresCreateRun(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(pgxmock.AnyArg(), "merge", "111", "complete", 3, 1200, 0.05,
			pgxmock.AnyArg(), "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run := &model.RunRecord{
		Kind:        model.RunKindMerge,
		RecordID:    "111",
		Status:      model.RunStatusComplete,
		CreditCost:  3,
		TotalTokens: 1200,
		CostUSD:     0.05,
		Result:      []byte(`{"creditCost":3}`),
	}
	require.NoError(t, s.CreateRun(context.Background(), run))

	// The store assigned identity and timestamps.
	assert.NotEmpty(t, run.ID)
	assert.False(t, run.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateRunKeepsCallerID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("fixed-id", "purge", "9", "failed", 0, 0, 0.0,
			pgxmock.AnyArg(), "store timed out", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run := &model.RunRecord{
		ID:       "fixed-id",
		Kind:     model.RunKindPurge,
		RecordID: "9",
		Status:   model.RunStatusFailed,
		Error:    "store timed out",
	}
	require.NoError(t, s.CreateRun(context.Background(), run))
	assert.Equal(t, "fixed-id", run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRun(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	columns := []string{"id", "kind", "record_id", "status", "credit_cost", "total_tokens", "cost_usd", "result", "error", "created_at", "completed_at"}
	mock.ExpectQuery("SELECT (.+) FROM runs WHERE id").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("run-1", model.RunKindClean, "42", model.RunStatusComplete, 1, 300, 0.002, []byte(`{}`), "", now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunKindClean, run.Kind)
	assert.Equal(t, "42", run.RecordID)
	assert.Equal(t, 1, run.CreditCost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRunsWithFilter(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	columns := []string{"id", "kind", "record_id", "status", "credit_cost", "total_tokens", "cost_usd", "result", "error", "created_at", "completed_at"}
	mock.ExpectQuery("SELECT (.+) FROM runs WHERE true AND kind").
		WithArgs("merge", 10).
		WillReturnRows(pgxmock.NewRows(columns).
			AddRow("r1", model.RunKindMerge, "1", model.RunStatusComplete, 3, 900, 0.01, nil, "", now, now).
			AddRow("r2", model.RunKindMerge, "2", model.RunStatusComplete, 1, 150, 0.001, nil, "", now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{Kind: model.RunKindMerge, Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r1", runs[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresMigrate(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
