package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// Postgres tests run against sqlmock; the real-database behavior is
// covered by the shared suite on SQLite.

func decisionColNames() []string {
	parts := strings.Split(decisionCols, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func stubDecisionRow() *sqlmock.Rows {
	return sqlmock.NewRows(decisionColNames()).AddRow(
		"org-1", "d-1", "user-1", "Adopt managed Postgres", "desc", "infrastructure",
		`{"budget":50000}`, "STABLE", 100, "",
		"2025-05-01T12:00:00.000000000Z", nil, nil, false, nil,
		false, "STANDARD", false, false,
		nil, "",
		50, nil, 30, 0, nil,
	)
}

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}

func TestPostgresRebinding(t *testing.T) {
	s := &SQL{dialect: dialectPostgres}
	require.Equal(t, "a = $1 AND b = $2", s.q("a = ? AND b = ?"))

	lite := &SQL{dialect: dialectSQLite}
	require.Equal(t, "a = ? AND b = ?", lite.q("a = ? AND b = ?"))
}

func TestPostgresGetDecision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgres(db)
	ctx := context.Background()

	// Outside a transaction the query ends at the key; no row lock.
	mock.ExpectQuery(regexp.QuoteMeta("WHERE organization_id = $1 AND id = $2")+"$").
		WithArgs("org-1", "d-1").
		WillReturnRows(stubDecisionRow())

	d, err := s.GetDecision(ctx, "org-1", "d-1")
	require.NoError(t, err)
	require.Equal(t, "d-1", d.ID)
	require.Equal(t, map[string]any{"budget": float64(50000)}, d.Parameters)
	require.Nil(t, d.LastEvaluatedAt)
	require.Equal(t, 2025, d.CreatedAt.Year())

	mock.ExpectQuery(regexp.QuoteMeta("WHERE organization_id = $1 AND id = $2")).
		WithArgs("org-1", "ghost").
		WillReturnRows(sqlmock.NewRows(decisionColNames()))

	_, err = s.GetDecision(ctx, "org-1", "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateDecision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgres(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO decisions")).
		WithArgs(anyArgs(26)...).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.CreateDecision(context.Background(), suiteDecision("org-1", "d-1")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateMissingDecision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgres(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE decisions SET")).
		WithArgs(anyArgs(26)...).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = s.UpdateDecision(context.Background(), suiteDecision("org-1", "ghost"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTxLocksDecisionRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgres(db)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("AND id = $2 FOR UPDATE")).
		WithArgs("org-1", "d-1").
		WillReturnRows(stubDecisionRow())
	mock.ExpectExec(regexp.QuoteMeta("UPDATE decisions SET")).
		WithArgs(anyArgs(26)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = s.WithinTx(ctx, func(tx Store) error {
		d, err := tx.GetDecision(ctx, "org-1", "d-1")
		if err != nil {
			return err
		}
		d.HealthSignal = 80
		return tx.UpdateDecision(ctx, d)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTxRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewPostgres(db)
	ctx := context.Background()

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs("org-1", "d-1").
		WillReturnRows(stubDecisionRow())
	mock.ExpectRollback()

	err = s.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.GetDecision(ctx, "org-1", "d-1"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapWriteErr(t *testing.T) {
	require.NoError(t, mapWriteErr(nil))

	require.ErrorIs(t, mapWriteErr(&pq.Error{Code: "23505"}), ErrConflict)

	fk := &pq.Error{Code: "23503"}
	require.Equal(t, error(fk), mapWriteErr(fk))

	plain := errors.New("disk on fire")
	require.Equal(t, plain, mapWriteErr(plain))
}
