package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/supportmail-backend/internal/model"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

const (
	completeQuery    = `UPDATE delivery_records SET status=$1, last_error=$2, updated_at=NOW() WHERE id=$3 AND status='queued' RETURNING campaign_id`
	incDeliveredStmt = `UPDATE campaigns SET delivered_number = delivered_number + 1 WHERE id=$1`
)

func TestCreateBatch_OneTransactionPerBatch(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &DeliveryRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectQuery(q(`ON CONFLICT (campaign_id, email) DO NOTHING RETURNING id`)).
		WithArgs(4, "a@x.com", "b@x.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(10).AddRow(11))
	mock.ExpectCommit()

	ids, err := repo.CreateBatch(context.Background(), 4, []string{"a@x.com", "b@x.com"})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 11}, ids)

	mock.ExpectBegin()
	mock.ExpectQuery(q(`INSERT INTO delivery_records`)).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err = repo.CreateBatch(context.Background(), 4, []string{"c@x.com"})
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete_SentIncrementsDeliveredInSameTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &DeliveryRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectQuery(q(completeQuery)).
		WithArgs(model.DeliverySent, "", 7).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(3))
	mock.ExpectExec(q(incDeliveredStmt)).WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	done, err := repo.Complete(context.Background(), 7, model.DeliverySent, "")
	require.NoError(t, err)
	assert.True(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete_TerminalRecordIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &DeliveryRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectQuery(q(completeQuery)).
		WithArgs(model.DeliverySent, "", 7).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}))
	mock.ExpectCommit()

	done, err := repo.Complete(context.Background(), 7, model.DeliverySent, "")
	require.NoError(t, err)
	assert.False(t, done)
	assert.NoError(t, mock.ExpectationsWereMet(), "no counter update for a terminal record")
}

func TestComplete_FailedLeavesCounterAlone(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &DeliveryRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectQuery(q(completeQuery)).
		WithArgs(model.DeliveryFailed, "smtp: 550", 7).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(3))
	mock.ExpectCommit()

	done, err := repo.Complete(context.Background(), 7, model.DeliveryFailed, "smtp: 550")
	require.NoError(t, err)
	assert.True(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete_IncrementFailureRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &DeliveryRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectQuery(q(completeQuery)).
		WithArgs(model.DeliverySent, "", 7).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id"}).AddRow(3))
	mock.ExpectExec(q(incDeliveredStmt)).WithArgs(3).WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	done, err := repo.Complete(context.Background(), 7, model.DeliverySent, "")
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.False(t, done)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestComplete_RejectsNonTerminalStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &DeliveryRepository{DB: db}

	_, err := repo.Complete(context.Background(), 7, model.DeliveryQueued, "")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaim_OnlyOneHolder(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &DeliveryRepository{DB: db}
	cutoff := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	claim := q(`UPDATE delivery_records SET claimed_at=NOW(), updated_at=NOW() WHERE id=$1 AND status='queued' AND (claimed_at IS NULL OR claimed_at < $2)`)

	mock.ExpectExec(claim).WithArgs(7, cutoff).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(claim).WithArgs(7, cutoff).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Claim(context.Background(), 7, cutoff)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Claim(context.Background(), 7, cutoff)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
