package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	insertOptoutStmt = `INSERT INTO bulk_email_optouts (user_id, created_at) VALUES ($1, NOW()) ON CONFLICT (user_id) DO NOTHING`
	incUnsubStmt     = `UPDATE campaigns SET unsubscriptions = unsubscriptions + 1 WHERE id = $1`
)

func TestUnsubscribe_FirstTimeCountsForCampaign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &OptoutRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(q(insertOptoutStmt)).WithArgs(9).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(incUnsubStmt)).WithArgs(5).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.Unsubscribe(context.Background(), 9, 5)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsubscribe_RepeatDoesNotCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &OptoutRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(q(insertOptoutStmt)).WithArgs(9).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	created, err := repo.Unsubscribe(context.Background(), 9, 5)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet(), "no unsubscriptions increment")
}

func TestUnsubscribe_WithoutCampaign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &OptoutRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(q(insertOptoutStmt)).WithArgs(9).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := repo.Unsubscribe(context.Background(), 9, 0)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnsubscribe_IncrementFailureRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &OptoutRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(q(insertOptoutStmt)).WithArgs(9).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(incUnsubStmt)).WithArgs(5).WillReturnError(errDown)
	mock.ExpectRollback()

	created, err := repo.Unsubscribe(context.Background(), 9, 5)
	assert.ErrorIs(t, err, errDown)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}
