package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/supportmail-backend/internal/model"
)

var errDown = errors.New("db down")

const matchBase = `SELECT DISTINCT u.email FROM users u WHERE u.email <> '' AND NOT EXISTS (SELECT 1 FROM bulk_email_optouts o WHERE o.user_id = u.id)`

func TestMatchEmails_DefaultsOnlyExcludeOptouts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &UserRepository{DB: db}

	mock.ExpectQuery("^" + q(matchBase) + "$").
		WithArgs().
		WillReturnRows(sqlmock.NewRows([]string{"email"}).AddRow("ann@example.com"))

	emails, err := repo.MatchEmails(context.Background(), model.DefaultRules())
	require.NoError(t, err)
	assert.Equal(t, []string{"ann@example.com"}, emails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchEmails_DateWindowsIncludeTheLastDay(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &UserRepository{DB: db}

	spec := model.DefaultRules()
	spec.Subscribed = true
	spec.Instructors = model.InstructorsOnly
	spec.LastLoginFrom = model.Date{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	spec.LastLoginTo = model.Date{Time: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)}
	spec.RegisterTo = model.Date{Time: time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)}

	mock.ExpectQuery("^"+q(matchBase+
		" AND u.subscribed AND u.is_instructor"+
		" AND u.last_login >= $1 AND u.last_login < $2"+
		" AND u.date_joined >= $3 AND u.date_joined < $4")+"$").
		WithArgs(
			time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			model.MinFilterDate.Time,
			time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC),
		).
		WillReturnRows(sqlmock.NewRows([]string{"email"}))

	emails, err := repo.MatchEmails(context.Background(), spec)
	require.NoError(t, err)
	assert.Empty(t, emails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMatchEmails_ExcludeInstructors(t *testing.T) {
	db, mock := newMockDB(t)
	repo := &UserRepository{DB: db}

	spec := model.DefaultRules()
	spec.Instructors = model.InstructorsExclude

	mock.ExpectQuery("^" + q(matchBase+" AND NOT u.is_instructor") + "$").
		WillReturnError(errDown)

	_, err := repo.MatchEmails(context.Background(), spec)
	assert.ErrorIs(t, err, errDown)
	assert.NoError(t, mock.ExpectationsWereMet())
}
