package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/model"
)

// UserRepositoryInterface defines methods used by service
type UserRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// MatchEmails returns addresses of users satisfying the account-level
	// rules of spec, excluding anyone who opted out.
	MatchEmails(ctx context.Context, spec model.FilterSpec) ([]string, error)
}

// UserRepository is the concrete implementation
type UserRepository struct {
	DB *sqlx.DB
}

const userColumns = `id, username, email, first_name, last_name, is_staff, is_instructor, subscribed, date_joined, last_login`

func (r *UserRepository) get(ctx context.Context, where string, arg any) (*model.User, error) {
	var u model.User
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` ORDER BY id LIMIT 1`
	if err := r.DB.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("user %v", arg)
		}
		return nil, err
	}
	return &u, nil
}

// GetByID fetches a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id int) (*model.User, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.get(ctx, "email = $1", email)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.get(ctx, "username = $1", username)
}

func (r *UserRepository) MatchEmails(ctx context.Context, spec model.FilterSpec) ([]string, error) {
	query := `
        SELECT DISTINCT u.email FROM users u
        WHERE u.email <> ''
          AND NOT EXISTS (SELECT 1 FROM bulk_email_optouts o WHERE o.user_id = u.id)`
	args := []any{}
	argPos := 1

	if spec.Subscribed {
		query += " AND u.subscribed"
	}
	switch spec.Instructors {
	case model.InstructorsExclude:
		query += " AND NOT u.is_instructor"
	case model.InstructorsOnly:
		query += " AND u.is_instructor"
	}

	if !spec.LastLoginFrom.Equal(model.MinFilterDate.Time) || !spec.LastLoginTo.Equal(model.MaxFilterDate.Time) {
		query += fmt.Sprintf(" AND u.last_login >= $%d AND u.last_login < $%d", argPos, argPos+1)
		args = append(args, spec.LastLoginFrom.Time, spec.LastLoginTo.AddDate(0, 0, 1))
		argPos += 2
	}
	if !spec.RegisterFrom.Equal(model.MinFilterDate.Time) || !spec.RegisterTo.Equal(model.MaxFilterDate.Time) {
		query += fmt.Sprintf(" AND u.date_joined >= $%d AND u.date_joined < $%d", argPos, argPos+1)
		args = append(args, spec.RegisterFrom.Time, spec.RegisterTo.AddDate(0, 0, 1))
		argPos += 2
	}

	emails := []string{}
	if err := r.DB.SelectContext(ctx, &emails, strings.TrimSpace(query), args...); err != nil {
		return nil, fmt.Errorf("match users: %w", err)
	}
	return emails, nil
}

var _ UserRepositoryInterface = (*UserRepository)(nil)
