package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type OptoutRepositoryInterface interface {
	Exists(ctx context.Context, userID int) (bool, error)
	// Unsubscribe creates the optout if absent. Only when it was created and
	// campaignID is non-zero is the campaign's unsubscriptions incremented.
	Unsubscribe(ctx context.Context, userID, campaignID int) (bool, error)
	// Resubscribe removes the optout.
	Resubscribe(ctx context.Context, userID int) error
}

type OptoutRepository struct {
	DB *sqlx.DB
}

func (r *OptoutRepository) Exists(ctx context.Context, userID int) (bool, error) {
	var exists bool
	err := r.DB.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM bulk_email_optouts WHERE user_id = $1)`, userID)
	return exists, err
}

func (r *OptoutRepository) Unsubscribe(ctx context.Context, userID, campaignID int) (created bool, err error) {
	var tx *sqlx.Tx
	tx, err = r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
        INSERT INTO bulk_email_optouts (user_id, created_at) VALUES ($1, NOW())
        ON CONFLICT (user_id) DO NOTHING
    `, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if campaignID != 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE campaigns SET unsubscriptions = unsubscriptions + 1 WHERE id = $1`, campaignID)
		if err != nil {
			return false, fmt.Errorf("increment unsubscriptions for campaign %d: %w", campaignID, err)
		}
	}
	return true, nil
}

func (r *OptoutRepository) Resubscribe(ctx context.Context, userID int) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM bulk_email_optouts WHERE user_id = $1`, userID)
	return err
}

var _ OptoutRepositoryInterface = (*OptoutRepository)(nil)
