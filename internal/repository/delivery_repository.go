package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/model"
)

type DeliveryRepositoryInterface interface {
	// CreateBatch inserts queued records for one campaign in a single
	// transaction and returns the ids of the rows created.
	CreateBatch(ctx context.Context, campaignID int, emails []string) ([]int, error)
	GetByID(ctx context.Context, id int) (*model.DeliveryRecord, error)
	ListQueued(ctx context.Context, afterID, limit int) ([]model.DeliveryRecord, error)
	// Claim reserves a queued record for one sender. A claim older than
	// staleBefore is considered abandoned and may be taken over. It reports
	// false when the record is terminal or held by someone else.
	Claim(ctx context.Context, id int, staleBefore time.Time) (bool, error)
	// Complete moves a queued record to a terminal status. It reports false
	// when the record was already terminal. A transition to sent increments
	// the campaign's delivered_number in the same transaction.
	Complete(ctx context.Context, id int, status, lastError string) (bool, error)
}

type DeliveryRepository struct {
	DB *sqlx.DB
}

func (r *DeliveryRepository) CreateBatch(ctx context.Context, campaignID int, emails []string) (ids []int, err error) {
	if len(emails) == 0 {
		return nil, nil
	}

	values := make([]string, 0, len(emails))
	args := make([]any, 0, len(emails)+1)
	args = append(args, campaignID)
	for i, email := range emails {
		values = append(values, fmt.Sprintf("($1, $%d, 'queued', NOW(), NOW())", i+2))
		args = append(args, email)
	}
	query := `
        INSERT INTO delivery_records (campaign_id, email, status, created_at, updated_at)
        VALUES ` + strings.Join(values, ", ") + `
        ON CONFLICT (campaign_id, email) DO NOTHING
        RETURNING id
    `

	var tx *sqlx.Tx
	tx, err = r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction, err %w", err)
	}
	defer func() {
		if err == nil {
			err = tx.Commit()
			return
		}
		_ = tx.Rollback()
	}()

	err = tx.SelectContext(ctx, &ids, query, args...)
	return ids, err
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id int) (*model.DeliveryRecord, error) {
	query := `
        SELECT id, campaign_id, email, status, last_error, claimed_at, created_at, updated_at
        FROM delivery_records
        WHERE id=$1
    `
	var rec model.DeliveryRecord
	if err := r.DB.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewNotFound("delivery record %d", id)
		}
		return nil, err
	}
	return &rec, nil
}

func (r *DeliveryRepository) ListQueued(ctx context.Context, afterID, limit int) ([]model.DeliveryRecord, error) {
	query := `
        SELECT id, campaign_id, email, status, last_error, claimed_at, created_at, updated_at
        FROM delivery_records
        WHERE status='queued' AND id > $1
        ORDER BY id
        LIMIT $2
    `
	recs := []model.DeliveryRecord{}
	if err := r.DB.SelectContext(ctx, &recs, query, afterID, limit); err != nil {
		return nil, err
	}
	return recs, nil
}

func (r *DeliveryRepository) Claim(ctx context.Context, id int, staleBefore time.Time) (bool, error) {
	query := `
        UPDATE delivery_records SET claimed_at=NOW(), updated_at=NOW()
        WHERE id=$1 AND status='queued' AND (claimed_at IS NULL OR claimed_at < $2)
    `
	res, err := r.DB.ExecContext(ctx, query, id, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claim delivery record %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *DeliveryRepository) Complete(ctx context.Context, id int, status, lastError string) (done bool, err error) {
	if status != model.DeliverySent && status != model.DeliveryFailed {
		return false, fmt.Errorf("invalid terminal status %q", status)
	}

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

	var campaignID int
	err = tx.QueryRowxContext(ctx, `
        UPDATE delivery_records SET status=$1, last_error=$2, updated_at=NOW()
        WHERE id=$3 AND status='queued'
        RETURNING campaign_id
    `, status, lastError, id).Scan(&campaignID)
	if errors.Is(err, sql.ErrNoRows) {
		// already terminal, nothing to do
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if status == model.DeliverySent {
		_, err = tx.ExecContext(ctx,
			`UPDATE campaigns SET delivered_number = delivered_number + 1 WHERE id=$1`, campaignID)
		if err != nil {
			return false, fmt.Errorf("increment delivered for campaign %d: %w", campaignID, err)
		}
	}
	return true, nil
}

var _ DeliveryRepositoryInterface = (*DeliveryRepository)(nil)
