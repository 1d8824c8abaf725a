package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/supportmail-backend/internal/errors"
	"github.com/unclebandit/supportmail-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int) ([]*model.Campaign, int, error)
	ListAll(ctx context.Context) ([]*model.Campaign, error)
	Count(ctx context.Context) (int, error)

	// Confirm flips confirmed and stores the resolved recipients together,
	// only for the original sender of an unconfirmed campaign. It reports
	// false when nothing matched.
	Confirm(ctx context.Context, id, senderID int, recipients []string) (bool, error)
	// Recipients returns the list stored at confirmation.
	Recipients(ctx context.Context, id int) ([]string, error)
	MarkPrepared(ctx context.Context, id int) error
	// ListUnprepared returns ids of confirmed campaigns whose delivery
	// records are not all created yet.
	ListUnprepared(ctx context.Context) ([]int, error)
	GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sqlx.DB
}

const campaignColumns = `id, sender_id, sender_email, subject, html_message, text_message, target, confirmed,
        to_myself, recipients_number, delivered_number, unsubscriptions, resolved_at, prepared_at, created_at, modified_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	now := time.Now()
	c.CreatedAt = now
	c.ModifiedAt = now
	query := `
        INSERT INTO campaigns (sender_id, sender_email, subject, html_message, text_message, target,
                               confirmed, to_myself, created_at, modified_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	return r.DB.QueryRowxContext(ctx, query,
		c.SenderID, c.SenderEmail, c.Subject, c.HTMLMessage, c.TextMessage, c.Target,
		c.Confirmed, c.ToMyself, c.CreatedAt, c.ModifiedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	var c model.Campaign
	err := r.DB.GetContext(ctx, &c, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	if err := r.DB.SelectContext(ctx, &campaigns, query, limit, offset); err != nil {
		return nil, 0, err
	}

	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

func (r *CampaignRepository) ListAll(ctx context.Context) ([]*model.Campaign, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns ORDER BY created_at DESC, id DESC`
	if err := r.DB.SelectContext(ctx, &campaigns, query); err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *CampaignRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM campaigns`); err != nil {
		return 0, err
	}
	return total, nil
}

// ====================== Confirmation ======================

func (r *CampaignRepository) Confirm(ctx context.Context, id, senderID int, recipients []string) (bool, error) {
	// One statement: recipients_number and resolved_at are never set on an
	// unconfirmed campaign, and never rewritten once confirmed.
	query := `
        UPDATE campaigns
        SET confirmed=TRUE, recipients_number=$3, recipient_list=$4, resolved_at=NOW(), modified_at=NOW()
        WHERE id=$1 AND sender_id=$2 AND confirmed=FALSE AND resolved_at IS NULL
    `
	if recipients == nil {
		recipients = []string{}
	}
	res, err := r.DB.ExecContext(ctx, query, id, senderID, len(recipients), pq.Array(recipients))
	if err != nil {
		return false, fmt.Errorf("confirm campaign %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *CampaignRepository) Recipients(ctx context.Context, id int) ([]string, error) {
	var list pq.StringArray
	err := r.DB.QueryRowxContext(ctx, `SELECT recipient_list FROM campaigns WHERE id=$1`, id).Scan(&list)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return []string(list), nil
}

func (r *CampaignRepository) MarkPrepared(ctx context.Context, id int) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE campaigns SET prepared_at=NOW() WHERE id=$1 AND confirmed AND prepared_at IS NULL`, id)
	return err
}

func (r *CampaignRepository) ListUnprepared(ctx context.Context) ([]int, error) {
	ids := []int{}
	err := r.DB.SelectContext(ctx, &ids,
		`SELECT id FROM campaigns WHERE confirmed AND prepared_at IS NULL ORDER BY id`)
	return ids, err
}

// ====================== Delivery stats ======================

func (r *CampaignRepository) GetCampaignStats(ctx context.Context, campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM delivery_records WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		model.DeliveryQueued: 0,
		model.DeliverySent:   0,
		model.DeliveryFailed: 0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
