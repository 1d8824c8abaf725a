package model

import "time"

const (
	DeliveryQueued = "queued"
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// DeliveryRecord tracks one outbound message for one recipient of a campaign.
// Status moves queued -> sent or queued -> failed and never back. A queued
// record is claimed by exactly one sender before the message goes out.
type DeliveryRecord struct {
	ID         int        `db:"id" json:"id"`
	CampaignID int        `db:"campaign_id" json:"campaign_id"`
	Email      string     `db:"email" json:"email"`
	Status     string     `db:"status" json:"status"`
	LastError  string     `db:"last_error" json:"last_error,omitempty"`
	ClaimedAt  *time.Time `db:"claimed_at" json:"claimed_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

func (r *DeliveryRecord) Terminal() bool {
	return r.Status == DeliverySent || r.Status == DeliveryFailed
}
