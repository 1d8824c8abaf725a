// internal/model/campaign.go
package model

import "time"

// Campaign is one mass-mail job. Counters only grow and are changed through
// atomic increments in the repository, never by saving the whole row.
type Campaign struct {
	ID               int        `db:"id" json:"id"`
	SenderID         int        `db:"sender_id" json:"sender_id"`
	SenderEmail      string     `db:"sender_email" json:"sender_email"`
	Subject          string     `db:"subject" json:"subject"`
	HTMLMessage      string     `db:"html_message" json:"html_message"`
	TextMessage      string     `db:"text_message" json:"text_message"`
	Target           FilterSpec `db:"target" json:"target"`
	Confirmed        bool       `db:"confirmed" json:"confirmed"`
	ToMyself         bool       `db:"to_myself" json:"to_myself"`
	RecipientsNumber int        `db:"recipients_number" json:"recipients_number"`
	DeliveredNumber  int        `db:"delivered_number" json:"delivered_number"`
	Unsubscriptions  int        `db:"unsubscriptions" json:"unsubscriptions"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	PreparedAt       *time.Time `db:"prepared_at" json:"prepared_at,omitempty"` // every delivery record created
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	ModifiedAt       time.Time  `db:"modified_at" json:"modified_at"`
}
