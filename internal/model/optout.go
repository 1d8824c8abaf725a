package model

import "time"

// Optout marks a user who must not receive further campaign mail.
type Optout struct {
	UserID    int       `db:"user_id" json:"user_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
