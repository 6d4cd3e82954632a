package domain

import (
	"time"
)

// Site is a monitored endpoint owned by an account.
// Sites are immutable once created; they are only ever deleted.
type Site struct {
	ID        string    `json:"id"         db:"id"`
	URL       string    `json:"url"        db:"url"`
	OwnerID   string    `json:"owner_id"   db:"owner_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
