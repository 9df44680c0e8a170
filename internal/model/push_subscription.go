package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// Endpoint is unique: a browser re-subscribing updates the existing row.
type PushSubscription struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	UserID    int64     `gorm:"index;not null" json:"user"`
	Endpoint  string    `gorm:"size:1000;uniqueIndex;not null" json:"endpoint"`
	P256DH    string    `gorm:"column:p256dh;size:255;not null" json:"p256dh"`
	Auth      string    `gorm:"size:255;not null" json:"auth"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`
	LastSeen  time.Time `gorm:"not null" json:"last_seen"`
}
