package model

import "time"

// User is the minimal identity record the notification paths need: who a
// token belongs to and the name shown in "by" fields.
type User struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	FullName  string    `gorm:"size:256;not null" json:"full_name"`
	Email     string    `gorm:"size:256;index" json:"email"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
