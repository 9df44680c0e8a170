package model

import "time"

// DeliveryState is the lifecycle state of an outbox row.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryRunning   DeliveryState = "running"
	DeliveryDelivered DeliveryState = "delivered"
	DeliverySkipped   DeliveryState = "skipped" // subscription was already gone
	DeliveryPruned    DeliveryState = "pruned"  // endpoint gone, subscription deleted
	DeliveryFailed    DeliveryState = "failed"  // retry budget exhausted or dropped
)

// Terminal reports whether no worker will pick the task up again.
func (s DeliveryState) Terminal() bool {
	switch s {
	case DeliveryDelivered, DeliverySkipped, DeliveryPruned, DeliveryFailed:
		return true
	}
	return false
}

// DeliveryTask is one push delivery to one subscription, stored in the
// outbox until it reaches a terminal state. SubscriptionID carries no foreign
// key; the subscription may be deleted while the task waits.
type DeliveryTask struct {
	ID             string        `gorm:"primaryKey;size:36"`
	SubscriptionID int64         `gorm:"index;not null"`
	Payload        []byte        `gorm:"not null"`
	State          DeliveryState `gorm:"size:16;index:idx_delivery_due,priority:1;not null"`
	Attempt        int           `gorm:"not null"`
	MaxAttempts    int           `gorm:"not null"`
	NextAttemptAt  time.Time     `gorm:"index:idx_delivery_due,priority:2;not null"`
	LeaseUntil     *time.Time
	Version        int64     `gorm:"not null;default:0"`
	LastError      string    `gorm:"size:1024"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"index;not null"`
}
