package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"workthread-notify-backend/internal/model"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// Keys is the encryption key material a browser hands out with a subscription.
type Keys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

// Store defines the interface for all database operations.
type Store interface {
	// RegisterSubscription upserts by endpoint. created is false when an
	// existing row for the endpoint was updated instead.
	RegisterSubscription(ctx context.Context, userID int64, endpoint string, keys Keys) (sub model.PushSubscription, created bool, err error)
	// UnregisterSubscription deletes the row matching both user and
	// endpoint. A missing row is not an error.
	UnregisterSubscription(ctx context.Context, userID int64, endpoint string) error
	GetSubscription(ctx context.Context, id int64) (model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, id int64) error
	SubscriptionsForUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error)

	GetUser(ctx context.Context, id int64) (model.User, error)
	UpsertUser(ctx context.Context, user model.User) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db, now: time.Now}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// RegisterSubscription creates or refreshes the subscription for an endpoint.
func (s *gormStore) RegisterSubscription(ctx context.Context, userID int64, endpoint string, keys Keys) (model.PushSubscription, bool, error) {
	var (
		sub     model.PushSubscription
		created bool
	)
	now := s.now().UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("endpoint = ?", endpoint).First(&sub).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fresh := model.PushSubscription{
				UserID:    userID,
				Endpoint:  endpoint,
				P256DH:    keys.P256DH,
				Auth:      keys.Auth,
				CreatedAt: now,
				LastSeen:  now,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "endpoint"}},
				DoNothing: true,
			}).Create(&fresh)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				sub, created = fresh, true
				return nil
			}
			// A concurrent registration inserted the endpoint first; refresh
			// its row instead.
			err = tx.Where("endpoint = ?", endpoint).First(&sub).Error
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&sub).Updates(map[string]any{
			"user_id":   userID,
			"p256dh":    keys.P256DH,
			"auth":      keys.Auth,
			"last_seen": now,
		}).Error; err != nil {
			return err
		}
		sub.UserID = userID
		sub.P256DH = keys.P256DH
		sub.Auth = keys.Auth
		sub.LastSeen = now
		return nil
	})
	if err != nil {
		return model.PushSubscription{}, false, fmt.Errorf("register subscription: %w", err)
	}
	return sub, created, nil
}

func (s *gormStore) UnregisterSubscription(ctx context.Context, userID int64, endpoint string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND endpoint = ?", userID, endpoint).
		Delete(&model.PushSubscription{}).Error
	if err != nil {
		return fmt.Errorf("unregister subscription: %w", err)
	}
	return nil
}

func (s *gormStore) GetSubscription(ctx context.Context, id int64) (model.PushSubscription, error) {
	var sub model.PushSubscription
	err := s.db.WithContext(ctx).First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sub, ErrNotFound
	}
	if err != nil {
		return sub, fmt.Errorf("get subscription %d: %w", id, err)
	}
	return sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, id int64) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{}, id).Error; err != nil {
		return fmt.Errorf("delete subscription %d: %w", id, err)
	}
	return nil
}

// SubscriptionsForUsers returns every subscription owned by the given users.
func (s *gormStore) SubscriptionsForUsers(ctx context.Context, userIDs []int64) ([]model.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).
		Where("user_id IN ?", userIDs).
		Order("id").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

func (s *gormStore) GetUser(ctx context.Context, id int64) (model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return user, ErrNotFound
	}
	if err != nil {
		return user, fmt.Errorf("get user %d: %w", id, err)
	}
	return user, nil
}

func (s *gormStore) UpsertUser(ctx context.Context, user model.User) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"full_name", "email", "updated_at"}),
	}).Create(&user).Error
}
