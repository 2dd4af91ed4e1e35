package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/football_stats/internal/models"
)

const DefaultResetTTL = time.Hour

// ResetStore persists single-use password reset tokens.
type ResetStore struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

func (s *ResetStore) now() time.Time { return clock(s.Now).now() }

func (s *ResetStore) Issue(ctx context.Context, userID uint) (string, *models.PasswordResetToken, error) {
	raw, digest, err := newOpaqueToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate reset token: %w", err)
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultResetTTL
	}
	rec := models.PasswordResetToken{
		TokenHash: digest,
		UserID:    userID,
		ExpiresAt: s.now().Add(ttl),
	}
	if err := s.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", nil, fmt.Errorf("store reset token: %w", err)
	}
	return raw, &rec, nil
}

// Consume deletes the token and returns the record it held, expired or not.
// Only one caller can consume a given value.
func (s *ResetStore) Consume(ctx context.Context, value string) (*models.PasswordResetToken, error) {
	if value == "" {
		return nil, ErrNotFound
	}
	var rec models.PasswordResetToken
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		digest := hashToken(value)
		if err := tx.Where("token_hash = ?", digest).First(&rec).Error; err != nil {
			return notFound(err)
		}
		res := tx.Where("token_hash = ?", digest).Delete(&models.PasswordResetToken{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	return &rec, nil
}

func (s *ResetStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&models.PasswordResetToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep reset tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}
