package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Skotchmaster/football_stats/internal/models"
)

const DefaultRefreshTTL = 30 * 24 * time.Hour

// RefreshStore persists opaque refresh tokens. Only a SHA-256 digest of each
// token value is stored; the raw value exists solely in the client's hands.
type RefreshStore struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

func (s *RefreshStore) now() time.Time { return clock(s.Now).now() }

func (s *RefreshStore) ttl(ttl time.Duration) time.Duration {
	if ttl > 0 {
		return ttl
	}
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultRefreshTTL
}

// Issue mints a new token for userID valid for ttl (the store default when ttl <= 0).
func (s *RefreshStore) Issue(ctx context.Context, userID uint, ttl time.Duration) (string, *models.RefreshToken, error) {
	return s.issue(s.DB.WithContext(ctx), userID, ttl)
}

func (s *RefreshStore) issue(tx *gorm.DB, userID uint, ttl time.Duration) (string, *models.RefreshToken, error) {
	raw, digest, err := newOpaqueToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate refresh token: %w", err)
	}
	rec := models.RefreshToken{
		TokenHash: digest,
		UserID:    userID,
		ExpiresAt: s.now().Add(s.ttl(ttl)),
	}
	if err := tx.Create(&rec).Error; err != nil {
		return "", nil, fmt.Errorf("store refresh token: %w", err)
	}
	return raw, &rec, nil
}

func (s *RefreshStore) Lookup(ctx context.Context, value string) (*models.RefreshToken, error) {
	if value == "" {
		return nil, ErrNotFound
	}
	var rec models.RefreshToken
	if err := s.DB.WithContext(ctx).Where("token_hash = ?", hashToken(value)).First(&rec).Error; err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (s *RefreshStore) IsValid(rec *models.RefreshToken) bool {
	return rec.Valid(s.now())
}

// Revoke deletes one token and reports whether a row was removed.
func (s *RefreshStore) Revoke(ctx context.Context, value string) (bool, error) {
	if value == "" {
		return false, nil
	}
	res := s.DB.WithContext(ctx).Where("token_hash = ?", hashToken(value)).Delete(&models.RefreshToken{})
	if res.Error != nil {
		return false, fmt.Errorf("revoke refresh token: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// RevokeAll deletes every token of userID. Zero matches is not an error.
func (s *RefreshStore) RevokeAll(ctx context.Context, userID uint) (int64, error) {
	res := s.DB.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("revoke user refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SweepExpired deletes tokens whose expiry is before now in a single statement.
func (s *RefreshStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).Where("expires_at < ?", now.UTC()).Delete(&models.RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep refresh tokens: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Rotate consumes value and issues its replacement for the same user in one
// transaction. The conditional delete is the linearization point: of several
// concurrent rotations of one value exactly one deletes the row, the others
// get ErrNotFound and roll back.
func (s *RefreshStore) Rotate(ctx context.Context, value string, userID uint, ttl time.Duration) (string, *models.RefreshToken, error) {
	var (
		raw string
		rec *models.RefreshToken
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("token_hash = ? AND user_id = ? AND expires_at > ?", hashToken(value), userID, s.now()).
			Delete(&models.RefreshToken{})
		if res.Error != nil {
			return fmt.Errorf("consume refresh token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		var err error
		raw, rec, err = s.issue(tx, userID, ttl)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return raw, rec, nil
}

func (s *RefreshStore) CountForUser(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.RefreshToken{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}
