package models

import "time"

type User struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"        json:"id"`
	Username       string    `gorm:"size:50;uniqueIndex;not null"    json:"username"`
	Email          string    `gorm:"size:255;uniqueIndex;not null"   json:"email"`
	FullName       string    `gorm:"size:255"                        json:"full_name"`
	HashedPassword string    `gorm:"not null"                        json:"-"`
	IsActive       bool      `gorm:"not null"                        json:"is_active"`
	Role           Role      `gorm:"type:varchar(16);not null;default:user" json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	RefreshTokens       []RefreshToken       `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	PasswordResetTokens []PasswordResetToken `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"                json:"id"`
	TokenHash string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserID    uint      `gorm:"index;not null"               json:"user_id"`
	ExpiresAt time.Time `gorm:"index;not null"               json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Valid reports whether the token is still usable at now.
func (t *RefreshToken) Valid(now time.Time) bool {
	return t != nil && now.Before(t.ExpiresAt)
}

type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"                json:"id"`
	TokenHash string    `gorm:"size:64;uniqueIndex;not null" json:"-"`
	UserID    uint      `gorm:"index;not null"               json:"user_id"`
	ExpiresAt time.Time `gorm:"index;not null"               json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func (t *PasswordResetToken) Valid(now time.Time) bool {
	return t != nil && now.Before(t.ExpiresAt)
}

// All lists the models managed by AutoMigrate, parents first.
func All() []any {
	return []any{&User{}, &RefreshToken{}, &PasswordResetToken{}}
}
