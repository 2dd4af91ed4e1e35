package repo

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/Skotchmaster/football_stats/internal/models"
)

type GormRepo struct {
	DB *gorm.DB
}

func (r *GormRepo) FindByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *GormRepo) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (r *GormRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.DB.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(email)).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// Create inserts u and fills its ID. A unique index violation yields ErrConflict.
func (r *GormRepo) Create(ctx context.Context, u *models.User) error {
	if err := r.DB.WithContext(ctx).Create(u).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create user: %w", ErrConflict)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Update applies fields to the user with id and returns the stored row.
func (r *GormRepo) Update(ctx context.Context, id uint, fields map[string]any) (*models.User, error) {
	if err := updateUser(r.DB.WithContext(ctx), id, fields); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

// UpdateAndRevokeSessions applies fields and deletes every refresh token of
// the user in one transaction. It returns the stored row and the number of
// revoked tokens; on any failure nothing is changed.
func (r *GormRepo) UpdateAndRevokeSessions(ctx context.Context, id uint, fields map[string]any) (*models.User, int64, error) {
	var (
		user    models.User
		revoked int64
	)
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateUser(tx, id, fields); err != nil {
			return err
		}
		res := tx.Where("user_id = ?", id).Delete(&models.RefreshToken{})
		if res.Error != nil {
			return fmt.Errorf("revoke sessions: %w", res.Error)
		}
		revoked = res.RowsAffected
		if err := tx.Where("id = ?", id).First(&user).Error; err != nil {
			return notFound(err)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &user, revoked, nil
}

func updateUser(tx *gorm.DB, id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	res := tx.Model(&models.User{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return fmt.Errorf("update user: %w", ErrConflict)
		}
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormRepo) List(ctx context.Context, offset, limit int) ([]models.User, int64, error) {
	var total int64
	tx := r.DB.WithContext(ctx)
	if err := tx.Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	users := make([]models.User, 0, limit)
	if err := tx.Order("id ASC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Search matches q against username, email and full name.
func (r *GormRepo) Search(ctx context.Context, q string, offset, limit int) ([]models.User, int64, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(q))) + "%"
	where := "LOWER(username) LIKE ? ESCAPE '\\' OR LOWER(email) LIKE ? ESCAPE '\\' OR LOWER(full_name) LIKE ? ESCAPE '\\'"

	var total int64
	tx := r.DB.WithContext(ctx)
	if err := tx.Model(&models.User{}).Where(where, pattern, pattern, pattern).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	users := make([]models.User, 0, limit)
	if err := tx.Where(where, pattern, pattern, pattern).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Delete removes the user together with every token it owns.
func (r *GormRepo) Delete(ctx context.Context, id uint) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
