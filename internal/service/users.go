package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Skotchmaster/football_stats/internal/directory"
	"github.com/Skotchmaster/football_stats/internal/events"
	"github.com/Skotchmaster/football_stats/internal/models"
	"github.com/Skotchmaster/football_stats/internal/repo"
	"github.com/Skotchmaster/football_stats/internal/util"
	"github.com/Skotchmaster/football_stats/pkg/logging"
)

type UserAdminStore interface {
	UserStore
	List(ctx context.Context, offset, limit int) ([]models.User, int64, error)
	Search(ctx context.Context, q string, offset, limit int) ([]models.User, int64, error)
	Delete(ctx context.Context, id uint) error
	UpdateAndRevokeSessions(ctx context.Context, id uint, fields map[string]any) (*models.User, int64, error)
}

type ResetTokenStore interface {
	Issue(ctx context.Context, userID uint) (string, *models.PasswordResetToken, error)
	Consume(ctx context.Context, value string) (*models.PasswordResetToken, error)
}

type Searcher interface {
	Search(ctx context.Context, query string, from, size int) (int64, []directory.Entry, error)
}

// ResetNotifier delivers a password reset token to its owner.
type ResetNotifier interface {
	NotifyReset(ctx context.Context, u *models.User, token string, expires time.Time) error
}

// LogNotifier only logs that a reset token was issued.
type LogNotifier struct{}

func (LogNotifier) NotifyReset(ctx context.Context, u *models.User, token string, expires time.Time) error {
	prefix := token
	if len(prefix) > 6 {
		prefix = prefix[:6]
	}
	logging.FromContext(ctx).Info("password_reset_issued",
		"user_id", u.ID, "token_prefix", prefix, "expires_at", expires)
	return nil
}

type UserService struct {
	Users    UserAdminStore
	Resets   ResetTokenStore
	Auth     *AuthService
	Search   Searcher
	Notifier ResetNotifier
	Now      func() time.Time
}

func (s *UserService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

type ProfileUpdate struct {
	Email    *string
	FullName *string
	Password *string
}

type AdminUpdate struct {
	ProfileUpdate
	Role     *models.Role
	IsActive *bool
}

type Page struct {
	Items []models.User
	Total int64
	Page  int
	Size  int
}

func (s *UserService) Me(ctx context.Context, id uint) (*models.User, error) {
	return s.Get(ctx, id)
}

func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	u, err := s.Users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// UpdateMe applies a self-service profile change. Role and active flag are not editable here.
func (s *UserService) UpdateMe(ctx context.Context, id uint, in ProfileUpdate) (*models.User, error) {
	return s.update(ctx, id, AdminUpdate{ProfileUpdate: in})
}

// AdminUpdate may additionally change role and active flag. Deactivation or a
// password change revokes every refresh token of the user.
func (s *UserService) AdminUpdate(ctx context.Context, id uint, in AdminUpdate) (*models.User, error) {
	return s.update(ctx, id, in)
}

func (s *UserService) update(ctx context.Context, id uint, in AdminUpdate) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "users.update", "user_id", id)

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if in.Email != nil {
		email, err := normalizeEmail(*in.Email)
		if err != nil {
			return nil, err
		}
		if email != current.Email {
			if other, err := s.Users.FindByEmail(ctx, email); err == nil && other.ID != id {
				return nil, ErrEmailTaken
			} else if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return nil, err
			}
			fields["email"] = email
		}
	}
	if in.FullName != nil {
		fields["full_name"] = *in.FullName
	}
	passwordChanged := false
	if in.Password != nil {
		if err := validatePassword(*in.Password); err != nil {
			return nil, err
		}
		h, err := s.Auth.Hasher.Hash(*in.Password)
		if err != nil {
			l.Error("update_failed", "status", 500, "reason", "cannot hash the password", "error", err)
			return nil, err
		}
		fields["hashed_password"] = h
		passwordChanged = true
	}
	if in.Role != nil {
		if !in.Role.Valid() {
			return nil, invalid("role", "unknown role")
		}
		fields["role"] = *in.Role
	}
	deactivated := false
	if in.IsActive != nil {
		fields["is_active"] = *in.IsActive
		deactivated = current.IsActive && !*in.IsActive
	}

	var (
		updated *models.User
		revoked int64
	)
	revoke := passwordChanged || deactivated
	if revoke {
		updated, revoked, err = s.Users.UpdateAndRevokeSessions(ctx, id, fields)
	} else {
		updated, err = s.Users.Update(ctx, id, fields)
	}
	if err != nil {
		switch {
		case errors.Is(err, repo.ErrNotFound):
			return nil, ErrUserNotFound
		case errors.Is(err, repo.ErrConflict):
			return nil, ErrEmailTaken
		}
		l.Error("update_failed", "status", 500, "reason", "cannot update user", "error", err)
		return nil, err
	}
	if revoke {
		l.Info("sessions_revoked", "count", revoked, "password_changed", passwordChanged, "deactivated", deactivated)
	}
	s.Auth.index(ctx, updated)
	l.Info("user_updated", "fields", len(fields))
	return updated, nil
}

func (s *UserService) List(ctx context.Context, page, size int) (*Page, error) {
	offset, limit := util.Calculate(page, size)
	users, total, err := s.Users.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return &Page{Items: users, Total: total, Page: offset/limit + 1, Size: limit}, nil
}

// Find searches the user directory when one is configured, otherwise the datastore.
func (s *UserService) Find(ctx context.Context, q string, page, size int) (*Page, error) {
	l := logging.FromContext(ctx).With("svc", "users.search")
	offset, limit := util.Calculate(page, size)

	if s.Search != nil {
		total, entries, err := s.Search.Search(ctx, q, offset, limit)
		if err == nil {
			items := make([]models.User, 0, len(entries))
			for _, e := range entries {
				items = append(items, models.User{
					ID:       e.ID,
					Username: e.Username,
					Email:    e.Email,
					FullName: e.FullName,
					Role:     models.Role(e.Role),
					IsActive: e.IsActive,
				})
			}
			return &Page{Items: items, Total: total, Page: offset/limit + 1, Size: limit}, nil
		}
		l.Warn("directory_search_failed", "reason", "falling back to datastore", "error", err)
	}

	users, total, err := s.Users.Search(ctx, q, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return &Page{Items: users, Total: total, Page: offset/limit + 1, Size: limit}, nil
}

// Delete removes a user and every token it owns. Admins cannot delete themselves.
func (s *UserService) Delete(ctx context.Context, actorID, id uint) error {
	l := logging.FromContext(ctx).With("svc", "users.delete", "user_id", id, "actor_id", actorID)

	if actorID == id {
		return ErrSelfDelete
	}
	if err := s.Users.Delete(ctx, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrUserNotFound
		}
		l.Error("delete_failed", "status", 500, "error", err)
		return err
	}
	if s.Auth.Directory != nil {
		if err := s.Auth.Directory.Remove(ctx, id); err != nil {
			l.Warn("directory_remove_failed", "error", err)
		}
	}
	l.Info("user_deleted")
	return nil
}

// RequestPasswordReset issues a reset token when email belongs to an active
// user. Unknown emails are not reported to the caller.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	l := logging.FromContext(ctx).With("svc", "users.reset_request")

	normalized, err := normalizeEmail(email)
	if err != nil {
		l.Warn("reset_request_ignored", "reason", "malformed email")
		return nil
	}
	u, err := s.Users.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("reset_request_ignored", "reason", "unknown email")
			return nil
		}
		l.Error("reset_request_failed", "reason", "user lookup", "error", err)
		return err
	}
	if !u.IsActive {
		l.Warn("reset_request_ignored", "reason", "inactive user", "user_id", u.ID)
		return nil
	}

	token, rec, err := s.Resets.Issue(ctx, u.ID)
	if err != nil {
		l.Error("reset_request_failed", "reason", "cannot store reset token", "error", err)
		return err
	}
	notifier := s.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if err := notifier.NotifyReset(ctx, u, token, rec.ExpiresAt); err != nil {
		l.Error("reset_request_failed", "reason", "cannot deliver reset token", "error", err)
		return err
	}
	s.Auth.publish(ctx, events.PasswordResetRequested, u)
	return nil
}

// ConfirmPasswordReset consumes token, sets newPassword, revokes all sessions
// and returns a fresh access token.
func (s *UserService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (string, time.Time, error) {
	l := logging.FromContext(ctx).With("svc", "users.reset_confirm")

	if err := validatePassword(newPassword); err != nil {
		return "", time.Time{}, err
	}

	rec, err := s.Resets.Consume(ctx, token)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			l.Warn("reset_confirm_rejected", "reason", "unknown token")
			return "", time.Time{}, ErrResetTokenInvalid
		}
		l.Error("reset_confirm_failed", "reason", "cannot consume token", "error", err)
		return "", time.Time{}, err
	}
	l = l.With("user_id", rec.UserID)
	if !rec.Valid(s.now()) {
		l.Warn("reset_confirm_rejected", "reason", "expired token")
		return "", time.Time{}, ErrResetTokenExpired
	}

	h, err := s.Auth.Hasher.Hash(newPassword)
	if err != nil {
		return "", time.Time{}, err
	}
	u, revoked, err := s.Users.UpdateAndRevokeSessions(ctx, rec.UserID, map[string]any{"hashed_password": h})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", time.Time{}, ErrUserNotFound
		}
		l.Error("reset_confirm_failed", "reason", "cannot update password", "error", err)
		return "", time.Time{}, err
	}
	l.Info("sessions_revoked", "count", revoked)

	access, exp, err := s.Auth.MintAccess(u)
	if err != nil {
		return "", time.Time{}, err
	}
	s.Auth.publish(ctx, events.PasswordResetCompleted, u)
	l.Info("password_reset_completed")
	return access, exp, nil
}
