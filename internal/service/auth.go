package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Skotchmaster/football_stats/internal/events"
	"github.com/Skotchmaster/football_stats/internal/metrics"
	"github.com/Skotchmaster/football_stats/internal/models"
	"github.com/Skotchmaster/football_stats/internal/repo"
	"github.com/Skotchmaster/football_stats/pkg/hash"
	"github.com/Skotchmaster/football_stats/pkg/logging"
	"github.com/Skotchmaster/football_stats/pkg/tokens"
)

type UserStore interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
	Update(ctx context.Context, id uint, fields map[string]any) (*models.User, error)
}

type TokenStore interface {
	Issue(ctx context.Context, userID uint, ttl time.Duration) (string, *models.RefreshToken, error)
	Lookup(ctx context.Context, value string) (*models.RefreshToken, error)
	IsValid(rec *models.RefreshToken) bool
	Revoke(ctx context.Context, value string) (bool, error)
	RevokeAll(ctx context.Context, userID uint) (int64, error)
	Rotate(ctx context.Context, value string, userID uint, ttl time.Duration) (string, *models.RefreshToken, error)
}

// Indexer mirrors users into a search directory.
type Indexer interface {
	Upsert(ctx context.Context, u *models.User) error
	Remove(ctx context.Context, id uint) error
}

type Config struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type AuthService struct {
	Users     UserStore
	Tokens    TokenStore
	Hasher    *hash.Hasher
	Codec     *tokens.Codec
	Events    events.Publisher
	Directory Indexer
	Metrics   *metrics.Auth
	Cfg       Config

	dummyOnce sync.Once
	dummyHash string
}

type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
	User         *models.User
}

type RegisterInput struct {
	Username string
	Email    string
	FullName string
	Password string
}

func (s *AuthService) accessTTL() time.Duration {
	if s.Cfg.AccessTTL > 0 {
		return s.Cfg.AccessTTL
	}
	return 30 * time.Minute
}

// Authenticate returns the active user owning username and password. Every
// rejection is ErrInvalidCredentials; the cause is only logged.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.authenticate", "username", username)

	user, err := s.Users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// burn a verification so unknown users cost the same as wrong passwords
			s.Hasher.Verify(password, s.placeholderHash())
			l.Warn("authenticate_failed", "reason", "unknown user")
			return nil, ErrInvalidCredentials
		}
		l.Error("authenticate_failed", "reason", "user lookup", "error", err)
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !s.Hasher.Verify(password, user.HashedPassword) {
		l.Warn("authenticate_failed", "reason", "wrong password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		l.Warn("authenticate_failed", "reason", "inactive user", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *AuthService) placeholderHash() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.Hasher.Hash("placeholder-password-0")
	})
	return s.dummyHash
}

// MintAccess signs an access token carrying u's identity.
func (s *AuthService) MintAccess(u *models.User) (string, time.Time, error) {
	return s.Codec.Mint(tokens.Identity{
		Subject: u.Username,
		UserID:  u.ID,
		Role:    u.Role.String(),
	}, s.accessTTL())
}

// LoginAccess authenticates and returns an access token only, without a refresh token.
func (s *AuthService) LoginAccess(ctx context.Context, username, password string) (string, time.Time, *models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login_access", "username", username)

	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		s.Metrics.Login(loginResult(err))
		return "", time.Time{}, nil, err
	}
	access, exp, err := s.MintAccess(user)
	if err != nil {
		s.Metrics.Login("error")
		l.Error("login_failed", "status", 500, "reason", "cannot mint access token", "error", err)
		return "", time.Time{}, nil, err
	}
	s.Metrics.Login("success")
	s.publish(ctx, events.UserLoggedIn, user)
	l.Info("login_successful", "user_id", user.ID)
	return access, exp, user, nil
}

// Login authenticates and issues an access token plus a persisted refresh token.
// Either both are returned or neither.
func (s *AuthService) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.login", "username", username)

	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		s.Metrics.Login(loginResult(err))
		return nil, err
	}

	access, accessExp, err := s.MintAccess(user)
	if err != nil {
		s.Metrics.Login("error")
		l.Error("login_failed", "status", 500, "reason", "cannot mint access token", "error", err)
		return nil, err
	}

	refresh, rec, err := s.Tokens.Issue(ctx, user.ID, s.Cfg.RefreshTTL)
	if err != nil {
		s.Metrics.Login("error")
		l.Error("login_failed", "status", 500, "reason", "cannot store refresh token", "error", err)
		return nil, err
	}

	s.Metrics.Login("success")
	s.publish(ctx, events.UserLoggedIn, user)
	l.Info("login_successful", "user_id", user.ID)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		AccessExp:    accessExp,
		RefreshExp:   rec.ExpiresAt,
		User:         user,
	}, nil
}

// Refresh consumes a refresh token and returns a new pair. The presented token
// is single use: a successful call always replaces it.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	l := logging.FromContext(ctx).With("svc", "auth.refresh")

	rec, err := s.Tokens.Lookup(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.Metrics.Refresh("unknown")
			l.Warn("refresh_rejected", "reason", "unknown token")
			return nil, ErrRefreshFailed
		}
		s.Metrics.Refresh("error")
		l.Error("refresh_failed", "reason", "token lookup", "error", err)
		return nil, fmt.Errorf("lookup refresh token: %w", err)
	}
	l = l.With("user_id", rec.UserID)

	if !s.Tokens.IsValid(rec) {
		if _, err := s.Tokens.Revoke(ctx, refreshToken); err != nil {
			l.Error("refresh_cleanup_failed", "reason", "cannot delete expired token", "error", err)
		}
		s.Metrics.Refresh("expired")
		l.Warn("refresh_rejected", "reason", "expired token")
		return nil, ErrRefreshFailed
	}

	user, err := s.Users.FindByID(ctx, rec.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.Metrics.Refresh("inactive")
			l.Warn("refresh_rejected", "reason", "user missing")
			return nil, ErrRefreshFailed
		}
		s.Metrics.Refresh("error")
		l.Error("refresh_failed", "reason", "user lookup", "error", err)
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.IsActive {
		s.Metrics.Refresh("inactive")
		l.Warn("refresh_rejected", "reason", "inactive user")
		return nil, ErrRefreshFailed
	}

	access, accessExp, err := s.MintAccess(user)
	if err != nil {
		s.Metrics.Refresh("error")
		l.Error("refresh_failed", "reason", "cannot mint access token", "error", err)
		return nil, err
	}

	newRefresh, newRec, err := s.Tokens.Rotate(ctx, refreshToken, user.ID, s.Cfg.RefreshTTL)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.Metrics.Refresh("replayed")
			l.Warn("refresh_rejected", "reason", "token already consumed")
			return nil, ErrRefreshFailed
		}
		s.Metrics.Refresh("error")
		l.Error("refresh_failed", "reason", "cannot rotate token", "error", err)
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	s.Metrics.Refresh("rotated")
	l.Info("refresh_successful")

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: newRefresh,
		AccessExp:    accessExp,
		RefreshExp:   newRec.ExpiresAt,
		User:         user,
	}, nil
}

// Logout revokes one refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout")

	deleted, err := s.Tokens.Revoke(ctx, refreshToken)
	if err != nil {
		l.Error("logout_failed", "status", 500, "reason", "cannot revoke refresh token", "error", err)
		return err
	}
	l.Info("logout", "revoked", deleted)
	return nil
}

// LogoutAll revokes every refresh token of userID.
func (s *AuthService) LogoutAll(ctx context.Context, userID uint) error {
	l := logging.FromContext(ctx).With("svc", "auth.logout_all", "user_id", userID)

	n, err := s.Tokens.RevokeAll(ctx, userID)
	if err != nil {
		l.Error("logout_all_failed", "status", 500, "error", err)
		return err
	}
	s.publish(ctx, events.UserLoggedOutAll, &models.User{ID: userID})
	l.Info("logout_all", "revoked", n)
	return nil
}

// Register creates an active identity with role. Email and username
// uniqueness are checked before anything is written.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, role models.Role) (*models.User, error) {
	l := logging.FromContext(ctx).With("svc", "auth.register", "username", in.Username)

	if !role.Valid() {
		return nil, invalid("role", "unknown role")
	}
	if err := validateUsername(in.Username); err != nil {
		return nil, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	if err := s.ensureAvailable(ctx, email, in.Username); err != nil {
		if !errors.Is(err, ErrEmailTaken) && !errors.Is(err, ErrUsernameTaken) {
			l.Error("register_failed", "status", 500, "reason", "uniqueness check", "error", err)
		} else {
			l.Warn("register_failed", "status", 400, "reason", err.Error())
		}
		return nil, err
	}

	pwHash, err := s.Hasher.Hash(in.Password)
	if err != nil {
		l.Error("register_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return nil, err
	}

	user := &models.User{
		Username:       in.Username,
		Email:          email,
		FullName:       in.FullName,
		HashedPassword: pwHash,
		IsActive:       true,
		Role:           role,
	}
	if err := s.Users.Create(ctx, user); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			// lost a race with a concurrent registration
			if cErr := s.ensureAvailable(ctx, email, in.Username); cErr != nil {
				return nil, cErr
			}
			return nil, ErrUsernameTaken
		}
		l.Error("register_failed", "status", 500, "reason", "cannot create user", "error", err)
		return nil, err
	}

	s.publish(ctx, events.UserRegistered, user)
	s.index(ctx, user)
	l.Info("register_successful", "user_id", user.ID, "role", user.Role)
	return user, nil
}

func (s *AuthService) ensureAvailable(ctx context.Context, email, username string) error {
	if _, err := s.Users.FindByEmail(ctx, email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	if _, err := s.Users.FindByUsername(ctx, username); err == nil {
		return ErrUsernameTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return nil
}

func (s *AuthService) publish(ctx context.Context, typ events.Type, u *models.User) {
	if s.Events == nil {
		return
	}
	ev := events.Event{Type: typ, UserID: u.ID, Username: u.Username, At: time.Now().UTC()}
	if err := s.Events.Publish(ctx, ev); err != nil {
		logging.FromContext(ctx).Warn("event_publish_failed", "type", typ, "user_id", u.ID, "error", err)
	}
}

func (s *AuthService) index(ctx context.Context, u *models.User) {
	if s.Directory == nil {
		return
	}
	if err := s.Directory.Upsert(ctx, u); err != nil {
		logging.FromContext(ctx).Warn("directory_upsert_failed", "user_id", u.ID, "error", err)
	}
}

func loginResult(err error) string {
	if errors.Is(err, ErrInvalidCredentials) {
		return "invalid_credentials"
	}
	return "error"
}
