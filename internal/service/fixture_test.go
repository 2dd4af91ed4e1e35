package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Skotchmaster/football_stats/internal/events"
	"github.com/Skotchmaster/football_stats/internal/metrics"
	"github.com/Skotchmaster/football_stats/internal/models"
	"github.com/Skotchmaster/football_stats/internal/repo"
	"github.com/Skotchmaster/football_stats/internal/testutil"
	"github.com/Skotchmaster/football_stats/pkg/hash"
	"github.com/Skotchmaster/football_stats/pkg/tokens"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	auth    *AuthService
	users   *UserService
	repo    *repo.GormRepo
	refresh *repo.RefreshStore
	resets  *repo.ResetStore
	events  *events.Recorder
	clock   *fakeClock
	mailbox *mailbox
}

// mailbox captures reset tokens instead of delivering them.
type mailbox struct {
	mu     sync.Mutex
	tokens map[uint]string
}

func (m *mailbox) NotifyReset(_ context.Context, u *models.User, token string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = map[uint]string{}
	}
	m.tokens[u.ID] = token
	return nil
}

func (m *mailbox) last(id uint) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[id]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	clk := &fakeClock{t: time.Now().UTC().Truncate(time.Second)}

	codec, err := tokens.NewCodec([]byte("service-test-secret"), "HS256")
	require.NoError(t, err)
	codec.Now = clk.Now

	users := &repo.GormRepo{DB: db}
	refresh := &repo.RefreshStore{DB: db, Now: clk.Now}
	resets := &repo.ResetStore{DB: db, Now: clk.Now}
	rec := &events.Recorder{}
	box := &mailbox{}

	auth := &AuthService{
		Users:   users,
		Tokens:  refresh,
		Hasher:  hash.NewHasher(bcrypt.MinCost),
		Codec:   codec,
		Events:  rec,
		Metrics: metrics.New(prometheus.NewRegistry()),
		Cfg:     Config{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour},
	}

	return &fixture{
		auth: auth,
		users: &UserService{
			Users:    users,
			Resets:   resets,
			Auth:     auth,
			Notifier: box,
			Now:      clk.Now,
		},
		repo:    users,
		refresh: refresh,
		resets:  resets,
		events:  rec,
		clock:   clk,
		mailbox: box,
	}
}

func (f *fixture) register(t *testing.T, username string, role models.Role) *models.User {
	t.Helper()
	u, err := f.auth.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		FullName: username,
		Password: "password1",
	}, role)
	require.NoError(t, err)
	return u
}
