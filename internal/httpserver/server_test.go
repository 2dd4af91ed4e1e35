package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Skotchmaster/football_stats/internal/events"
	"github.com/Skotchmaster/football_stats/internal/live"
	"github.com/Skotchmaster/football_stats/internal/metrics"
	"github.com/Skotchmaster/football_stats/internal/middleware"
	"github.com/Skotchmaster/football_stats/internal/models"
	"github.com/Skotchmaster/football_stats/internal/ratelimit"
	"github.com/Skotchmaster/football_stats/internal/repo"
	"github.com/Skotchmaster/football_stats/internal/service"
	"github.com/Skotchmaster/football_stats/internal/testutil"
	"github.com/Skotchmaster/football_stats/pkg/authclient"
	"github.com/Skotchmaster/football_stats/pkg/hash"
	"github.com/Skotchmaster/football_stats/pkg/logging"
	"github.com/Skotchmaster/football_stats/pkg/tokens"
)

type outbox struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (o *outbox) NotifyReset(_ context.Context, u *models.User, token string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens[u.Email] = token
	return nil
}

func (o *outbox) get(email string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tokens[email]
}

type testServer struct {
	url     string
	client  *authclient.Client
	auth    *service.AuthService
	refresh *repo.RefreshStore
	events  *events.Recorder
	outbox  *outbox
}

func newTestServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()

	db := testutil.NewDB(t)
	codec, err := tokens.NewCodec([]byte("http-test-secret"), "HS256")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	users := &repo.GormRepo{DB: db}
	refresh := &repo.RefreshStore{DB: db}
	rec := &events.Recorder{}
	box := &outbox{tokens: map[string]string{}}

	authSvc := &service.AuthService{
		Users:   users,
		Tokens:  refresh,
		Hasher:  hash.NewHasher(bcrypt.MinCost),
		Codec:   codec,
		Events:  rec,
		Metrics: m,
		Cfg:     service.Config{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour},
	}
	usersSvc := &service.UserService{
		Users:    users,
		Resets:   &repo.ResetStore{DB: db},
		Auth:     authSvc,
		Notifier: box,
	}
	hub := live.NewHub(nil, nil)

	log := logging.NewWithWriter(io.Discard, "error")
	e := New(log, nil, &Deps{
		DB:           db,
		AuthHandler:  &AuthHTTP{Svc: authSvc},
		UsersHandler: &UsersHTTP{Svc: usersSvc},
		LiveHandler:  &LiveHTTP{Hub: hub},
		Hub:          hub,
		Gate:         middleware.NewGate(codec, users, m),
		LoginLimiter: limiter,
		Metrics:      metrics.Handler(reg),
	})

	srv := httptest.NewServer(e)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &testServer{
		url:     srv.URL,
		client:  authclient.NewClient(srv.URL),
		auth:    authSvc,
		refresh: refresh,
		events:  rec,
		outbox:  box,
	}
}

// seed registers a user directly through the service and logs it in.
func (s *testServer) seed(t *testing.T, username string, role models.Role) (*models.User, *authclient.LoginResponse) {
	t.Helper()
	ctx := context.Background()
	u, err := s.auth.Register(ctx, service.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "password1",
	}, role)
	require.NoError(t, err)
	tok, err := s.client.LoginJSON(ctx, username, "password1")
	require.NoError(t, err)
	return u, tok
}

func TestScenario_RegisterLoginMe(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	_, admin := s.seed(t, "root", models.RoleAdmin)

	alice, err := s.client.Register(ctx, authclient.RegisterRequest{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password1",
	})
	require.NoError(t, err)
	assert.Equal(t, "user", alice.Role)
	assert.True(t, alice.IsActive)

	_, err = s.client.Register(ctx, authclient.RegisterRequest{
		Username: "alice2",
		Email:    "alice@example.com",
		Password: "password1",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, authclient.StatusOf(err))
	assert.Contains(t, err.Error(), "email already registered")

	page, err := s.client.ListUsers(ctx, admin.AccessToken, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Meta.Total, "the conflicting registration created no row")

	tok, err := s.client.LoginJSON(ctx, "alice", "password1")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.RefreshToken)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.Equal(t, alice.ID, tok.UserID)

	me, err := s.client.Me(ctx, tok.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)
	assert.Equal(t, "user", me.Role)
}

func TestScenario_RefreshTwiceWithSameToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	s.seed(t, "alice", models.RoleUser)

	tok, err := s.client.LoginJSON(ctx, "alice", "password1")
	require.NoError(t, err)

	next, err := s.client.RefreshTokens(ctx, tok.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, tok.RefreshToken, next.RefreshToken)
	assert.NotEmpty(t, next.AccessToken)

	_, err = s.client.RefreshTokens(ctx, tok.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, authclient.StatusOf(err))

	_, err = s.client.RefreshTokens(ctx, next.RefreshToken)
	assert.NoError(t, err)
}

func TestScenario_AdminOnlyListing(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	_, user := s.seed(t, "alice", models.RoleUser)
	_, admin := s.seed(t, "root", models.RoleAdmin)

	_, err := s.client.ListUsers(ctx, user.AccessToken, 1, 10)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, authclient.StatusOf(err))
	assert.Contains(t, err.Error(), "insufficient permissions: requires one of [admin]")

	page, err := s.client.ListUsers(ctx, admin.AccessToken, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, page.Meta.Total)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "alice", page.Data[0].Username)
}

func TestAuthRoutes_Unauthorized(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)

	for _, path := range []string{"/auth/me", "/users/me", "/users"} {
		req, err := http.NewRequest(http.MethodGet, s.url+path, nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer not-a-token")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"), path)
	}
}

func TestAuthRoutes_FormLoginAndFailures(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	alice, _ := s.seed(t, "alice", models.RoleUser)

	access, err := s.client.Login(ctx, "alice", "password1")
	require.NoError(t, err)
	assert.Equal(t, "bearer", access.TokenType)

	me, err := s.client.Me(ctx, access.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, me.ID)

	for _, creds := range [][2]string{{"alice", "wrong-password1"}, {"nobody", "password1"}} {
		_, err := s.client.LoginJSON(ctx, creds[0], creds[1])
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, authclient.StatusOf(err))
		assert.Contains(t, err.Error(), "incorrect username or password")
	}

	_, err = s.client.Login(ctx, "alice", "")
	assert.Equal(t, http.StatusBadRequest, authclient.StatusOf(err))
}

func TestAuthRoutes_LogoutAndLogoutAll(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	_, first := s.seed(t, "alice", models.RoleUser)
	second, err := s.client.LoginJSON(ctx, "alice", "password1")
	require.NoError(t, err)

	require.NoError(t, s.client.Logout(ctx, first.RefreshToken))
	require.NoError(t, s.client.Logout(ctx, first.RefreshToken), "logout is idempotent")
	_, err = s.client.RefreshTokens(ctx, first.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, authclient.StatusOf(err))

	third, err := s.client.LoginJSON(ctx, "alice", "password1")
	require.NoError(t, err)

	require.NoError(t, s.client.LogoutAll(ctx, third.AccessToken))
	for _, tok := range []string{second.RefreshToken, third.RefreshToken} {
		_, err := s.client.RefreshTokens(ctx, tok)
		assert.Equal(t, http.StatusUnauthorized, authclient.StatusOf(err))
	}

	err = s.client.LogoutAll(ctx, "")
	assert.Equal(t, http.StatusUnauthorized, authclient.StatusOf(err))
}

func TestAuthRoutes_RegisterAdmin(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	_, user := s.seed(t, "alice", models.RoleUser)
	_, admin := s.seed(t, "root", models.RoleAdmin)

	req := authclient.RegisterRequest{Username: "second_admin", Email: "admin2@example.com", Password: "password1"}

	_, err := s.client.RegisterAdmin(ctx, user.AccessToken, req)
	assert.Equal(t, http.StatusForbidden, authclient.StatusOf(err))

	_, err = s.client.RegisterAdmin(ctx, "", req)
	assert.Equal(t, http.StatusUnauthorized, authclient.StatusOf(err))

	created, err := s.client.RegisterAdmin(ctx, admin.AccessToken, req)
	require.NoError(t, err)
	assert.Equal(t, "admin", created.Role)
}

func TestAuthRoutes_RegisterValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)

	_, err := s.client.Register(context.Background(), authclient.RegisterRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "short",
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, authclient.StatusOf(err))
	assert.Contains(t, err.Error(), "password")
}

func TestUsersRoutes_AdminManagement(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	alice, user := s.seed(t, "alice", models.RoleUser)
	root, admin := s.seed(t, "root", models.RoleAdmin)

	found, err := s.client.SearchUsers(ctx, admin.AccessToken, "ali")
	require.NoError(t, err)
	require.Len(t, found.Data, 1)
	assert.Equal(t, alice.ID, found.Data[0].ID)

	promoted, err := s.client.UpdateUser(ctx, admin.AccessToken, alice.ID, map[string]any{"role": "editor"})
	require.NoError(t, err)
	assert.Equal(t, "editor", promoted.Role)

	_, err = s.client.UpdateUser(ctx, admin.AccessToken, alice.ID, map[string]any{"role": "owner"})
	assert.Equal(t, http.StatusUnprocessableEntity, authclient.StatusOf(err))

	_, err = s.client.UpdateUser(ctx, admin.AccessToken, 9999, map[string]any{"full_name": "x"})
	assert.Equal(t, http.StatusNotFound, authclient.StatusOf(err))

	deactivated, err := s.client.UpdateUser(ctx, admin.AccessToken, alice.ID, map[string]any{"is_active": false})
	require.NoError(t, err)
	assert.False(t, deactivated.IsActive)

	_, err = s.client.Me(ctx, user.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, authclient.StatusOf(err), "inactive identities are rejected by the gate")
	_, err = s.client.RefreshTokens(ctx, user.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, authclient.StatusOf(err))

	err = s.client.DeleteUser(ctx, admin.AccessToken, root.ID)
	assert.Equal(t, http.StatusBadRequest, authclient.StatusOf(err))

	require.NoError(t, s.client.DeleteUser(ctx, admin.AccessToken, alice.ID))
	err = s.client.DeleteUser(ctx, admin.AccessToken, alice.ID)
	assert.Equal(t, http.StatusNotFound, authclient.StatusOf(err))
}

func TestUsersRoutes_PasswordReset(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	ctx := context.Background()
	_, tok := s.seed(t, "alice", models.RoleUser)

	require.NoError(t, s.client.RequestPasswordReset(ctx, "nobody@example.com"))
	require.NoError(t, s.client.RequestPasswordReset(ctx, "alice@example.com"))
	reset := s.outbox.get("alice@example.com")
	require.NotEmpty(t, reset)

	access, err := s.client.ConfirmPasswordReset(ctx, reset, "fresh-pass42")
	require.NoError(t, err)
	me, err := s.client.Me(ctx, access.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)

	_, err = s.client.ConfirmPasswordReset(ctx, reset, "fresh-pass42")
	assert.Equal(t, http.StatusBadRequest, authclient.StatusOf(err))

	_, err = s.client.RefreshTokens(ctx, tok.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, authclient.StatusOf(err))

	_, err = s.client.LoginJSON(ctx, "alice", "fresh-pass42")
	assert.NoError(t, err)
	assert.Contains(t, s.events.Types(), events.PasswordResetCompleted)
}

func TestLoginRateLimit(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, ratelimit.NewLocalLimiter(2, time.Minute))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.client.LoginJSON(ctx, "nobody", "password1")
		assert.Equal(t, http.StatusUnauthorized, authclient.StatusOf(err))
	}
	_, err := s.client.LoginJSON(ctx, "nobody", "password1")
	assert.Equal(t, http.StatusTooManyRequests, authclient.StatusOf(err))
	assert.Contains(t, err.Error(), "too many login attempts")
}

func TestLiveMatchUpdates(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	_, user := s.seed(t, "alice", models.RoleUser)
	_, editor := s.seed(t, "erin", models.RoleEditor)

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.url, "http")+"/ws/matches", nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var welcome map[string]any
	require.NoError(t, conn.ReadJSON(&welcome))
	assert.Equal(t, "info", welcome["type"])

	publish := func(access string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, s.url+"/matches/12/live", strings.NewReader(`{"home_score":2,"away_score":1}`))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+access)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	forbidden := publish(user.AccessToken)
	_ = forbidden.Body.Close()
	assert.Equal(t, http.StatusForbidden, forbidden.StatusCode)

	accepted := publish(editor.AccessToken)
	defer accepted.Body.Close()
	require.Equal(t, http.StatusAccepted, accepted.StatusCode)
	var ack map[string]int
	require.NoError(t, json.NewDecoder(accepted.Body).Decode(&ack))
	assert.Equal(t, 1, ack["delivered"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var update struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "match_update", update.Type)
	assert.EqualValues(t, 12, update.Data["match_id"])
	assert.EqualValues(t, 2, update.Data["home_score"])
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, nil)
	s.seed(t, "alice", models.RoleUser)

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(s.url + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(s.url + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `auth_login_attempts_total{result="success"} 1`)
}
