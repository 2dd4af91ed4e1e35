package tokens

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = Identity{Subject: "alice", UserID: 7, Role: "user"}

func newTestCodec(t *testing.T, now time.Time) *Codec {
	t.Helper()
	c, err := NewCodec([]byte("test-secret"), "HS256")
	require.NoError(t, err)
	c.Now = func() time.Time { return now }
	return c
}

func TestCodec_MintValidate_RoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, now)

	token, exp, err := c.Mint(alice, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), exp)

	got, err := c.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, alice, *got)
}

func TestCodec_Validate_Expiry(t *testing.T) {
	t.Parallel()

	minted := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := newTestCodec(t, minted)
	token, _, err := c.Mint(alice, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		at      time.Time
		wantErr error
	}{
		{name: "just before expiry", at: minted.Add(59 * time.Second)},
		{name: "at expiry", at: minted.Add(time.Minute), wantErr: ErrTokenExpired},
		{name: "after expiry", at: minted.Add(time.Hour), wantErr: ErrTokenExpired},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v := newTestCodec(t, tt.at)
			got, err := v.Validate(token)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, alice, *got)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, got)
		})
	}
}

func TestCodec_Validate_Rejects(t *testing.T) {
	t.Parallel()

	now := time.Now()
	c := newTestCodec(t, now)
	token, _, err := c.Mint(alice, time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	otherSecret, err := NewCodec([]byte("another-secret"), "HS256")
	require.NoError(t, err)
	wrongSecret, _, err := otherSecret.Mint(alice, time.Hour)
	require.NoError(t, err)

	hs512, err := NewCodec([]byte("test-secret"), "HS512")
	require.NoError(t, err)
	wrongAlg, _, err := hs512.Mint(alice, time.Hour)
	require.NoError(t, err)

	noUser, _, err := c.Mint(Identity{Subject: "ghost", Role: "user"}, time.Hour)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		UserID:           7,
		Role:             "user",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, AccessClaims{
		UserID: 7,
		Role:   "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "tampered signature", token: tampered},
		{name: "wrong secret", token: wrongSecret},
		{name: "wrong algorithm", token: wrongAlg},
		{name: "missing user id", token: noUser},
		{name: "missing expiry", token: noExp},
		{name: "alg none", token: unsigned},
		{name: "garbage", token: "not-a-jwt"},
		{name: "empty", token: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := c.Validate(tt.token)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTokenInvalid)
			assert.Nil(t, got)
		})
	}
}

func TestNewCodec_Options(t *testing.T) {
	t.Parallel()

	_, err := NewCodec(nil, "HS256")
	assert.Error(t, err)

	_, err = NewCodec([]byte("s"), "RS256")
	assert.Error(t, err)

	c, err := NewCodec([]byte("s"), "")
	require.NoError(t, err)
	assert.Equal(t, "HS256", c.Method.Alg())

	_, _, err = c.Mint(alice, 0)
	assert.Error(t, err)
}
