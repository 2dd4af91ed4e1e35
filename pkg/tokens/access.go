package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

// AccessClaims is the payload of an access token. Subject carries the username.
type AccessClaims struct {
	UserID uint   `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type Identity struct {
	Subject string
	UserID  uint
	Role    string
}

// Codec mints and validates HMAC-signed access tokens.
type Codec struct {
	Secret []byte
	Method *jwt.SigningMethodHMAC
	Now    func() time.Time
}

func NewCodec(secret []byte, alg string) (*Codec, error) {
	if len(secret) == 0 {
		return nil, errors.New("tokens: empty signing secret")
	}
	if alg == "" {
		alg = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("tokens: unsupported algorithm %q", alg)
	}
	return &Codec{Secret: secret, Method: method, Now: time.Now}, nil
}

func (c *Codec) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Mint signs a token for id that expires ttl from now.
func (c *Codec) Mint(id Identity, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("tokens: ttl must be positive")
	}
	now := c.now()
	exp := now.Add(ttl)
	claims := AccessClaims{
		UserID: id.UserID,
		Role:   id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(c.Method, claims).SignedString(c.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("tokens: sign: %w", err)
	}
	return signed, exp, nil
}

// Validate returns the identity carried by tokenStr. Every failure wraps ErrTokenInvalid,
// except an elapsed expiry which wraps ErrTokenExpired.
func (c *Codec) Validate(tokenStr string) (*Identity, error) {
	claims, err := c.parse(tokenStr)
	if err != nil {
		return nil, err
	}
	return &Identity{Subject: claims.Subject, UserID: claims.UserID, Role: claims.Role}, nil
}

func (c *Codec) parse(tokenStr string) (*AccessClaims, error) {
	var claims AccessClaims
	tkn, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != c.Method.Alg() {
			return nil, errors.New("unexpected sign method")
		}
		return c.Secret, nil
	},
		jwt.WithValidMethods([]string{c.Method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tkn.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" || claims.UserID == 0 || claims.Role == "" {
		return nil, fmt.Errorf("%w: missing identity claims", ErrTokenInvalid)
	}
	return &claims, nil
}
