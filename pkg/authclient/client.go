// Package authclient is a small typed client for the auth and users API.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *APIError
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

type User struct {
	ID        uint      `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	UserID       uint   `json:"user_id"`
	Username     string `json:"username"`
	Role         string `json:"role"`
}

type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type AccessResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type UserPage struct {
	Data []User `json:"data"`
	Meta struct {
		Page       int   `json:"page"`
		Size       int   `json:"size"`
		Total      int64 `json:"total"`
		TotalPages int64 `json:"total_pages"`
		HasPrev    bool  `json:"has_prev"`
		HasNext    bool  `json:"has_next"`
	} `json:"meta"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	Password string `json:"password"`
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	var out User
	return &out, c.do(ctx, http.MethodPost, "/auth/register", "", req, &out)
}

func (c *Client) RegisterAdmin(ctx context.Context, access string, req RegisterRequest) (*User, error) {
	var out User
	return &out, c.do(ctx, http.MethodPost, "/auth/register/admin", access, req, &out)
}

// Login uses the form endpoint, which returns an access token only.
func (c *Client) Login(ctx context.Context, username, password string) (*AccessResponse, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var out AccessResponse
	return &out, c.send(req, &out)
}

func (c *Client) LoginJSON(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	body := map[string]string{"username": username, "password": password}
	return &out, c.do(ctx, http.MethodPost, "/auth/login/json", "", body, &out)
}

func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var out RefreshResponse
	body := map[string]string{"refresh_token": refreshToken}
	return &out, c.do(ctx, http.MethodPost, "/auth/refresh", "", body, &out)
}

func (c *Client) Logout(ctx context.Context, refreshToken string) error {
	body := map[string]string{"refresh_token": refreshToken}
	return c.do(ctx, http.MethodPost, "/auth/logout", "", body, nil)
}

func (c *Client) LogoutAll(ctx context.Context, access string) error {
	return c.do(ctx, http.MethodPost, "/auth/logout/all", access, nil, nil)
}

func (c *Client) Me(ctx context.Context, access string) (*User, error) {
	var out User
	return &out, c.do(ctx, http.MethodGet, "/auth/me", access, nil, &out)
}

func (c *Client) ListUsers(ctx context.Context, access string, page, size int) (*UserPage, error) {
	var out UserPage
	path := "/users?page=" + strconv.Itoa(page) + "&size=" + strconv.Itoa(size)
	return &out, c.do(ctx, http.MethodGet, path, access, nil, &out)
}

func (c *Client) SearchUsers(ctx context.Context, access, q string) (*UserPage, error) {
	var out UserPage
	return &out, c.do(ctx, http.MethodGet, "/users/search?q="+url.QueryEscape(q), access, nil, &out)
}

func (c *Client) UpdateUser(ctx context.Context, access string, id uint, fields map[string]any) (*User, error) {
	var out User
	return &out, c.do(ctx, http.MethodPut, "/users/"+strconv.FormatUint(uint64(id), 10), access, fields, &out)
}

func (c *Client) DeleteUser(ctx context.Context, access string, id uint) error {
	return c.do(ctx, http.MethodDelete, "/users/"+strconv.FormatUint(uint64(id), 10), access, nil, nil)
}

func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/users/reset-password/request", "", map[string]string{"email": email}, nil)
}

func (c *Client) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (*AccessResponse, error) {
	var out AccessResponse
	body := map[string]string{"token": token, "new_password": newPassword}
	return &out, c.do(ctx, http.MethodPost, "/users/reset-password/confirm", "", body, &out)
}

func (c *Client) do(ctx context.Context, method, path, access string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message any `json:"message"`
		}
		raw, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Message != nil {
			if s, ok := e.Message.(string); ok {
				msg = s
			} else if b, err := json.Marshal(e.Message); err == nil {
				msg = string(b)
			}
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
