package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"medportal/internal/guard"
	"medportal/internal/models"
	"medportal/internal/security"
)

var (
	ErrUnauthenticated = errors.New("not logged in")
	// ErrAuthenticationFailed mirrors the server's single login failure.
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrConflict             = errors.New("account already exists")
)

// APIError is a non-success response the client has no specific error for.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portal api: %d %s", e.Status, e.Message)
}

type Account struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Name       string    `json:"name"`
	Phone      *string   `json:"phone,omitempty"`
	PictureURL *string   `json:"pictureUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      struct {
		ID   string `json:"id"`
		Role string `json:"role"`
		Name string `json:"name"`
	} `json:"user"`
}

// Client talks to the portal API. Its session starts in Loading and is
// settled by validating the stored token against the server once.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
	session *guard.Session
}

func New(baseURL string, tokens TokenStore, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
	}
	c.session = guard.NewSession(c.validateRemote)
	return c
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (Account, error) {
	var resp struct {
		Account Account `json:"account"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", "", req, &resp); err != nil {
		return Account{}, err
	}
	return resp.Account, nil
}

// Login stores the issued token and marks the session authenticated
// without another round trip.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	var resp LoginResult
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", "", body, &resp); err != nil {
		return LoginResult{}, err
	}
	if err := c.tokens.Save(resp.Token); err != nil {
		return LoginResult{}, err
	}

	role, err := models.ParseRole(resp.User.Role)
	if err != nil {
		return LoginResult{}, fmt.Errorf("login response: %w", err)
	}
	c.session.Establish(resp.Token, security.Identity{Subject: resp.User.ID, Role: role})
	return resp, nil
}

// Session settles the stored token. A cancelled ctx yields ctx.Err() and
// no state.
func (c *Client) Session(ctx context.Context) (guard.State, error) {
	token, err := c.tokens.Load()
	if err != nil {
		return guard.State{Status: guard.Loading}, err
	}
	return c.session.Load(ctx, token)
}

// Refresh re-validates the current token with the server.
func (c *Client) Refresh(ctx context.Context) (guard.State, error) {
	return c.session.Refresh(ctx)
}

func (c *Client) Me(ctx context.Context) (Account, error) {
	token, err := c.authenticatedToken(ctx)
	if err != nil {
		return Account{}, err
	}
	var resp struct {
		Account Account `json:"account"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/me", token, nil, &resp); err != nil {
		return Account{}, err
	}
	return resp.Account, nil
}

func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	token, err := c.authenticatedToken(ctx)
	if err != nil {
		return err
	}
	body := map[string]string{"currentPassword": current, "newPassword": next}
	return c.do(ctx, http.MethodPost, "/api/v1/auth/password", token, body, nil)
}

// Logout forgets the token locally. The server keeps no session, so the
// token itself stays valid until it expires.
func (c *Client) Logout(ctx context.Context) error {
	c.session.Forget()
	if err := c.tokens.Clear(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/v1/auth/logout", "", nil, nil)
}

func (c *Client) authenticatedToken(ctx context.Context) (string, error) {
	state, err := c.Session(ctx)
	if err != nil {
		return "", err
	}
	if state.Status != guard.Authenticated {
		return "", ErrUnauthenticated
	}
	return c.session.Token(), nil
}

func (c *Client) validateRemote(ctx context.Context, token string) (security.Identity, error) {
	var resp struct {
		Subject string `json:"subject"`
		Role    string `json:"role"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/auth/session", token, nil, &resp); err != nil {
		return security.Identity{}, err
	}
	role, err := models.ParseRole(resp.Role)
	if err != nil {
		return security.Identity{}, fmt.Errorf("session response: %w", err)
	}
	return security.Identity{Subject: resp.Subject, Role: role}, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		switch {
		case resp.StatusCode == http.StatusUnauthorized && apiErr.Error == "authentication_failed":
			return ErrAuthenticationFailed
		case resp.StatusCode == http.StatusUnauthorized:
			return ErrUnauthenticated
		case resp.StatusCode == http.StatusConflict:
			return ErrConflict
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
