package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired access token")
)

// Provider is the identity backend the API authenticates against.
type Provider interface {
	SignUp(ctx context.Context, email, password, displayName string) (Session, error)
	Login(ctx context.Context, email, password string) (Session, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (User, error)
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

type User struct {
	ID       string       `json:"id"`
	Email    string       `json:"email"`
	Metadata UserMetadata `json:"user_metadata"`
}

type UserMetadata struct {
	DisplayName string `json:"display_name,omitempty"`
}

// StatusError carries a non-2xx response from the auth server.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("supabase status %d: %s", e.Code, e.Body)
}

type SupabaseClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client

	verifyTTL time.Duration
	mu        sync.Mutex
	verified  map[string]verifiedToken
	now       func() time.Time
}

type verifiedToken struct {
	user    User
	expires time.Time
}

func NewSupabaseClient(baseURL, anonKey string) *SupabaseClient {
	return &SupabaseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		verifyTTL: 30 * time.Second,
		verified:  make(map[string]verifiedToken),
		now:       time.Now,
	}
}

func (c *SupabaseClient) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
	}
	if displayName = strings.TrimSpace(displayName); displayName != "" {
		payload["data"] = UserMetadata{DisplayName: displayName}
	}
	var out Session
	if err := c.postJSON(ctx, "/auth/v1/signup", payload, &out); err != nil {
		return Session{}, err
	}
	return out, nil
}

func (c *SupabaseClient) Login(ctx context.Context, email, password string) (Session, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}
	var out Session
	err := c.postJSON(ctx, "/auth/v1/token?grant_type=password", payload, &out)
	var se *StatusError
	if errors.As(err, &se) && (se.Code == http.StatusBadRequest || se.Code == http.StatusUnauthorized) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	return out, nil
}

// VerifyAccessToken resolves the user behind a bearer token. Successful
// lookups are reused for a short while so a burst of requests costs one call.
func (c *SupabaseClient) VerifyAccessToken(ctx context.Context, accessToken string) (User, error) {
	if accessToken == "" {
		return User{}, ErrInvalidToken
	}
	now := c.now()
	c.mu.Lock()
	if v, ok := c.verified[accessToken]; ok && now.Before(v.expires) {
		c.mu.Unlock()
		return v.user, nil
	}
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return User{}, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return User{}, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode user: %w", err)
	}
	if user.ID == "" {
		return User{}, ErrInvalidToken
	}

	c.mu.Lock()
	for tok, v := range c.verified {
		if !now.Before(v.expires) {
			delete(c.verified, tok)
		}
	}
	c.verified[accessToken] = verifiedToken{user: user, expires: now.Add(c.verifyTTL)}
	c.mu.Unlock()
	return user, nil
}

func (c *SupabaseClient) postJSON(ctx context.Context, path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.anonKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
