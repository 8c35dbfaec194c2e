package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"champs/internal/auth"
	"champs/internal/game"

	"github.com/shopspring/decimal"
)

// APIError is a non-2xx response from the championship API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type LeaderboardRow struct {
	game.LeaderboardEntry
	Prize *decimal.Decimal `json:"prize,omitempty"`
}

type Leaderboard struct {
	ChampionshipID string              `json:"championship_id"`
	ComputedAt     time.Time           `json:"computed_at"`
	Snapshot       bool                `json:"snapshot"`
	Entries        []LeaderboardRow    `json:"entries"`
	PrizePool      *game.PrizePoolInfo `json:"prize_pool,omitempty"`
	Failed         []string            `json:"failed,omitempty"`
}

type PrizePool struct {
	Available bool `json:"available"`
	game.PrizePoolInfo
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, displayName string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) ListChampionships(ctx context.Context, accessToken, status string) ([]game.Championship, error) {
	path := "/v1/championships"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var out struct {
		Championships []game.Championship `json:"championships"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out.Championships, err
}

func (c *Client) Championship(ctx context.Context, accessToken, id string) (game.Championship, error) {
	var out game.Championship
	err := c.jsonRequest(ctx, http.MethodGet, championshipPath(id, ""), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) CreateChampionship(ctx context.Context, accessToken, name string, startingCash, fee decimal.Decimal, startsAt, endsAt time.Time) (game.Championship, error) {
	var out game.Championship
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/championships", accessToken, map[string]any{
		"name":           name,
		"starting_cash":  startingCash,
		"enrollment_fee": fee,
		"starts_at":      startsAt,
		"ends_at":        endsAt,
	}, &out, "")
	return out, err
}

func (c *Client) Enroll(ctx context.Context, accessToken, id string) (game.Enrollment, error) {
	var out game.Enrollment
	err := c.jsonRequest(ctx, http.MethodPost, championshipPath(id, "/enroll"), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Leave(ctx context.Context, accessToken, id string) error {
	return c.jsonRequest(ctx, http.MethodDelete, championshipPath(id, "/enroll"), accessToken, nil, nil, "")
}

func (c *Client) Leaderboard(ctx context.Context, accessToken, id string, snapshot bool) (Leaderboard, error) {
	path := championshipPath(id, "/leaderboard")
	if snapshot {
		path += "?source=snapshot"
	}
	var out Leaderboard
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

func (c *Client) PrizePool(ctx context.Context, accessToken, id string) (PrizePool, error) {
	var out PrizePool
	err := c.jsonRequest(ctx, http.MethodGet, championshipPath(id, "/prize-pool"), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) PlaceOrder(ctx context.Context, accessToken, id, symbol string, side game.TransactionKind, qty decimal.Decimal, idem string) (game.OrderResult, error) {
	var out game.OrderResult
	err := c.jsonRequest(ctx, http.MethodPost, championshipPath(id, "/orders"), accessToken, map[string]any{
		"symbol":   symbol,
		"side":     side,
		"quantity": qty,
	}, &out, idem)
	return out, err
}

func (c *Client) Holdings(ctx context.Context, accessToken, id string) (game.Portfolio, error) {
	var out game.Portfolio
	err := c.jsonRequest(ctx, http.MethodGet, championshipPath(id, "/holdings"), accessToken, nil, &out, "")
	return out, err
}

func championshipPath(id, suffix string) string {
	return "/v1/championships/" + url.PathEscape(strings.TrimSpace(id)) + suffix
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
