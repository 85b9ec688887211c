// Package api implements the REST client for the messaging backend. All
// endpoints except login and register attach the bearer token supplied by
// the caller; business logic behind the endpoints is backend-owned.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RushangSavaliya/chatwire/internal/errs"
	"github.com/RushangSavaliya/chatwire/internal/model"
)

const defaultTimeout = 10 * time.Second

// Client calls the backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a Client for the given base URL. A nil httpClient gets a
// default with a request timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, usernameOrEmail, password string) (string, error) {
	body := map[string]string{"usernameOrEmail": usernameOrEmail, "password": password}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", body, &out); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("login: empty token in response")
	}
	return out.Token, nil
}

// Register creates a new account.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	body := map[string]string{"username": username, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", body, nil); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	return nil
}

// Me validates the token and returns the authenticated user.
func (c *Client) Me(ctx context.Context, token string) (model.User, error) {
	var out struct {
		User model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/me", token, nil, &out); err != nil {
		return model.User{}, fmt.Errorf("me: %w", err)
	}
	return out.User, nil
}

// Logout invalidates the token server-side. Best-effort for callers: the
// local session is cleared regardless of the result.
func (c *Client) Logout(ctx context.Context, token string) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", token, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Users lists all known accounts.
func (c *Client) Users(ctx context.Context, token string) ([]model.User, error) {
	var out struct {
		Users []model.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/users", token, nil, &out); err != nil {
		return nil, fmt.Errorf("users: %w", err)
	}
	return out.Users, nil
}

// Messages fetches the conversation history with peerID.
func (c *Client) Messages(ctx context.Context, token, peerID string) ([]model.Message, error) {
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/messages/"+peerID, token, nil, &out); err != nil {
		return nil, fmt.Errorf("messages %s: %w", peerID, err)
	}
	return out.Messages, nil
}

// SendMessage posts a new message and returns the canonical server record
// with its assigned id and timestamp.
func (c *Client) SendMessage(ctx context.Context, token, receiverID, content string) (model.Message, error) {
	body := map[string]string{"receiverId": receiverID, "content": content}
	var out struct {
		Message model.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/messages", token, body, &out); err != nil {
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	return out.Message, nil
}

// do performs one request/response cycle. A 401 maps to errs.ErrUnauthorized
// so the session layer can distinguish credential errors from transport ones.
func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errs.ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, readErrorBody(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readErrorBody extracts a short server-supplied reason, if any.
func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil || len(b) == 0 {
		return "no body"
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(b, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(b))
}
