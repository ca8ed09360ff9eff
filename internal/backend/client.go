// Package backend is a client for the chat backend's REST endpoints: sending,
// moderation and the login session.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/john/combinedchat/internal/message"
)

const maxErrorBody = 64 << 10

// Client talks to the backend over HTTP. Cookies set by the backend, such as
// the login session, are kept in Jar and shared with the websocket dialer.
type Client struct {
	base   *url.URL
	http   *http.Client
	jar    http.CookieJar
	logger *slog.Logger
}

// New creates a client for baseURL. A zero timeout means no timeout.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must be http or https", baseURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   u,
		http:   &http.Client{Timeout: timeout, Jar: jar},
		jar:    jar,
		logger: logger,
	}, nil
}

// Jar returns the cookie jar used for every request.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// SendRequest is one outgoing chat message.
type SendRequest struct {
	Platform         message.Platform `json:"platform"`
	Channel          string           `json:"channel"`
	Message          string           `json:"message"`
	ReplyToMessageID string           `json:"reply_to_message_id,omitempty"`
}

// SendResponse echoes the accepted message.
type SendResponse struct {
	Platform message.Platform `json:"platform"`
	Channel  string           `json:"channel"`
	Message  string           `json:"message"`
	Status   string           `json:"status"`
}

// SendResult is the outcome of one request in SendAll.
type SendResult struct {
	Request SendRequest
	Err     error
}

// Send posts a chat message.
func (c *Client) Send(ctx context.Context, req SendRequest) (SendResponse, error) {
	var resp SendResponse
	if err := c.do(ctx, http.MethodPost, "/chat/send", req, &resp); err != nil {
		return SendResponse{}, fmt.Errorf("send to %s:%s: %w", req.Platform, req.Channel, err)
	}
	return resp, nil
}

// SendAll sends every request concurrently and reports each outcome in the
// order given. One failure does not cancel the others.
func (c *Client) SendAll(ctx context.Context, reqs []SendRequest) []SendResult {
	results := make([]SendResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(4)
	for i, req := range reqs {
		g.Go(func() error {
			_, err := c.Send(ctx, req)
			results[i] = SendResult{Request: req, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Action is a moderation action.
type Action string

const (
	Ban       Action = "ban"
	Timeout   Action = "timeout"
	Unban     Action = "unban"
	Untimeout Action = "untimeout"
)

// ParseAction accepts an action name in any case.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case Ban, Timeout, Unban, Untimeout:
		return a, nil
	}
	return "", fmt.Errorf("unknown moderation action %q", s)
}

// ModerateRequest targets one user in one channel.
type ModerateRequest struct {
	Platform        message.Platform `json:"platform"`
	Channel         string           `json:"channel"`
	TargetUser      string           `json:"target_user"`
	TargetUserID    string           `json:"target_user_id,omitempty"`
	Action          Action           `json:"action"`
	DurationSeconds int              `json:"duration_seconds,omitempty"`
}

// Validate rejects a request locally before it is sent.
func (r ModerateRequest) Validate() error {
	if !r.Platform.Valid() {
		return fmt.Errorf("unknown platform %q", r.Platform)
	}
	if r.Channel == "" {
		return fmt.Errorf("channel is required")
	}
	if strings.TrimSpace(r.TargetUser) == "" && r.TargetUserID == "" {
		return fmt.Errorf("target user is required")
	}
	if _, err := ParseAction(string(r.Action)); err != nil {
		return err
	}
	if r.Action == Timeout && r.DurationSeconds <= 0 {
		return fmt.Errorf("timeout needs a positive duration")
	}
	if r.Action != Timeout && r.DurationSeconds != 0 {
		return fmt.Errorf("%s does not take a duration", r.Action)
	}
	return nil
}

// Moderate applies a moderation action.
func (c *Client) Moderate(ctx context.Context, req ModerateRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := c.do(ctx, http.MethodPost, "/chat/moderate", req, nil); err != nil {
		return fmt.Errorf("%s %s in %s:%s: %w", req.Action, req.TargetUser, req.Platform, req.Channel, err)
	}
	return nil
}

// ID is an identifier the backend may send as a string or a number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Account is a linked platform account.
type Account struct {
	Platform        message.Platform `json:"platform"`
	Username        string           `json:"username"`
	DisplayName     string           `json:"display_name"`
	ProfileImageURL string           `json:"profile_image_url"`
	Scopes          []string         `json:"scopes"`
	ExpiresAt       string           `json:"expires_at"`
}

// User is the logged-in backend user.
type User struct {
	ID           ID     `json:"id"`
	DisplayName  string `json:"display_name"`
	TwitchUserID ID     `json:"twitch_user_id"`
	KickUserID   ID     `json:"kick_user_id"`
}

// AuthStatus describes the login session.
type AuthStatus struct {
	Authenticated bool      `json:"authenticated"`
	User          *User     `json:"user"`
	Accounts      []Account `json:"accounts"`
}

// Linked reports which platforms have a linked account.
func (s AuthStatus) Linked() map[message.Platform]bool {
	linked := make(map[message.Platform]bool)
	for _, a := range s.Accounts {
		if a.Platform.Valid() {
			linked[a.Platform] = true
		}
	}
	return linked
}

// AuthStatus fetches the login session.
func (c *Client) AuthStatus(ctx context.Context) (AuthStatus, error) {
	var st AuthStatus
	if err := c.do(ctx, http.MethodGet, "/auth/status", nil, &st); err != nil {
		return AuthStatus{}, fmt.Errorf("auth status: %w", err)
	}
	return st, nil
}

// Logout ends the login session.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("backend: failed to close response body", slog.Any("err", err))
		}
	}()
	c.logger.Debug("backend: request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Detail: ExtractDetail(data, http.StatusText(resp.StatusCode))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
