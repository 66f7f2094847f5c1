package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guildworks/guildpass-backend/pkg/config"
	pkgerrors "github.com/guildworks/guildpass-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://discord.com/api/v10"
	defaultTimeout             = 10 * time.Second
	memberPageSize             = 1000
	responseBodyReadLimit int64 = 1024
)

var errBotTokenRequired = errors.New("discord bot token is required")

// Client wraps the Discord REST endpoints used for role sync and notifications.
type Client struct {
	httpClient *http.Client
	baseURL    string
	botToken   string
	webhookURL string
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the Discord client from config.
func NewClient(cfg config.DiscordConfig, opts ...Option) (*Client, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errBotTokenRequired
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		botToken:   token,
		baseURL:    defaultBaseURL,
		webhookURL: strings.TrimSpace(cfg.WebhookURL),
		httpClient: &http.Client{Timeout: timeout},
	}
	if trimmed := strings.TrimSpace(cfg.BaseURL); trimmed != "" {
		client.baseURL = trimmed
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: timeout}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// Member is the slice of a guild member payload the service cares about.
type Member struct {
	UserID   string
	Username string
	RoleIDs  []string
}

// HasRole reports whether the member carries the given role id.
func (m Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

type memberPayload struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Roles []string `json:"roles"`
}

func (p memberPayload) toMember() Member {
	return Member{
		UserID:   p.User.ID,
		Username: p.User.Username,
		RoleIDs:  p.Roles,
	}
}

// ResolveMember fetches a single guild member with their current roles.
// Returns a nil member when Discord reports the user is not in the guild.
func (c *Client) ResolveMember(ctx context.Context, guildID, userID string) (*Member, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "discord client not configured")
	}
	if strings.TrimSpace(guildID) == "" || strings.TrimSpace(userID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guild id and user id are required")
	}

	endpoint := c.buildURL(fmt.Sprintf("guilds/%s/members/%s", url.PathEscape(guildID), url.PathEscape(userID)))
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "resolve member")
	}

	var payload memberPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode member response")
	}
	member := payload.toMember()
	return &member, nil
}

// ListMembers pages through the full guild roster.
func (c *Client) ListMembers(ctx context.Context, guildID string) ([]Member, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "discord client not configured")
	}
	if strings.TrimSpace(guildID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "guild id is required")
	}

	var members []Member
	after := ""
	for {
		endpoint := c.buildURL(fmt.Sprintf("guilds/%s/members?limit=%d", url.PathEscape(guildID), memberPageSize))
		if after != "" {
			endpoint += "&after=" + url.QueryEscape(after)
		}

		resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			err := statusError(resp, "list members")
			_ = resp.Body.Close()
			return nil, err
		}

		var page []memberPayload
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			_ = resp.Body.Close()
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode members page")
		}
		_ = resp.Body.Close()

		for _, payload := range page {
			members = append(members, payload.toMember())
		}
		if len(page) < memberPageSize {
			return members, nil
		}
		after = page[len(page)-1].User.ID
	}
}

// GrantRole adds a role to a guild member.
func (c *Client) GrantRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.roleRequest(ctx, http.MethodPut, guildID, userID, roleID, "grant role")
}

// RevokeRole removes a role from a guild member.
func (c *Client) RevokeRole(ctx context.Context, guildID, userID, roleID string) error {
	return c.roleRequest(ctx, http.MethodDelete, guildID, userID, roleID, "revoke role")
}

func (c *Client) roleRequest(ctx context.Context, method, guildID, userID, roleID, action string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "discord client not configured")
	}
	if strings.TrimSpace(guildID) == "" || strings.TrimSpace(userID) == "" || strings.TrimSpace(roleID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "guild id, user id, and role id are required")
	}

	endpoint := c.buildURL(fmt.Sprintf(
		"guilds/%s/members/%s/roles/%s",
		url.PathEscape(guildID), url.PathEscape(userID), url.PathEscape(roleID),
	))
	resp, err := c.do(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return statusError(resp, action)
	}
	return nil
}

// SendDirect opens a DM channel with the user and posts the content.
func (c *Client) SendDirect(ctx context.Context, userID, content string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "discord client not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if strings.TrimSpace(content) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "message content is required")
	}

	channelBody, err := json.Marshal(map[string]string{"recipient_id": userID})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal dm channel request")
	}
	resp, err := c.do(ctx, http.MethodPost, c.buildURL("users/@me/channels"), channelBody)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		err := statusError(resp, "open dm channel")
		_ = resp.Body.Close()
		return err
	}

	var channel struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&channel); err != nil {
		_ = resp.Body.Close()
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode dm channel response")
	}
	_ = resp.Body.Close()

	messageBody, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal dm message")
	}
	msgResp, err := c.do(ctx, http.MethodPost, c.buildURL(fmt.Sprintf("channels/%s/messages", url.PathEscape(channel.ID))), messageBody)
	if err != nil {
		return err
	}
	defer func() { _ = msgResp.Body.Close() }()

	if msgResp.StatusCode != http.StatusOK {
		return statusError(msgResp, "send dm")
	}
	return nil
}

// ExecuteWebhook posts an operator-facing notification to the configured webhook.
func (c *Client) ExecuteWebhook(ctx context.Context, content string) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "discord client not configured")
	}
	if c.webhookURL == "" {
		return pkgerrors.New(pkgerrors.CodeDependency, "webhook url not configured")
	}
	if strings.TrimSpace(content) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook content is required")
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marshal webhook payload")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build webhook request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute webhook request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return statusError(resp, "execute webhook")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build discord request")
	}
	httpReq.Header.Set("Authorization", "Bot "+c.botToken)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute discord request")
	}
	return resp, nil
}

func statusError(resp *http.Response, action string) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	return pkgerrors.Wrap(
		pkgerrors.CodeDependency,
		fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))),
		fmt.Sprintf("%s request failed", action),
	)
}

func (c *Client) buildURL(path string) string {
	trimmed := strings.TrimRight(c.baseURL, "/")
	path = strings.TrimLeft(path, "/")
	return fmt.Sprintf("%s/%s", trimmed, path)
}
