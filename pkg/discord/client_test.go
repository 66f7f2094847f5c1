package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/guildworks/guildpass-backend/pkg/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testConfig() config.DiscordConfig {
	return config.DiscordConfig{
		BotToken:       "test-token",
		BaseURL:        "http://discord.test/api/v10",
		WebhookURL:     "http://discord.test/webhook",
		RequestTimeout: 5 * time.Second,
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient(testConfig(), WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(config.DiscordConfig{}); err == nil {
		t.Fatal("expected error for missing bot token")
	}
}

func TestResolveMemberRequest(t *testing.T) {
	const expectedURL = "http://discord.test/api/v10/guilds/100200/members/300400"
	respBody := `{"user":{"id":"300400","username":"holder"},"roles":["901","902"]}`

	var capturedURL string
	var capturedAuth string

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedAuth = req.Header.Get("Authorization")
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	member, err := client.ResolveMember(context.Background(), "100200", "300400")
	if err != nil {
		t.Fatalf("resolve member: %v", err)
	}
	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedAuth != "Bot test-token" {
		t.Fatalf("unexpected authorization header %q", capturedAuth)
	}
	if member == nil || member.UserID != "300400" {
		t.Fatalf("unexpected member %+v", member)
	}
	if !member.HasRole("902") {
		t.Fatal("expected member to carry role 902")
	}
	if member.HasRole("999") {
		t.Fatal("did not expect role 999")
	}
}

func TestResolveMemberNotFoundReturnsNil(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(strings.NewReader(`{"message":"Unknown Member"}`)),
			Header:     http.Header{},
		}, nil
	})

	member, err := client.ResolveMember(context.Background(), "100200", "300400")
	if err != nil {
		t.Fatalf("resolve member: %v", err)
	}
	if member != nil {
		t.Fatalf("expected nil member, got %+v", member)
	}
}

func TestGrantAndRevokeRole(t *testing.T) {
	var capturedMethod, capturedURL string

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedMethod = req.Method
		capturedURL = req.URL.String()
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     http.Header{},
		}, nil
	})

	if err := client.GrantRole(context.Background(), "100200", "300400", "901"); err != nil {
		t.Fatalf("grant role: %v", err)
	}
	if capturedMethod != http.MethodPut {
		t.Fatalf("expected PUT, got %s", capturedMethod)
	}
	if capturedURL != "http://discord.test/api/v10/guilds/100200/members/300400/roles/901" {
		t.Fatalf("unexpected URL %q", capturedURL)
	}

	if err := client.RevokeRole(context.Background(), "100200", "300400", "901"); err != nil {
		t.Fatalf("revoke role: %v", err)
	}
	if capturedMethod != http.MethodDelete {
		t.Fatalf("expected DELETE, got %s", capturedMethod)
	}
}

func TestListMembersPaginates(t *testing.T) {
	page1 := make([]map[string]any, memberPageSize)
	for i := range page1 {
		page1[i] = map[string]any{
			"user":  map[string]string{"id": fmt.Sprintf("user-%04d", i), "username": "member"},
			"roles": []string{},
		}
	}
	page1JSON, err := json.Marshal(page1)
	if err != nil {
		t.Fatalf("marshal page: %v", err)
	}

	var calls []string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls = append(calls, req.URL.String())
		body := string(page1JSON)
		if len(calls) > 1 {
			body = `[{"user":{"id":"zz","username":"last"},"roles":["901"]}]`
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{},
		}, nil
	})

	members, err := client.ListMembers(context.Background(), "100200")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != memberPageSize+1 {
		t.Fatalf("expected %d members, got %d", memberPageSize+1, len(members))
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(calls))
	}
	if !strings.Contains(calls[1], "after=user-0999") {
		t.Fatalf("expected second call to use after cursor, got %q", calls[1])
	}
}

func TestSendDirectOpensChannelThenPosts(t *testing.T) {
	var calls []string

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls = append(calls, req.URL.String())
		if strings.HasSuffix(req.URL.Path, "/users/@me/channels") {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader(`{"id":"dm-1"}`)),
				Header:     http.Header{},
			}, nil
		}
		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read message body: %v", err)
		}
		if !strings.Contains(string(bodyBytes), "expires in 7 days") {
			t.Fatalf("unexpected message body %q", string(bodyBytes))
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"id":"msg-1"}`)),
			Header:     http.Header{},
		}, nil
	})

	if err := client.SendDirect(context.Background(), "300400", "Your Pro subscription expires in 7 days."); err != nil {
		t.Fatalf("send direct: %v", err)
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(calls))
	}
	if !strings.HasSuffix(calls[1], "/channels/dm-1/messages") {
		t.Fatalf("unexpected second call %q", calls[1])
	}
}

func TestExecuteWebhook(t *testing.T) {
	var capturedURL string

	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     http.Header{},
		}, nil
	})

	if err := client.ExecuteWebhook(context.Background(), "subscription downgraded"); err != nil {
		t.Fatalf("execute webhook: %v", err)
	}
	if capturedURL != "http://discord.test/webhook" {
		t.Fatalf("unexpected webhook URL %q", capturedURL)
	}
}

func TestDependencyFailuresSurface(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Body:       io.NopCloser(strings.NewReader(`{"message":"rate limited"}`)),
			Header:     http.Header{},
		}, nil
	})

	if err := client.GrantRole(context.Background(), "100200", "300400", "901"); err == nil {
		t.Fatal("expected rate limit error to surface")
	}
}
