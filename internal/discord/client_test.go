package discord

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/powhq/pow/internal/queue"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   string
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{r.Method, r.URL.EscapedPath(), r.Header.Get("Authorization"), string(b)})
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "secret", slog.New(slog.DiscardHandler)), &calls
}

func TestSendMessageStructured(t *testing.T) {
	c, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"m1"}`))
	})

	p := queue.ParsePayload(`{"content":"<@&1>","embeds":[{"title":"RAID"}]}`)
	if err := c.SendMessage(context.Background(), "123", p); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	got := (*calls)[0]
	if got.method != http.MethodPost || got.path != "/channels/123/messages" || got.auth != "Bot secret" {
		t.Fatalf("unexpected request %+v", got)
	}
	var body struct {
		Content string            `json:"content"`
		Embeds  []json.RawMessage `json:"embeds"`
	}
	if err := json.Unmarshal([]byte(got.body), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Content != "<@&1>" || len(body.Embeds) != 1 {
		t.Errorf("unexpected body %s", got.body)
	}
}

func TestSendDirectMessageOpensChannel(t *testing.T) {
	c, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/@me/channels" {
			w.Write([]byte(`{"id":"dm-9"}`))
			return
		}
		w.Write([]byte(`{}`))
	})

	if err := c.SendDirectMessage(context.Background(), "user-1", queue.Payload{Content: "hi"}); err != nil {
		t.Fatalf("SendDirectMessage: %v", err)
	}
	if len(*calls) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(*calls))
	}
	if !strings.Contains((*calls)[0].body, `"recipient_id":"user-1"`) {
		t.Errorf("unexpected open body %s", (*calls)[0].body)
	}
	if (*calls)[1].path != "/channels/dm-9/messages" {
		t.Errorf("message posted to %s", (*calls)[1].path)
	}
}

func TestAddRole(t *testing.T) {
	c, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.AddRole(context.Background(), "g", "u", "r"); err != nil {
		t.Fatalf("AddRole: %v", err)
	}
	if got := (*calls)[0]; got.method != http.MethodPut || got.path != "/guilds/g/members/u/roles/r" {
		t.Errorf("unexpected request %+v", got)
	}
}

func TestErrorResponse(t *testing.T) {
	c, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Unknown Channel","code":10003}`))
	})

	err := c.SendMessage(context.Background(), "404", queue.Payload{Content: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected APIError 404, got %v", err)
	}
	if !strings.Contains(err.Error(), "Unknown Channel") {
		t.Errorf("error should carry the response body: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", maxMessageLength+10)
	if got := truncate(long); len([]rune(got)) != maxMessageLength || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate produced %d runes", len([]rune(got)))
	}
	if got := truncate("short"); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
}
