package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/powhq/pow/internal/models"
)

func TestRemoteCommandBuild(t *testing.T) {
	tests := []struct {
		name string
		cmd  RemoteCommand
		ref  string
		want string
	}{
		{"kick", RemoteCommand{Verb: VerbKick, Content: "RDM"}, "42", ":kick 42 RDM"},
		{"ban quotes names with spaces", RemoteCommand{Verb: VerbBan, Content: "exploiting"}, "Bob Smith", `:ban "Bob Smith" exploiting`},
		{"announce", RemoteCommand{Verb: VerbAnnounce, Content: "Restart in 5"}, "42", ":m Restart in 5"},
		{"teleport", RemoteCommand{Verb: VerbTeleport, Target: "Mod1"}, "42", ":tp 42 Mod1"},
		{"kill", RemoteCommand{Verb: VerbKill}, "42", ":kill 42"},
		{"raw", RemoteCommand{Verb: VerbRaw, Content: ":weather rain"}, "", ":weather rain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.Build(tt.ref); got != tt.want {
				t.Errorf("Build = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseActions(t *testing.T) {
	raw := json.RawMessage(`[
		{"type":"DISCORD_MESSAGE","target":"chan-1","content":"hi"},
		{"type":"SHIFT_LOG","content":"shift"},
		{"type":"TELEPORT_PLAYER","target":"Mod1"},
		{"type":"SELF_DESTRUCT"},
		{"type":"DELAY","content":"250"}
	]`)

	actions, err := ParseActions(raw)
	if err != nil {
		t.Fatalf("ParseActions: %v", err)
	}
	if len(actions) != 4 {
		t.Fatalf("expected unknown action dropped, got %d actions", len(actions))
	}
	if msg, ok := actions[0].(SendMessage); !ok || msg.ChannelID != "chan-1" || msg.Content != "hi" {
		t.Errorf("unexpected first action %#v", actions[0])
	}
	if log, ok := actions[1].(AppendLog); !ok || log.Kind != models.AuditShift {
		t.Errorf("unexpected second action %#v", actions[1])
	}
	if tp, ok := actions[2].(RemoteCommand); !ok || tp.Verb != VerbTeleport || tp.Target != "Mod1" {
		t.Errorf("unexpected third action %#v", actions[2])
	}
	if d, ok := actions[3].(Delay); !ok || d.Duration() != 250*time.Millisecond {
		t.Errorf("unexpected delay %#v", actions[3])
	}
}

func TestParseActionsMalformed(t *testing.T) {
	if _, err := ParseActions(json.RawMessage(`{"type":"DELAY"}`)); !errors.Is(err, ErrMalformedRule) {
		t.Fatalf("expected ErrMalformedRule, got %v", err)
	}
}

func TestDelayDuration(t *testing.T) {
	tests := []struct {
		content string
		want    time.Duration
	}{
		{"", time.Second},
		{"abc", time.Second},
		{"-5", time.Second},
		{"1500", 1500 * time.Millisecond},
		{"600000", 30 * time.Second},
	}
	for _, tt := range tests {
		if got := (Delay{Content: tt.content}).Duration(); got != tt.want {
			t.Errorf("Delay(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestCheckWebhookTarget(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://hooks.example.com/x", false},
		{"http://localhost:8080/x", true},
		{"http://127.0.0.1/x", true},
		{"http://127.8.0.1/x", true},
		{"http://[::1]/x", true},
		{"http://0.0.0.0:8080/x", true},
		{"http://[::]:80/x", true},
		{"ftp://example.com", true},
		{"::not a url", true},
	}
	for _, tt := range tests {
		err := checkWebhookTarget(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("checkWebhookTarget(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
		}
	}
	if !errors.Is(checkWebhookTarget("http://LOCALHOST/"), ErrLoopbackTarget) {
		t.Error("expected ErrLoopbackTarget for LOCALHOST")
	}
}

func TestWebhookClientRefusesLocalConnections(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newWebhookClient()

	// Dial-time guard, independent of the URL check.
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp, err := client.Do(req); err == nil {
		resp.Body.Close()
		t.Fatal("expected dial to a loopback listener to fail")
	}

	engine, _, _ := newTestEngine(t, time.Minute)
	port := srv.Listener.Addr().(*net.TCPAddr).Port
	for _, target := range []string{
		fmt.Sprintf("http://0.0.0.0:%d/hook", port),
		fmt.Sprintf("http://[::]:%d/hook", port),
	} {
		if err := engine.postWebhook(context.Background(), target, "hi"); err == nil {
			t.Errorf("postWebhook(%q) succeeded", target)
		}
	}

	if n := hits.Load(); n != 0 {
		t.Errorf("local listener received %d requests", n)
	}
}

func TestWebhookClientRedirectChecks(t *testing.T) {
	client := newWebhookClient()
	origin, _ := http.NewRequest(http.MethodPost, "https://hooks.example.com/x", nil)

	tests := []struct {
		name     string
		location string
		via      int
		wantErr  bool
	}{
		{"public hop", "https://hooks.example.net/y", 1, false},
		{"loopback hop", "http://127.0.0.1:9000/admin", 1, true},
		{"unspecified hop", "http://0.0.0.0:9000/admin", 1, true},
		{"localhost hop", "http://localhost/admin", 1, true},
		{"redirect limit", "https://hooks.example.net/y", 5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := http.NewRequest(http.MethodPost, tt.location, nil)
			if err != nil {
				t.Fatal(err)
			}
			via := make([]*http.Request, tt.via)
			for i := range via {
				via[i] = origin
			}
			if err := client.CheckRedirect(next, via); (err != nil) != tt.wantErr {
				t.Errorf("CheckRedirect(%s) error = %v, wantErr %v", tt.location, err, tt.wantErr)
			}
		})
	}
}
