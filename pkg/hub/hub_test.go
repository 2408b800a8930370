package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/small-frappuccino/galactica/pkg/auth"
)

var testSecret = []byte(strings.Repeat("s", 32))

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(testSecret)
	mux := http.NewServeMux()
	mux.HandleFunc("/hubs/botconfig", h.HandleBotConfig)
	mux.HandleFunc("/hubs/guildconfig", h.HandleGuildConfig)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

func wsURL(srv *httptest.Server, path, token string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	if token != "" {
		u += "?access_token=" + token
	}
	return u
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRejectsMissingOrInvalidCredential(t *testing.T) {
	_, srv := newTestHub(t)

	for _, url := range []string{
		wsURL(srv, "/hubs/botconfig", ""),
		wsURL(srv, "/hubs/botconfig", "garbage"),
	} {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			t.Fatalf("expected dial to fail for %s", url)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %+v", url, resp)
		}
	}
}

func TestGlobalBroadcast(t *testing.T) {
	h, srv := newTestHub(t)

	token, err := auth.MintToken(testSecret, "test", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	ws := dial(t, wsURL(srv, "/hubs/botconfig", token))

	waitFor(t, "subscriber registration", func() bool { return h.SubscriberCount() == 1 })

	h.BroadcastConfigUpdated()

	f := readFrame(t, ws)
	if f.Event != EventConfigUpdated {
		t.Fatalf("expected %q, got %q", EventConfigUpdated, f.Event)
	}
	if len(f.Payload) != 0 {
		t.Fatalf("global trigger must carry no payload, got %s", f.Payload)
	}
}

func TestGuildGroupBroadcast(t *testing.T) {
	h, srv := newTestHub(t)

	token, err := auth.MintToken(testSecret, "test", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	member := dial(t, wsURL(srv, "/hubs/guildconfig", token))
	outsider := dial(t, wsURL(srv, "/hubs/guildconfig", token))

	if err := member.WriteJSON(clientAction{Action: "join", GuildID: "42"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := outsider.WriteJSON(clientAction{Action: "join", GuildID: "77"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, "group membership", func() bool { return h.GroupSize("42") == 1 && h.GroupSize("77") == 1 })

	h.BroadcastGuildConfig("42", map[string]any{"guildId": "42", "modLogsEnabled": true})

	f := readFrame(t, member)
	if f.Event != EventGuildConfigUpdated {
		t.Fatalf("expected %q, got %q", EventGuildConfigUpdated, f.Event)
	}
	var payload map[string]any
	if err := json.Unmarshal(f.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["guildId"] != "42" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	// The outsider's group saw nothing.
	_ = outsider.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := outsider.ReadMessage(); err == nil {
		t.Fatalf("outsider must not receive scoped broadcast")
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	h, srv := newTestHub(t)

	token, err := auth.MintToken(testSecret, "test", time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	ws := dial(t, wsURL(srv, "/hubs/guildconfig", token))

	if err := ws.WriteJSON(clientAction{Action: "join", GuildID: "42"}); err != nil {
		t.Fatalf("join: %v", err)
	}
	waitFor(t, "join", func() bool { return h.GroupSize("42") == 1 })

	if err := ws.WriteJSON(clientAction{Action: "leave", GuildID: "42"}); err != nil {
		t.Fatalf("leave: %v", err)
	}
	waitFor(t, "leave", func() bool { return h.GroupSize("42") == 0 })

	h.BroadcastGuildConfig("42", map[string]any{"guildId": "42"})

	_ = ws.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Fatalf("departed subscriber must not receive broadcast")
	}
}

func TestJoinAfterSlowConsumerDropDoesNotPanic(t *testing.T) {
	h := NewHub(testSecret)

	// A subscriber with no writePump and no queue capacity: the first
	// delivery trips the slow-consumer drop and closes its send channel.
	c := &conn{send: make(chan []byte), groups: make(map[string]struct{})}
	h.conns[c] = struct{}{}
	h.join(c, "42")

	h.BroadcastGuildConfig("42", map[string]any{"guildId": "42"})
	if h.GroupSize("42") != 0 {
		t.Fatalf("slow consumer should have been dropped")
	}

	// Its read loop is still alive and relays a late join frame; the removed
	// connection must not re-enter the group.
	h.join(c, "42")
	if h.GroupSize("42") != 0 {
		t.Fatalf("removed connection rejoined the group")
	}

	// Must not send on the closed channel.
	h.BroadcastGuildConfig("42", map[string]any{"guildId": "42"})
}
