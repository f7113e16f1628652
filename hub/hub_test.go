package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"presence-service/broadcast"
	"presence-service/domain"
)

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	logger, _ := test.NewNullLogger()
	return New(cfg, logger)
}

func testLogger() *log.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}

// attachFake registers a client that has no socket; frames stay in its send
// queue for inspection.
func attachFake(t *testing.T, h *Hub, handle string, groups ...domain.GroupKey) *Client {
	t.Helper()
	c := newClient(h, handle, nil)
	if err := h.attach(c); err != nil {
		t.Fatalf("attach: %v", err)
	}
	for _, g := range groups {
		if err := h.JoinGroup(context.Background(), handle, g); err != nil {
			t.Fatalf("join %s: %v", g, err)
		}
	}
	return c
}

func drain(c *Client) []string {
	var out []string
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return out
			}
			out = append(out, string(frame))
		default:
			return out
		}
	}
}

func TestJoinUnknownConnection(t *testing.T) {
	h := newTestHub(t, Config{})
	err := h.JoinGroup(context.Background(), "missing", domain.UserGroup("u1"))
	if !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected unknown connection, got %v", err)
	}
}

func TestDetachDropsAllMemberships(t *testing.T) {
	h := newTestHub(t, Config{})
	attachFake(t, h, "c1", "role:FrontDesk", "hotel:7")
	attachFake(t, h, "c2", "hotel:7")

	h.Detach("c1")
	h.Detach("c1")

	if got := h.Members("hotel:7"); !reflect.DeepEqual(got, []string{"c2"}) {
		t.Fatalf("unexpected hotel members %v", got)
	}
	if _, ok := h.groups["role:FrontDesk"]; ok {
		t.Fatal("expected empty group to be pruned")
	}
	if h.Len() != 1 {
		t.Fatalf("expected 1 client, got %d", h.Len())
	}
}

func TestSendToGroupDeliversOncePerConnection(t *testing.T) {
	h := newTestHub(t, Config{})
	both := attachFake(t, h, "both", "role:FrontDesk", "hotel:7")
	desk := attachFake(t, h, "desk", "role:FrontDesk")
	other := attachFake(t, h, "other", "hotel:8")

	b := broadcast.New(h, testLogger())
	if err := b.Publish(context.Background(), domain.Event{Kind: domain.BookingUpdated}.ForHotel(7)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := drain(both); len(got) != 1 {
		t.Fatalf("expected one frame for both, got %v", got)
	}
	if got := drain(desk); len(got) != 1 {
		t.Fatalf("expected one frame for desk, got %v", got)
	}
	if got := drain(other); len(got) != 0 {
		t.Fatalf("expected no frames for other hotel, got %v", got)
	}
}

func TestSendToGroupDropsSlowConnection(t *testing.T) {
	h := newTestHub(t, Config{SendBuffer: 1})
	attachFake(t, h, "slow", "booking:1")

	for i := 0; i < 2; i++ {
		env := broadcast.NewEnvelope(domain.Event{Kind: domain.DigitalKeyCreated})
		if err := h.SendToGroup(context.Background(), "booking:1", env); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if h.Len() != 0 {
		t.Fatal("expected slow connection to be dropped")
	}
	if got := h.Members("booking:1"); len(got) != 0 {
		t.Fatalf("expected empty group, got %v", got)
	}
}

func TestSendToGroupAfterDetachIsSilent(t *testing.T) {
	h := newTestHub(t, Config{})
	attachFake(t, h, "c1", "booking:42")
	h.Detach("c1")
	env := broadcast.NewEnvelope(domain.Event{Kind: domain.DigitalKeyCreated})
	if err := h.SendToGroup(context.Background(), "booking:42", env); err != nil {
		t.Fatalf("send: %v", err)
	}
	if env.Delivered() != 0 {
		t.Fatalf("expected no deliveries, got %d", env.Delivered())
	}
}

func TestClosedHubRejects(t *testing.T) {
	h := newTestHub(t, Config{})
	attachFake(t, h, "c1", "booking:1")
	h.Close()
	if h.Len() != 0 {
		t.Fatalf("expected socketless clients detached on close, got %d", h.Len())
	}
	env := broadcast.NewEnvelope(domain.Event{Kind: domain.DigitalKeyCreated})
	if err := h.SendToGroup(context.Background(), "booking:1", env); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected hub closed, got %v", err)
	}
	if err := h.attach(newClient(h, "c2", nil)); !errors.Is(err, ErrHubClosed) {
		t.Fatalf("expected hub closed on attach, got %v", err)
	}
}

func TestSendToGroupHonoursCancelledContext(t *testing.T) {
	h := newTestHub(t, Config{})
	attachFake(t, h, "c1", "booking:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env := broadcast.NewEnvelope(domain.Event{Kind: domain.DigitalKeyCreated})
	if err := h.SendToGroup(ctx, "booking:1", env); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestCheckOrigin(t *testing.T) {
	cfg := Config{AllowedOrigins: []string{"https://frontdesk.example"}}
	req := httptest.NewRequest(http.MethodGet, "/hub", nil)
	req.Header.Set("Origin", "https://evil.example")
	if cfg.checkOrigin(req) {
		t.Fatal("expected foreign origin rejected")
	}
	req.Header.Set("Origin", "https://frontdesk.example")
	if !cfg.checkOrigin(req) {
		t.Fatal("expected allowed origin accepted")
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	h := newTestHub(t, Config{})
	joined := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := h.Upgrade(w, r)
		if err != nil {
			return
		}
		if err := h.JoinGroup(r.Context(), c.Handle(), domain.BookingGroup(42)); err != nil {
			t.Errorf("join: %v", err)
		}
		joined <- c.Handle()
		c.Run()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("connection was not attached")
	}

	b := broadcast.New(h, testLogger())
	ev := domain.Event{Kind: domain.DigitalKeyCreated, Payload: []byte(`{"keyId":"k1"}`)}.ForBooking(42)
	if err := b.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"method":"DigitalKeyCreated","payload":{"keyId":"k1"}}` {
		t.Fatalf("unexpected frame %s", msg)
	}

	conn.Close()
	deadline := time.Now().Add(time.Second)
	for h.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("connection was not detached after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := h.Members(domain.BookingGroup(42)); len(got) != 0 {
		t.Fatalf("expected group torn down, got %v", got)
	}
}
