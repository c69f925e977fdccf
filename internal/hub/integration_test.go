package hub_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/robot-teleop/hub/api/handlers"
	"github.com/robot-teleop/hub/internal/hub"
	"github.com/robot-teleop/hub/internal/journal"
	"github.com/robot-teleop/hub/internal/protocol"
	"github.com/robot-teleop/hub/pkg/client"
	"github.com/robot-teleop/hub/pkg/state"
)

func startHub(t *testing.T) (*hub.Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := hub.New(hub.NewStore(nil, journal.New(16)))
	t.Cleanup(h.Close)

	r := gin.New()
	handlers.NewWebSocketHandler(hub.NewHandler(h)).RegisterRoutes(r)
	api := r.Group("/api")
	handlers.NewHubHandler(h).RegisterRoutes(api)
	handlers.NewSignalingHandler(h).RegisterRoutes(api)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return h, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func connect(t *testing.T, srv *httptest.Server, identity string) *client.Client {
	t.Helper()
	c := client.New(client.Options{
		URL:         wsURL(srv),
		Identity:    identity,
		NoReconnect: true,
	})
	t.Cleanup(c.Close)
	if err := c.Connect(); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestClientHubStateSync(t *testing.T) {
	_, srv := startHub(t)

	first := connect(t, srv, "webapp")
	second := connect(t, srv, "webapp")

	if err := first.UpdateState(map[string]any{"pan": 30, "tilt": -5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Both mirrors converge through the hub echo, the sender included.
	for name, c := range map[string]*client.Client{"sender": first, "observer": second} {
		waitFor(t, 2*time.Second, func() bool {
			s := c.State()
			return s["pan"] == 30.0 && s["tilt"] == -5.0
		}, name+" mirror never converged")
	}

	if first.Status() != state.StatusOnline {
		t.Errorf("expected sender online, got %q", first.Status())
	}
}

func TestGetStateEndToEnd(t *testing.T) {
	h, srv := startHub(t)
	if _, err := h.Store().Apply(context.Background(), map[string]any{"mode": "patrol"}, "seed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := connect(t, srv, "webapp")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snapshot, err := c.GetState(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot["mode"] != "patrol" {
		t.Errorf("expected mode=patrol, got %v", snapshot)
	}
}

func TestDiagnosticsEndpoints(t *testing.T) {
	h, srv := startHub(t)

	c := connect(t, srv, "dashboard")
	if err := c.UpdateState(map[string]any{"armed": true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		return h.Store().Snapshot()["armed"] == true
	}, "hub never accepted the update")

	// GET /api/state
	resp, err := http.Get(srv.URL + "/api/state")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	var snapshot map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot["armed"] != true {
		t.Errorf("expected armed=true in the REST snapshot, got %v", snapshot)
	}

	// GET /api/clients
	resp, err = http.Get(srv.URL + "/api/clients")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	var clients struct {
		Clients []struct {
			Identity      string   `json:"identity"`
			Subscriptions []string `json:"subscriptions"`
		} `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&clients); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clients.Clients) != 1 {
		t.Fatalf("expected 1 client, got %d", len(clients.Clients))
	}
	if clients.Clients[0].Identity != "dashboard" {
		t.Errorf("expected dashboard identity, got %q", clients.Clients[0].Identity)
	}
	if len(clients.Clients[0].Subscriptions) != 1 || clients.Clients[0].Subscriptions[0] != "*" {
		t.Errorf("expected the wildcard subscription, got %v", clients.Clients[0].Subscriptions)
	}

	// GET /api/journal
	resp, err = http.Get(srv.URL + "/api/journal")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()
	var journalBody struct {
		Entries []struct {
			Keys   []string `json:"keys"`
			Source string   `json:"source"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&journalBody); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(journalBody.Entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(journalBody.Entries))
	}
	if journalBody.Entries[0].Source != "dashboard" {
		t.Errorf("expected dashboard source, got %q", journalBody.Entries[0].Source)
	}
}

// fakeRobot dials the hub as the robot identity and answers every SDP offer
// it receives.
func startFakeRobot(t *testing.T, srv *httptest.Server) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("robot failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	identity, err := protocol.NewIdentity(protocol.IdentityRobot).Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, identity); err != nil {
		t.Fatalf("robot failed to declare identity: %v", err)
	}

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := protocol.Decode(raw)
			if err != nil || msg.Type != protocol.MessageTypeSDPOffer {
				continue
			}
			answer, err := protocol.NewSDPAnswer(msg.ID, protocol.SessionDescription{
				SDP:  "v=0 answer",
				Type: "answer",
			})
			if err != nil {
				continue
			}
			data, err := answer.Encode()
			if err != nil {
				continue
			}
			conn.WriteMessage(websocket.TextMessage, data)
		}
	}()
}

func TestSignalingOfferEndToEnd(t *testing.T) {
	h, srv := startHub(t)
	startFakeRobot(t, srv)

	// Wait for the identity frame to land before posting the offer.
	waitFor(t, 2*time.Second, func() bool {
		for _, info := range h.Clients() {
			if info.Identity == protocol.IdentityRobot {
				return true
			}
		}
		return false
	}, "robot identity never registered")

	body, _ := json.Marshal(map[string]string{"sdp": "v=0 offer", "type": "offer"})
	resp, err := http.Post(srv.URL+"/api/signaling/offer", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var answer struct {
		SDP  string `json:"sdp"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.SDP != "v=0 answer" || answer.Type != "answer" {
		t.Errorf("unexpected answer: %+v", answer)
	}
}

func TestSignalingOfferWithoutRobot(t *testing.T) {
	_, srv := startHub(t)

	body, _ := json.Marshal(map[string]string{"sdp": "v=0 offer", "type": "offer"})
	resp, err := http.Post(srv.URL+"/api/signaling/offer", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestSignalingOfferValidation(t *testing.T) {
	_, srv := startHub(t)

	resp, err := http.Post(srv.URL+"/api/signaling/offer", "application/json", strings.NewReader(`{"sdp":""}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}
