package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/robot-teleop/hub/internal/db"
	"github.com/robot-teleop/hub/internal/journal"
	"github.com/robot-teleop/hub/internal/model"
	"github.com/robot-teleop/hub/internal/protocol"
	"github.com/robot-teleop/hub/internal/repository"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := New(NewStore(nil, journal.New(16)))
	t.Cleanup(h.Close)
	return h
}

// receive decodes the next frame queued for c.
func receive(t *testing.T, c *Conn, timeout time.Duration) *protocol.Message {
	t.Helper()
	select {
	case raw := <-c.SendChan():
		msg, err := protocol.Decode(raw)
		if err != nil {
			t.Fatalf("hub sent a malformed frame: %v", err)
		}
		return msg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a hub frame")
		return nil
	}
}

func expectNoFrame(t *testing.T, c *Conn, wait time.Duration) {
	t.Helper()
	select {
	case raw := <-c.SendChan():
		t.Fatalf("unexpected frame: %s", raw)
	case <-time.After(wait):
	}
}

func mustUpdateFrame(t *testing.T, partial map[string]any) *protocol.Message {
	t.Helper()
	msg, err := protocol.NewUpdateState(partial)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return msg
}

func TestRegisterUnregister(t *testing.T) {
	h := newTestHub(t)

	c1 := NewConn(nil)
	c2 := NewConn(nil)
	h.Register(c1)
	h.Register(c2)

	if h.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", h.ClientCount())
	}

	h.Unregister(c1)
	if h.ClientCount() != 1 {
		t.Errorf("expected 1 client after unregister, got %d", h.ClientCount())
	}
	if !c1.IsClosed() {
		t.Error("unregistered connection should be closed")
	}
}

func TestPingPong(t *testing.T) {
	h := newTestHub(t)
	c := NewConn(nil)
	h.Register(c)

	h.HandleMessage(context.Background(), c, protocol.NewPing())

	msg := receive(t, c, time.Second)
	if msg.Type != protocol.MessageTypePong {
		t.Errorf("expected pong, got %q", msg.Type)
	}
}

func TestGetStateRepliesToRequesterOnly(t *testing.T) {
	h := newTestHub(t)
	if _, err := h.Store().Apply(context.Background(), map[string]any{"pan": 7.0}, "seed"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	requester := NewConn(nil)
	bystander := NewConn(nil)
	h.Register(requester)
	h.Register(bystander)

	h.HandleMessage(context.Background(), requester, protocol.NewGetState())

	msg := receive(t, requester, time.Second)
	if msg.Type != protocol.MessageTypeState {
		t.Fatalf("expected state frame, got %q", msg.Type)
	}
	snapshot, err := msg.ObjectData()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot["pan"] != 7.0 {
		t.Errorf("expected pan=7 in the snapshot, got %v", snapshot)
	}

	expectNoFrame(t, bystander, 50*time.Millisecond)
}

func TestIdentityAndSubscription(t *testing.T) {
	h := newTestHub(t)
	c := NewConn(nil)
	h.Register(c)

	h.HandleMessage(context.Background(), c, protocol.NewIdentity(protocol.IdentityRobot))
	h.HandleMessage(context.Background(), c, protocol.NewSubscribe("pan"))
	h.HandleMessage(context.Background(), c, protocol.NewSubscribe("pan")) // duplicate is a no-op

	info := c.Info()
	if info.Identity != protocol.IdentityRobot {
		t.Errorf("expected robot identity, got %q", info.Identity)
	}
	if len(info.Subscriptions) != 1 || info.Subscriptions[0] != "pan" {
		t.Errorf("expected a single pan subscription, got %v", info.Subscriptions)
	}

	clients := h.Clients()
	if len(clients) != 1 || clients[0].ID != c.ID() {
		t.Errorf("expected the connection in the client list, got %v", clients)
	}
}

func TestUpdateStateBroadcast(t *testing.T) {
	h := newTestHub(t)

	sender := NewConn(nil)
	wildcard := NewConn(nil)
	exact := NewConn(nil)
	deaf := NewConn(nil)
	for _, c := range []*Conn{sender, wildcard, exact, deaf} {
		h.Register(c)
	}
	sender.Subscribe(protocol.SubscribeAll)
	wildcard.Subscribe(protocol.SubscribeAll)
	exact.Subscribe("pan")

	h.HandleMessage(context.Background(), sender, mustUpdateFrame(t, map[string]any{"pan": 1.0, "tilt": 2.0}))

	// The sender hears its own update only through the echo.
	for _, c := range []*Conn{sender, wildcard} {
		msg := receive(t, c, time.Second)
		if msg.Type != protocol.MessageTypeStateUpdate {
			t.Fatalf("expected stateUpdate, got %q", msg.Type)
		}
		obj, err := msg.ObjectData()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if obj["pan"] != 1.0 || obj["tilt"] != 2.0 {
			t.Errorf("wildcard subscriber expected both keys, got %v", obj)
		}
	}

	msg := receive(t, exact, time.Second)
	obj, err := msg.ObjectData()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obj) != 1 || obj["pan"] != 1.0 {
		t.Errorf("exact subscriber expected only pan, got %v", obj)
	}

	expectNoFrame(t, deaf, 50*time.Millisecond)

	snapshot := h.Store().Snapshot()
	if snapshot["pan"] != 1.0 || snapshot["tilt"] != 2.0 {
		t.Errorf("store missed the update: %v", snapshot)
	}
}

func TestStatusKeyIsNeverAccepted(t *testing.T) {
	h := newTestHub(t)
	sender := NewConn(nil)
	h.Register(sender)
	sender.Subscribe(protocol.SubscribeAll)

	h.HandleMessage(context.Background(), sender, mustUpdateFrame(t, map[string]any{"status": "online"}))

	expectNoFrame(t, sender, 50*time.Millisecond)
	if _, ok := h.Store().Snapshot()["status"]; ok {
		t.Error("client-local status key leaked into the authoritative state")
	}
}

func TestStoreApplyJournals(t *testing.T) {
	j := journal.New(4)
	store := NewStore(nil, j)

	if _, err := store.Apply(context.Background(), map[string]any{"tilt": 1.0, "pan": 2.0}, "webapp"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := j.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	if entries[0].Source != "webapp" {
		t.Errorf("expected webapp source, got %q", entries[0].Source)
	}
	// Keys are sorted for stable output.
	if len(entries[0].Keys) != 2 || entries[0].Keys[0] != "pan" || entries[0].Keys[1] != "tilt" {
		t.Errorf("expected sorted keys [pan tilt], got %v", entries[0].Keys)
	}
}

func TestStoreApplyEmptyUpdate(t *testing.T) {
	store := NewStore(nil, nil)
	if _, err := store.Apply(context.Background(), map[string]any{}, "webapp"); !errors.Is(err, model.ErrEmptyUpdate) {
		t.Errorf("expected ErrEmptyUpdate, got %v", err)
	}
}

func TestStorePersistenceRoundTrip(t *testing.T) {
	database, err := db.NewTestDB()
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	defer database.Close()
	repo := repository.NewStateRepository(database)

	store := NewStore(repo, nil)
	if _, err := store.Apply(context.Background(), map[string]any{"pan": 9.0}, "webapp"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A hub restart builds a fresh store over the same repository.
	restarted := NewStore(repo, nil)
	if err := restarted.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if restarted.Snapshot()["pan"] != 9.0 {
		t.Errorf("expected persisted pan=9, got %v", restarted.Snapshot())
	}
}

func TestRelayOfferNoRobot(t *testing.T) {
	h := newTestHub(t)

	_, err := h.RelayOffer(context.Background(), protocol.SessionDescription{SDP: "v=0", Type: "offer"})
	if !errors.Is(err, model.ErrNoRobotConnected) {
		t.Errorf("expected ErrNoRobotConnected, got %v", err)
	}
}

func TestRelayOfferAnswered(t *testing.T) {
	h := newTestHub(t)
	robot := NewConn(nil)
	h.Register(robot)
	robot.SetIdentity(protocol.IdentityRobot)

	// The robot answers whatever offer it receives.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		msg := receive(t, robot, time.Second)
		if msg.Type != protocol.MessageTypeSDPOffer {
			t.Errorf("expected sdpOffer, got %q", msg.Type)
			return
		}
		answer, err := protocol.NewSDPAnswer(msg.ID, protocol.SessionDescription{SDP: "v=0 answer", Type: "answer"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
			return
		}
		h.HandleMessage(context.Background(), robot, answer)
	}()

	answer, err := h.RelayOffer(context.Background(), protocol.SessionDescription{SDP: "v=0 offer", Type: "offer"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer.SDP != "v=0 answer" || answer.Type != "answer" {
		t.Errorf("unexpected answer: %+v", answer)
	}
	wg.Wait()
}

func TestRelayOfferTimeout(t *testing.T) {
	h := newTestHub(t)
	robot := NewConn(nil)
	h.Register(robot)
	robot.SetIdentity(protocol.IdentityRobot)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.RelayOffer(ctx, protocol.SessionDescription{SDP: "v=0", Type: "offer"})
	if !errors.Is(err, model.ErrAnswerTimeout) {
		t.Errorf("expected ErrAnswerTimeout, got %v", err)
	}
}

// For any number of wildcard subscribers, a broadcast update reaches every
// one of them with the same payload.
func TestBroadcastDeliveryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("broadcast reaches all wildcard subscribers", prop.ForAll(
		func(numClients int, value int64) bool {
			h := New(NewStore(nil, nil))
			defer h.Close()

			conns := make([]*Conn, numClients)
			for i := range conns {
				conns[i] = NewConn(nil)
				conns[i].Subscribe(protocol.SubscribeAll)
				h.Register(conns[i])
			}

			h.BroadcastUpdate(map[string]any{"value": value})

			for _, c := range conns {
				select {
				case raw := <-c.SendChan():
					msg, err := protocol.Decode(raw)
					if err != nil || msg.Type != protocol.MessageTypeStateUpdate {
						return false
					}
					obj, err := msg.ObjectData()
					if err != nil || obj["value"] != float64(value) {
						return false
					}
				case <-time.After(100 * time.Millisecond):
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
