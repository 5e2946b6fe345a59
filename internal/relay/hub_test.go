package relay

import (
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/restopos-system/internal/identity"
)

func newTestSession(namespace, tenant string) *Session {
	return &Session{
		namespace: namespace,
		tenant:    tenant,
		principal: &identity.Principal{Email: "user@" + tenant + ".local"},
		send:      make(chan []byte, 4),
		rooms:     make(map[string]struct{}),
		logger:    zap.NewNop(),
	}
}

func received(s *Session) []byte {
	select {
	case frame := <-s.send:
		return frame
	default:
		return nil
	}
}

func TestDispatch_RoomDelivery(t *testing.T) {
	hub := NewHub(zap.NewNop())

	joined := newTestSession("demo", "demo")
	bystander := newTestSession("demo", "demo")
	hub.Register(joined)
	hub.Register(bystander)
	hub.Join(joined, "demo:doc:POS Order/ORD-000001")

	hub.Dispatch([]byte(`{"event":"doc_update","message":{"name":"ORD-000001"},"room":"demo:doc:POS Order/ORD-000001"}`))

	frame := received(joined)
	if frame == nil {
		t.Fatal("joined session received nothing")
	}

	var f outFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if f.Event != "doc_update" || f.Room != "demo:doc:POS Order/ORD-000001" {
		t.Fatalf("unexpected frame: %+v", f)
	}

	if received(bystander) != nil {
		t.Fatal("session outside the room received the event")
	}
}

func TestDispatch_BroadcastWithinNamespace(t *testing.T) {
	hub := NewHub(zap.NewNop())

	demo := newTestSession("demo", "demo")
	other := newTestSession("other", "other")
	hub.Register(demo)
	hub.Register(other)

	hub.Dispatch([]byte(`{"event":"list_update","message":{},"namespace":"demo"}`))

	if received(demo) == nil {
		t.Fatal("namespace session received nothing")
	}
	if received(other) != nil {
		t.Fatal("event leaked to another tenant")
	}
}

func TestDispatch_MirrorNamespace(t *testing.T) {
	hub := NewHub(zap.NewNop())

	mirror := newTestSession("app/demo", "demo")
	hub.Register(mirror)

	hub.Dispatch([]byte(`{"event":"list_update","message":{},"namespace":"demo"}`))

	if received(mirror) == nil {
		t.Fatal("mirror namespace session received nothing")
	}
}

func TestDispatch_TenantFromRoomPrefix(t *testing.T) {
	hub := NewHub(zap.NewNop())

	s := newTestSession("demo", "demo")
	hub.Register(s)
	hub.Join(s, "demo:doctype:POS Order")

	hub.Dispatch([]byte(`{"event":"list_update","message":{},"room":"demo:doctype:POS Order"}`))

	if received(s) == nil {
		t.Fatal("room session received nothing")
	}
}

func TestDispatch_DropsUnroutable(t *testing.T) {
	hub := NewHub(zap.NewNop())

	s := newTestSession("demo", "demo")
	hub.Register(s)

	payloads := []string{
		`not json at all`,
		`{"message":{}}`,
		`{"event":"x","message":{}}`,
		`{"event":"x","message":{},"room":"no-colon-room"}`,
	}
	for _, p := range payloads {
		hub.Dispatch([]byte(p))
	}

	if received(s) != nil {
		t.Fatal("unroutable event was delivered")
	}
}

func TestDispatch_SlowSessionDropsFrame(t *testing.T) {
	hub := NewHub(zap.NewNop())

	s := newTestSession("demo", "demo")
	s.send = make(chan []byte, 1)
	s.send <- []byte("stale")
	hub.Register(s)

	// Не должно заблокироваться.
	hub.Dispatch([]byte(`{"event":"list_update","message":{},"namespace":"demo"}`))

	if got := string(<-s.send); got != "stale" {
		t.Fatalf("buffered frame = %q, want the original one", got)
	}
	if received(s) != nil {
		t.Fatal("overflow frame was queued")
	}
}

func TestRun_DrainsBufferedDeliveries(t *testing.T) {
	hub := NewHub(zap.NewNop())

	s := newTestSession("demo", "demo")
	hub.Register(s)

	deliveries := make(chan amqp.Delivery, 2)
	deliveries <- amqp.Delivery{Body: []byte(`{"event":"first","message":{},"namespace":"demo"}`)}
	deliveries <- amqp.Delivery{Body: []byte(`{"event":"second","message":{},"namespace":"demo"}`)}
	close(deliveries)

	hub.Run(deliveries)

	if received(s) == nil || received(s) == nil {
		t.Fatal("deliveries accepted before shutdown must be dispatched")
	}
}

func TestUnregister_LeavesRooms(t *testing.T) {
	hub := NewHub(zap.NewNop())

	s := newTestSession("demo", "demo")
	hub.Register(s)
	hub.Join(s, "demo:doctype:POS Order")
	hub.Join(s, "demo:user:user@demo.local")

	hub.Unregister(s)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if len(hub.rooms) != 0 {
		t.Fatalf("rooms not cleaned up: %v", hub.rooms)
	}
	if len(hub.namespaces) != 0 {
		t.Fatalf("namespaces not cleaned up: %v", hub.namespaces)
	}
}
