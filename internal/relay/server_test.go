package relay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mmeshcher/restopos-system/internal/identity"
	"github.com/mmeshcher/restopos-system/internal/model"
)

type stubResolver struct {
	calls     int32
	principal *identity.Principal
	err       error
}

func (r *stubResolver) Resolve(ctx context.Context, tenant, token string) (*identity.Principal, error) {
	atomic.AddInt32(&r.calls, 1)
	if r.err != nil {
		return nil, r.err
	}
	return r.principal, nil
}

func newTestServer(t *testing.T, resolver Resolver) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(zap.NewNop())
	srv := NewServer(hub, resolver, time.Second, zap.NewNop())

	ts := httptest.NewServer(srv.SetupRouter())
	t.Cleanup(ts.Close)
	t.Cleanup(hub.Close)

	return hub, ts
}

func wsURL(ts *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + path
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func sessionCount(hub *Hub, namespace string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.namespaces[namespace])
}

func roomSize(hub *Hub, room string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.rooms[room])
}

func readFrame(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return string(raw)
}

func TestHeaderAuth_Admitted(t *testing.T) {
	resolver := &stubResolver{principal: &identity.Principal{
		Email: "waiter@demo.local",
		Roles: []model.Role{model.RoleWaiter},
	}}
	hub, ts := newTestServer(t, resolver)

	header := http.Header{"Authorization": []string{"Bearer tok"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/demo"), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return sessionCount(hub, "demo") == 1 })

	hub.Dispatch([]byte(`{"event":"doc_update","message":{"name":"ORD-000001"},"room":"demo:user:waiter@demo.local"}`))

	frame := readFrame(t, conn)
	if !strings.Contains(frame, "doc_update") {
		t.Fatalf("unexpected frame: %s", frame)
	}
}

func TestHeaderAuth_MalformedRejectedBeforeIdentityCall(t *testing.T) {
	resolver := &stubResolver{principal: &identity.Principal{Email: "waiter@demo.local"}}
	_, ts := newTestServer(t, resolver)

	header := http.Header{"Authorization": []string{"Token abc"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/demo"), header)
	if err == nil {
		t.Fatal("dial succeeded with malformed header")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v, want 401", resp)
	}

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "Invalid token format. Expected: 'Bearer <token>'") {
		t.Fatalf("unexpected body: %s", body)
	}

	if n := atomic.LoadInt32(&resolver.calls); n != 0 {
		t.Fatalf("identity endpoint called %d times for malformed header", n)
	}
}

func TestHeaderAuth_Rejected(t *testing.T) {
	resolver := &stubResolver{err: identity.ErrUnauthorized}
	_, ts := newTestServer(t, resolver)

	header := http.Header{"Authorization": []string{"Bearer bad"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts, "/demo"), header)
	if err == nil {
		t.Fatal("dial succeeded with rejected token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("response = %+v, want 401", resp)
	}

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "Unauthorized:") {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestFrameAuth_Admitted(t *testing.T) {
	resolver := &stubResolver{principal: &identity.Principal{Email: "chef@demo.local"}}
	hub, ts := newTestServer(t, resolver)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/demo"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Префикс "Bearer " в кадре допустим и отбрасывается.
	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"auth":{"token":"Bearer tok","site":"demo"}}`)); err != nil {
		t.Fatalf("write auth frame: %v", err)
	}

	waitFor(t, func() bool { return sessionCount(hub, "demo") == 1 })

	hub.Dispatch([]byte(`{"event":"list_update","message":{},"namespace":"demo"}`))

	frame := readFrame(t, conn)
	if !strings.Contains(frame, "list_update") {
		t.Fatalf("unexpected frame: %s", frame)
	}
}

func TestFrameAuth_MissingCredentials(t *testing.T) {
	resolver := &stubResolver{principal: &identity.Principal{Email: "chef@demo.local"}}
	_, ts := newTestServer(t, resolver)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/demo"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","room":"demo:doctype:POS Order"}`)); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("connection survived without credentials")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("close error = %v, want policy violation", err)
	}
	if !strings.Contains(err.Error(), "Authentication required") {
		t.Fatalf("unexpected close reason: %v", err)
	}

	if n := atomic.LoadInt32(&resolver.calls); n != 0 {
		t.Fatalf("identity endpoint called %d times without credentials", n)
	}
}

func TestMirrorNamespaceRoute(t *testing.T) {
	resolver := &stubResolver{principal: &identity.Principal{Email: "cashier@demo.local"}}
	hub, ts := newTestServer(t, resolver)

	header := http.Header{"Authorization": []string{"Bearer tok"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/app/demo"), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return sessionCount(hub, "app/demo") == 1 })

	hub.Dispatch([]byte(`{"event":"list_update","message":{},"namespace":"demo"}`))

	frame := readFrame(t, conn)
	if !strings.Contains(frame, "list_update") {
		t.Fatalf("unexpected frame: %s", frame)
	}
}

func TestFanout_TenantIsolation(t *testing.T) {
	resolver := &stubResolver{principal: &identity.Principal{Email: "user@x.local"}}
	hub, ts := newTestServer(t, resolver)

	header := http.Header{"Authorization": []string{"Bearer tok"}}

	demo, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/demo"), header)
	if err != nil {
		t.Fatalf("dial demo: %v", err)
	}
	defer demo.Close()

	other, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/other"), header)
	if err != nil {
		t.Fatalf("dial other: %v", err)
	}
	defer other.Close()

	waitFor(t, func() bool {
		return sessionCount(hub, "demo") == 1 && sessionCount(hub, "other") == 1
	})

	hub.Dispatch([]byte(`{"event":"list_update","message":{},"namespace":"demo"}`))

	if frame := readFrame(t, demo); !strings.Contains(frame, "list_update") {
		t.Fatalf("unexpected frame: %s", frame)
	}

	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatal("event leaked to another tenant")
	}
}

func TestSubscribe_OwnTenantOnly(t *testing.T) {
	resolver := &stubResolver{principal: &identity.Principal{Email: "waiter@demo.local"}}
	hub, ts := newTestServer(t, resolver)

	header := http.Header{"Authorization": []string{"Bearer tok"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts, "/demo"), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return sessionCount(hub, "demo") == 1 })

	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe","room":"demo:doctype:POS Order"}`)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	waitFor(t, func() bool { return roomSize(hub, "demo:doctype:POS Order") == 1 })

	if err := conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe","room":"other:doctype:POS Order"}`)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if roomSize(hub, "other:doctype:POS Order") != 0 {
		t.Fatal("cross-tenant subscription accepted")
	}

	hub.Dispatch([]byte(`{"event":"list_update","message":{},"room":"demo:doctype:POS Order"}`))

	frame := readFrame(t, conn)
	if !strings.Contains(frame, "list_update") {
		t.Fatalf("unexpected frame: %s", frame)
	}
}
