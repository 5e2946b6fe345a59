package events

import "testing"

func TestMessageTenant(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"explicit namespace wins", Message{Namespace: "demo", Room: "other:doc:Order/1"}, "demo"},
		{"tenant from room prefix", Message{Room: "demo:doc:Order/ORD-000001"}, "demo"},
		{"no namespace and no room", Message{Event: "ping"}, ""},
		{"room without separator", Message{Room: "broadcast"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Tenant(); got != tt.want {
				t.Fatalf("Tenant() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRoomNames(t *testing.T) {
	if got := DocRoom("demo", "Order", "ORD-000001"); got != "demo:doc:Order/ORD-000001" {
		t.Fatalf("DocRoom = %q", got)
	}
	if got := DoctypeRoom("demo", "Order"); got != "demo:doctype:Order" {
		t.Fatalf("DoctypeRoom = %q", got)
	}
	if got := UserRoom("demo", "waiter@demo.local"); got != "demo:user:waiter@demo.local" {
		t.Fatalf("UserRoom = %q", got)
	}
}
