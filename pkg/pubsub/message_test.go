package pubsub

import (
	"strings"
	"testing"
)

func TestValidateOutboundMessage(t *testing.T) {
	cases := []struct {
		name        string
		data        []byte
		attrs       map[string]string
		orderingKey string
		wantErr     bool
	}{
		{name: "valid", data: []byte("hello"), attrs: map[string]string{"ok": "v"}, wantErr: false},
		{name: "reserved prefix", data: []byte("x"), attrs: map[string]string{"googFoo": "v"}, wantErr: true},
		{name: "empty key", data: []byte("x"), attrs: map[string]string{"": "v"}, wantErr: true},
		{name: "oversized value", data: []byte("x"), attrs: map[string]string{"k": strings.Repeat("a", 1025)}, wantErr: true},
		{name: "oversized message", data: make([]byte, MaxMessageBytes+1), wantErr: true},
		{name: "oversized ordering key", data: []byte("x"), orderingKey: strings.Repeat("k", MaxOrderingKeyBytes+1), wantErr: true},
		{name: "valid ordering key", data: []byte("x"), orderingKey: "u1", wantErr: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateOutboundMessage(tc.data, tc.attrs, tc.orderingKey)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestMessageSize(t *testing.T) {
	m := &Message{Data: []byte("abcd"), Attributes: map[string]string{"k": "vv"}}
	if got, want := m.Size(), 4+1+2; got != want {
		t.Fatalf("Size() = %d, want %d", got, want)
	}
}

func TestRedeliveryCopyPreservesIdentity(t *testing.T) {
	m := newMessage([]byte("x"), map[string]string{"a": "b"}, "k1")
	r := m.redeliveryCopy()

	if r.ID != m.ID {
		t.Fatalf("redelivery copy changed id: %s vs %s", r.ID, m.ID)
	}
	if r.DeliveryAttempt != m.DeliveryAttempt+1 {
		t.Fatalf("deliveryAttempt = %d, want %d", r.DeliveryAttempt, m.DeliveryAttempt+1)
	}
	if r.OrderingKey != m.OrderingKey {
		t.Fatalf("ordering key changed")
	}
}
