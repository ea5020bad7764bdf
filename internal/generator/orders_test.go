package generator

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

var genClock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestGenerate_CountAndUniqueness(t *testing.T) {
	g := New(func() time.Time { return genClock })

	orders := g.Generate(25)
	if len(orders) != 25 {
		t.Fatalf("Generate(25) returned %d orders", len(orders))
	}

	seen := map[string]bool{}
	for _, o := range orders {
		if seen[o.OrderID] {
			t.Fatalf("duplicate order id %s", o.OrderID)
		}
		seen[o.OrderID] = true
		if !strings.HasPrefix(o.OrderID, "ORD-2025-06-01-") {
			t.Errorf("order id %s missing date prefix", o.OrderID)
		}
	}
}

func TestGenerate_ZeroCount(t *testing.T) {
	g := New(nil)
	if got := g.Generate(0); len(got) != 0 {
		t.Fatalf("Generate(0) returned %d orders", len(got))
	}
}

func TestOrderMessage(t *testing.T) {
	g := New(func() time.Time { return genClock })
	order := g.Generate(1)[0]

	msg, err := order.Message()
	if err != nil {
		t.Fatalf("Message() error = %v", err)
	}

	if msg.OrderID != order.OrderID {
		t.Errorf("OrderID = %q, want %q", msg.OrderID, order.OrderID)
	}
	if msg.ContentType != "application/json" {
		t.Errorf("ContentType = %q", msg.ContentType)
	}
	for _, key := range []string{"brand", "channel", "version"} {
		if _, ok := msg.ApplicationProperties[key]; !ok {
			t.Errorf("missing application property %q", key)
		}
	}

	var decoded OrderPayload
	if err := json.Unmarshal(msg.Body, &decoded); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if decoded.OrderID != order.OrderID {
		t.Errorf("decoded OrderID = %q, want %q", decoded.OrderID, order.OrderID)
	}
	if len(decoded.LineItems) == 0 {
		t.Error("order should carry line items")
	}
	if decoded.Payment.Currency != "USD" {
		t.Errorf("Payment.Currency = %q, want USD", decoded.Payment.Currency)
	}
}
