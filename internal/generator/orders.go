// Package generator produces synthetic order payloads for the scheduleBatch
// operation. The shapes mirror the order documents flowing through the real
// pipeline so that transfers exercise realistic payload and metadata sizes.
package generator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"shovel/internal/types"
)

// LineItem is one order line.
type LineItem struct {
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Payment is the order's payment summary.
type Payment struct {
	Method   string  `json:"method"`
	Card     string  `json:"card"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Meta is the auxiliary business metadata attached to every order message
// as application properties.
type Meta struct {
	Brand   string `json:"brand"`
	Channel string `json:"channel"`
	Version string `json:"version"`
}

// OrderPayload is one synthetic order.
type OrderPayload struct {
	OrderID   string     `json:"order_id"`
	PlacedAt  time.Time  `json:"placed_at"`
	LineItems []LineItem `json:"line_items"`
	Payment   Payment    `json:"payment"`
	Metadata  Meta       `json:"metadata"`
}

// Message converts the order into its outbound broker envelope: JSON body,
// order id as identity, and the metadata fields lifted into application
// properties.
func (o OrderPayload) Message() (types.OutboundMessage, error) {
	body, err := json.Marshal(o)
	if err != nil {
		return types.OutboundMessage{}, fmt.Errorf("generator: marshal order %s: %w", o.OrderID, err)
	}
	return types.OutboundMessage{
		OrderID:     o.OrderID,
		Body:        body,
		ContentType: "application/json",
		ApplicationProperties: map[string]any{
			"brand":   o.Metadata.Brand,
			"channel": o.Metadata.Channel,
			"version": o.Metadata.Version,
		},
	}, nil
}

// Generator produces batches of synthetic orders.
type Generator struct {
	now func() time.Time
}

// New creates a Generator. now may be nil, in which case time.Now is used.
func New(now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{now: now}
}

// Generate returns count synthetic orders with unique order ids.
func (g *Generator) Generate(count int) []OrderPayload {
	orders := make([]OrderPayload, 0, count)
	now := g.now().UTC()
	for i := 0; i < count; i++ {
		orders = append(orders, OrderPayload{
			OrderID:  fmt.Sprintf("ORD-%s-%s", now.Format("2006-01-02"), uuid.New().String()[:8]),
			PlacedAt: now,
			LineItems: []LineItem{
				{SKU: "SKU-COF", Name: "Coffee", Quantity: 1, UnitPrice: 3.50},
				{SKU: "SKU-FRY", Name: "Fries", Quantity: 1, UnitPrice: 2.00},
				{SKU: "SKU-BUR", Name: "Burger", Quantity: 1, UnitPrice: 6.50},
			},
			Payment: Payment{
				Method:   "CARD",
				Card:     "**** **** **** 4242",
				Amount:   12.00,
				Currency: "USD",
			},
			Metadata: Meta{
				Brand:   pickBrand(),
				Channel: "app",
				Version: "1.0.0",
			},
		})
	}
	return orders
}

var brands = []string{"generic", "flagship", "franchise"}

func pickBrand() string {
	return brands[rand.Intn(len(brands))]
}
