package nutrition

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// unitPrice is the fixed per-item price applied to every product order.
const unitPrice = 29.99

// deliveryEstimate is the fixed delivery window quoted on confirmations.
const deliveryEstimate = "3-5 business days"

// Order is a simulated purchase. It exists only for the lifetime of the
// confirmation string returned to the model; nothing stores or looks it up
// afterward.
type Order struct {
	// ID is an opaque token of the form ORD-XXXXXXXX (8 uppercase hex).
	// Uniqueness rests on the randomness of the generator alone.
	ID string
	// ProductName is the product as requested by the caller.
	ProductName string
	// PetType is the species the order is for.
	PetType string
	// Quantity is the number of items, at least 1.
	Quantity int
	// TotalCost is Quantity times the fixed unit price.
	TotalCost float64
}

// newOrder synthesizes an order for the given product. Quantities below 1
// default to 1.
func newOrder(productName, petType string, quantity int) Order {
	if quantity < 1 {
		quantity = 1
	}
	return Order{
		ID:          newOrderID(),
		ProductName: productName,
		PetType:     petType,
		Quantity:    quantity,
		TotalCost:   float64(quantity) * unitPrice,
	}
}

// newOrderID generates an order identifier: "ORD-" followed by 8 uppercase
// hexadecimal characters drawn from a random UUID.
func newOrderID() string {
	id := uuid.New()
	return "ORD-" + strings.ToUpper(hex.EncodeToString(id[:4]))
}

// Confirmation renders the confirmation text returned to the model.
func (o Order) Confirmation() string {
	return fmt.Sprintf(
		"Order %s created for %dx %s. Total: $%.2f. Expected delivery: %s.",
		o.ID, o.Quantity, o.ProductName, o.TotalCost, deliveryEstimate,
	)
}

// productAvailable reports whether the requested product appears in the
// products text returned by the data service. Matching is a case-insensitive
// substring test against the raw upstream text; the result therefore depends
// on upstream formatting.
func productAvailable(products, productName string) bool {
	if products == "" {
		return false
	}
	return strings.Contains(strings.ToLower(products), strings.ToLower(productName))
}
