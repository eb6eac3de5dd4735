// Package cart models the shopper's cart as seen from checkout and guards
// progression on the store's stock validation.
package cart

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrEmptyCart is returned when checkout is attempted with no lines.
var ErrEmptyCart = errors.New("cart is empty")

// Product is the catalog snapshot attached to a cart line.
type Product struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Image string          `json:"image,omitempty"`
	Stock int             `json:"stock"`
}

// Line is a single cart entry.
type Line struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"price"`
	Product   Product         `json:"product"`
}

// Total returns unit price times quantity.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Item identifies a purchasable line for validation and order payloads.
type Item struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Quantity  int    `json:"quantity"`
}

// Items projects lines to their purchasable identity.
func Items(lines []Line) []Item {
	items := make([]Item, len(lines))
	for i, l := range lines {
		items[i] = Item{ProductID: l.ProductID, VariantID: l.VariantID, Quantity: l.Quantity}
	}
	return items
}

// InvalidItem describes a line the store can no longer fulfil.
type InvalidItem struct {
	ProductID         string `json:"productId"`
	VariantID         string `json:"variantId,omitempty"`
	RequestedQuantity int    `json:"requestedQuantity"`
	AvailableQuantity int    `json:"availableQuantity"`
	Message           string `json:"message"`
}

// Validation is the store's verdict on a set of items.
type Validation struct {
	Available    bool          `json:"available"`
	InvalidItems []InvalidItem `json:"invalidItems"`
}

// UnavailableError carries every line the store rejected.
type UnavailableError struct {
	Items []InvalidItem
}

func (e *UnavailableError) Error() string {
	if len(e.Items) == 0 {
		return "some items in your cart are unavailable"
	}
	msgs := make([]string, len(e.Items))
	for i, it := range e.Items {
		msgs[i] = it.Message
	}
	return strings.Join(msgs, "; ")
}

// InvalidQuantityError indicates a line has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// API is the store's cart surface.
type API interface {
	GetCart(ctx context.Context) ([]Line, error)
	ValidateCart(ctx context.Context, items []Item) (*Validation, error)
	ClearCart(ctx context.Context) error
}
