// Package address resolves the shipping destination for a checkout.
package address

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrAddressRequired is returned when the user has no saved address and
	// must create one before checkout can continue.
	ErrAddressRequired = errors.New("shipping address required")
	// ErrNotFound is returned when a selected address does not belong to the user.
	ErrNotFound = errors.New("address not found")
	// ErrInvalidPincode is returned for malformed postal codes.
	ErrInvalidPincode = errors.New("invalid pincode")
)

// Address is a user-owned shipping address. At most one address per user is
// flagged default; the store enforces this.
type Address struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Address   string `json:"address"`
	Apartment string `json:"apartment,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	Pincode   string `json:"pincode"`
	Phone     string `json:"phone"`
	IsDefault bool   `json:"isDefault"`
}

// Draft is an address the user filled in during checkout.
type Draft struct {
	FirstName string `json:"firstName" validate:"required,max=50"`
	LastName  string `json:"lastName" validate:"required,max=50"`
	Address   string `json:"address" validate:"required,max=200"`
	Apartment string `json:"apartment,omitempty" validate:"max=100"`
	City      string `json:"city" validate:"required,max=80"`
	State     string `json:"state" validate:"required,max=80"`
	Pincode   string `json:"pincode" validate:"required,pincode"`
	Phone     string `json:"phone" validate:"required,phone"`
	IsDefault bool   `json:"isDefault"`
}

// Book is the store's address surface.
type Book interface {
	ListAddresses(ctx context.Context) ([]Address, error)
	CreateAddress(ctx context.Context, d Draft) (*Address, error)
}

// Select picks the address to ship to: the preferred one when given, then
// the default-flagged one, then the first in list order.
func Select(addrs []Address, preferredID string) (*Address, error) {
	if len(addrs) == 0 {
		return nil, ErrAddressRequired
	}
	if preferredID != "" {
		for i := range addrs {
			if addrs[i].ID == preferredID {
				return &addrs[i], nil
			}
		}
		return nil, ErrNotFound
	}
	for i := range addrs {
		if addrs[i].IsDefault {
			return &addrs[i], nil
		}
	}
	return &addrs[0], nil
}
