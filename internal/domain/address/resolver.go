package address

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/xenking/storefront-checkout/internal/validation"
)

// Resolver exposes the user's saved addresses and creates new ones.
type Resolver struct {
	book     Book
	validate *validatorv10.Validate
}

// NewResolver creates a Resolver backed by the given Book.
func NewResolver(book Book, v *validatorv10.Validate) *Resolver {
	return &Resolver{book: book, validate: v}
}

// List returns the user's saved addresses.
func (r *Resolver) List(ctx context.Context) ([]Address, error) {
	addrs, err := r.book.ListAddresses(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list addresses")
	}
	return addrs, nil
}

// Resolve returns the address to ship to. It fails with ErrAddressRequired
// when the user has nothing saved.
func (r *Resolver) Resolve(ctx context.Context, preferredID string) (*Address, error) {
	addrs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return Select(addrs, preferredID)
}

// Create validates and persists d. The user's first address is always
// marked default. The returned address should become the selection.
func (r *Resolver) Create(ctx context.Context, d Draft) (*Address, error) {
	d = trim(d)
	if err := validation.Struct(r.validate, d); err != nil {
		return nil, err
	}

	existing, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		d.IsDefault = true
	}

	a, err := r.book.CreateAddress(ctx, d)
	if err != nil {
		return nil, errors.Wrap(err, "create address")
	}
	return a, nil
}

// CheckDelivery reports whether the store delivers to pincode. Only the
// format is checked; every well-formed pincode is serviceable.
func (r *Resolver) CheckDelivery(pincode string) (bool, error) {
	if !validation.ValidPincode(strings.TrimSpace(pincode)) {
		return false, ErrInvalidPincode
	}
	return true, nil
}

func trim(d Draft) Draft {
	d.FirstName = strings.TrimSpace(d.FirstName)
	d.LastName = strings.TrimSpace(d.LastName)
	d.Address = strings.TrimSpace(d.Address)
	d.Apartment = strings.TrimSpace(d.Apartment)
	d.City = strings.TrimSpace(d.City)
	d.State = strings.TrimSpace(d.State)
	d.Pincode = strings.TrimSpace(d.Pincode)
	d.Phone = strings.TrimSpace(d.Phone)
	return d
}
