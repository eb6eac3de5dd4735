package cart

import (
	"context"

	"github.com/go-faster/errors"
)

// Validator confirms every line is still purchasable.
type Validator struct {
	api API
}

// NewValidator creates a Validator backed by the store API.
func NewValidator(api API) *Validator {
	return &Validator{api: api}
}

// Load fetches the current cart lines.
func (v *Validator) Load(ctx context.Context) ([]Line, error) {
	lines, err := v.api.GetCart(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	return lines, nil
}

// Validate asks the store whether lines can still be fulfilled. It must run
// right before an order or payment is created, not only when checkout opens.
// A nil error means the store accepted every line at the time of the call.
func (v *Validator) Validate(ctx context.Context, lines []Line) error {
	if len(lines) == 0 {
		return ErrEmptyCart
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: l.ProductID}
		}
	}

	res, err := v.api.ValidateCart(ctx, Items(lines))
	if err != nil {
		return errors.Wrap(err, "validate cart")
	}
	if !res.Available {
		return &UnavailableError{Items: res.InvalidItems}
	}
	return nil
}

// LoadValidated fetches the cart and validates it in one step.
func (v *Validator) LoadValidated(ctx context.Context) ([]Line, error) {
	lines, err := v.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := v.Validate(ctx, lines); err != nil {
		return nil, err
	}
	return lines, nil
}
