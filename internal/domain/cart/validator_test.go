package cart

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockAPI struct {
	lines      []Line
	getErr     error
	validation *Validation
	validErr   error
	gotItems   []Item
	validCalls int
}

func (m *mockAPI) GetCart(_ context.Context) ([]Line, error) {
	return m.lines, m.getErr
}

func (m *mockAPI) ValidateCart(_ context.Context, items []Item) (*Validation, error) {
	m.validCalls++
	m.gotItems = items
	return m.validation, m.validErr
}

func (m *mockAPI) ClearCart(_ context.Context) error {
	return nil
}

// --- Tests ---

func TestValidator_Validate(t *testing.T) {
	lines := []Line{
		{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromInt(1000)},
		{ProductID: "p2", VariantID: "v-red", Quantity: 1, UnitPrice: decimal.NewFromInt(50)},
	}

	t.Run("available", func(t *testing.T) {
		api := &mockAPI{validation: &Validation{Available: true}}
		require.NoError(t, NewValidator(api).Validate(context.Background(), lines))
		assert.Equal(t, []Item{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", VariantID: "v-red", Quantity: 1},
		}, api.gotItems)
	})

	t.Run("unavailable surfaces every message", func(t *testing.T) {
		api := &mockAPI{validation: &Validation{
			Available: false,
			InvalidItems: []InvalidItem{
				{ProductID: "p1", RequestedQuantity: 2, AvailableQuantity: 1, Message: "Only 1 left of Lamp"},
				{ProductID: "p2", VariantID: "v-red", RequestedQuantity: 1, Message: "Mug is out of stock"},
			},
		}}

		err := NewValidator(api).Validate(context.Background(), lines)

		var unavailable *UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Len(t, unavailable.Items, 2)
		assert.Equal(t, "Only 1 left of Lamp; Mug is out of stock", err.Error())
	})

	t.Run("empty cart never calls the store", func(t *testing.T) {
		api := &mockAPI{}
		err := NewValidator(api).Validate(context.Background(), nil)
		require.ErrorIs(t, err, ErrEmptyCart)
		assert.Zero(t, api.validCalls)
	})

	t.Run("non-positive quantity", func(t *testing.T) {
		api := &mockAPI{}
		err := NewValidator(api).Validate(context.Background(), []Line{{ProductID: "p9", Quantity: 0}})

		var iqErr *InvalidQuantityError
		require.ErrorAs(t, err, &iqErr)
		assert.Equal(t, "p9", iqErr.ProductID)
		assert.Zero(t, api.validCalls)
	})

	t.Run("store error is wrapped", func(t *testing.T) {
		api := &mockAPI{validErr: errors.New("connection reset")}
		err := NewValidator(api).Validate(context.Background(), lines)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validate cart")
	})
}

func TestValidator_LoadValidated(t *testing.T) {
	api := &mockAPI{
		lines:      []Line{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}},
		validation: &Validation{Available: true},
	}

	got, err := NewValidator(api).LoadValidated(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, api.validCalls)

	api.getErr = errors.New("boom")
	_, err = NewValidator(api).LoadValidated(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get cart")
}

func TestLine_Total(t *testing.T) {
	l := Line{Quantity: 3, UnitPrice: decimal.RequireFromString("19.99")}
	assert.True(t, decimal.RequireFromString("59.97").Equal(l.Total()))
}
