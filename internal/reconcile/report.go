package reconcile

import (
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// WriteReport writes expired attempts to w as gzip-compressed JSON lines.
func WriteReport(w io.Writer, attempts []payment.Attempt) error {
	zw := pgzip.NewWriter(w)

	var e jx.Encoder
	for _, a := range attempts {
		e.Reset()
		e.ObjStart()
		e.FieldStart("attemptId")
		e.Str(a.ID)
		e.FieldStart("checkoutId")
		e.Str(a.CheckoutID)
		e.FieldStart("mode")
		e.Str(string(a.Mode))
		e.FieldStart("gatewayOrderId")
		e.Str(a.GatewayOrderID)
		if a.OrderID != "" {
			e.FieldStart("orderId")
			e.Str(a.OrderID)
		}
		e.FieldStart("amount")
		e.Str(payment.GatewayOrder{Amount: a.Amount}.MajorAmount().StringFixed(2))
		e.FieldStart("currency")
		e.Str(a.Currency)
		e.FieldStart("status")
		e.Str(string(a.Status))
		e.FieldStart("createdAt")
		e.Str(a.CreatedAt.UTC().Format(time.RFC3339))
		e.ObjEnd()

		line := append(e.Bytes(), '\n')
		if _, err := zw.Write(line); err != nil {
			_ = zw.Close()
			return errors.Wrap(err, "write report line")
		}
	}

	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "close report")
	}
	return nil
}
