package idempotency

import (
	"bytes"
	"context"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// ReplayedHeader marks responses served from the ledger.
const ReplayedHeader = "Idempotent-Replayed"

// KeyFunc derives the ledger key of a request. An empty key disables
// deduplication for that request.
type KeyFunc func(r *http.Request) string

// Middleware deduplicates requests by the key derived with keyFn. Only 2xx
// responses are stored; anything else releases the key so the client may
// retry.
func Middleware(ledger Ledger, keyFn KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			lg := zctx.From(ctx).With(zap.String("idempotency_key", key))

			rec, err := ledger.Claim(ctx, key)
			if err != nil {
				lg.Error("Claim idempotency key", zap.Error(err))
				httpmiddleware.WriteError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
				return
			}
			if rec != nil {
				switch rec.Status {
				case StatusDone:
					lg.Debug("Replaying stored response", zap.Int("status", rec.ResponseStatus))
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set(ReplayedHeader, "true")
					w.WriteHeader(rec.ResponseStatus)
					_, _ = w.Write(rec.ResponseBody)
				default:
					httpmiddleware.WriteError(w, http.StatusConflict, "Request already in progress")
				}
				return
			}

			rw := &recorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				// The outcome must be stored even if the client went away.
				ctx := context.WithoutCancel(ctx)
				if p := recover(); p != nil {
					_ = ledger.Release(ctx, key, "panic")
					panic(p)
				}
				if rw.status >= 200 && rw.status < 300 {
					if err := ledger.Complete(ctx, key, rw.status, rw.body.Bytes()); err != nil {
						lg.Error("Complete idempotency key", zap.Error(err))
					}
					return
				}
				if err := ledger.Release(ctx, key, http.StatusText(rw.status)); err != nil {
					lg.Error("Release idempotency key", zap.Error(err))
				}
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (r *recorder) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.wroteHeader = true
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
