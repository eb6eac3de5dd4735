package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines run, which
// usually means a leak.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is anything that can be pinged, such as a database pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck fails when p cannot be reached.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// ErrCircuitOpen is reported by CircuitCheck while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitCheck fails while open reports true. It takes readiness away while
// an upstream is known to be down instead of accepting requests that would
// fail.
func CircuitCheck(open func() bool) CheckFunc {
	return func(context.Context) error {
		if open() {
			return ErrCircuitOpen
		}
		return nil
	}
}
