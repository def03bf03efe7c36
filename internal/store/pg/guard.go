package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"campuswallet.org/internal/ledger"
	"campuswallet.org/internal/obs"
)

// Guard bounds every store call with a timeout and a circuit breaker.
// Infrastructure failures surface as ledger.ErrStoreUnavailable; domain errors
// pass through untouched and do not count against the breaker.
type Guard struct {
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker
}

// NewGuard returns a Guard that opens after failures consecutive
// infrastructure errors and probes again after openFor.
func NewGuard(name string, timeout time.Duration, failures uint32, openFor time.Duration) *Guard {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !Unavailable(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			obs.Logger().Warn("store_breaker_state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &Guard{timeout: timeout, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Write runs fn once. Money-moving writes are never retried.
func (g *Guard) Write(ctx context.Context, fn func(context.Context) error) error {
	return g.run(ctx, fn)
}

// Read runs fn and retries it once when the store was unavailable.
func (g *Guard) Read(ctx context.Context, fn func(context.Context) error) error {
	err := g.run(ctx, fn)
	if err != nil && errors.Is(err, ledger.ErrStoreUnavailable) && ctx.Err() == nil {
		obs.Logger().Debug("store_read_retry", zap.Error(err))
		err = g.run(ctx, fn)
	}
	return err
}

// State reports the breaker state, for readiness checks.
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guard) run(ctx context.Context, fn func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	_, err := g.cb.Execute(func() (any, error) {
		err := fn(tctx)
		if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			// the driver may report the cancellation in its own words
			return nil, fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, context.DeadlineExceeded)
		}
		return nil, err
	})
	return classify(err)
}

func classify(err error) error {
	if err == nil || errors.Is(err, ledger.ErrStoreUnavailable) {
		return err
	}
	if Unavailable(err) {
		return fmt.Errorf("%w: %w", ledger.ErrStoreUnavailable, err)
	}
	return err
}

// Unavailable reports whether err is an infrastructure failure rather than a
// domain outcome.
func Unavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ledger.ErrStoreUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgErr, ok := maybePgError(err); ok {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exception
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			pgErr.Code == "40001", pgErr.Code == "40P01",
			pgErr.Code == "57P01", pgErr.Code == "57P02", pgErr.Code == "57P03":
			return true
		}
		return false
	}
	if pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
