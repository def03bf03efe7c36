package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"campuswallet.org/internal/obs"
)

const (
	CodeLength         = 6
	DefaultCodeTTL     = 5 * time.Minute
	DefaultCooldown    = 30 * time.Second
	DefaultMaxResends  = 5
	DefaultMaxAttempts = 5
)

// VerificationRecord is the persisted state of one holder's pending code.
type VerificationRecord struct {
	HolderRef   string
	CodeHash    string
	ExpiresAt   time.Time
	LastSentAt  time.Time
	ResendCount int
	// Attempts counts verification tries against the current code.
	Attempts int
}

// VerificationStore persists verification codes, at most one per holder.
type VerificationStore interface {
	// PutIfAllowed inserts rec, or replaces the existing record in the same
	// atomic step only when it was last sent at or before sentBefore and has
	// fewer than maxResends resends. A replacement increments ResendCount and
	// resets Attempts. Refusals yield ErrResendCooldown or ErrResendLimit.
	PutIfAllowed(ctx context.Context, rec VerificationRecord, sentBefore time.Time, maxResends int) error
	// ClaimAttempt atomically counts one verification try and returns the
	// record. It yields ErrNotFound for no record and ErrTooManyAttempts once
	// maxAttempts tries were spent.
	ClaimAttempt(ctx context.Context, holderRef string, maxAttempts int) (VerificationRecord, error)
	// Consume deletes the record and reports whether it existed.
	Consume(ctx context.Context, holderRef string) (bool, error)
	// DeleteExpired removes records that expired before t.
	DeleteExpired(ctx context.Context, t time.Time) (int64, error)
}

// Notifier delivers a plaintext code to the holder out of band.
type Notifier interface {
	NotifyVerificationCode(ctx context.Context, holderRef, code string) error
}

// VerificationService issues and checks one-time codes. Codes are stored hashed and
// survive restarts because they live in the VerificationStore.
type VerificationService struct {
	store       VerificationStore
	notifier    Notifier
	now         func() time.Time
	ttl         time.Duration
	cooldown    time.Duration
	maxResends  int
	maxAttempts int
	generate    func() (string, error)
}

// VerificationOption configures VerificationService.
type VerificationOption func(*VerificationService)

func WithVerificationClock(now func() time.Time) VerificationOption {
	return func(v *VerificationService) {
		if now != nil {
			v.now = now
		}
	}
}

func WithCodeTTL(ttl time.Duration) VerificationOption {
	return func(v *VerificationService) {
		if ttl > 0 {
			v.ttl = ttl
		}
	}
}

func WithResendPolicy(cooldown time.Duration, maxResends int) VerificationOption {
	return func(v *VerificationService) {
		if cooldown >= 0 {
			v.cooldown = cooldown
		}
		if maxResends > 0 {
			v.maxResends = maxResends
		}
	}
}

// WithMaxAttempts caps verification tries per issued code.
func WithMaxAttempts(n int) VerificationOption {
	return func(v *VerificationService) {
		if n > 0 {
			v.maxAttempts = n
		}
	}
}

// WithCodeGenerator replaces the random code source. Tests only.
func WithCodeGenerator(gen func() (string, error)) VerificationOption {
	return func(v *VerificationService) {
		if gen != nil {
			v.generate = gen
		}
	}
}

// NewVerificationService returns a VerificationService backed by store. notifier may be nil.
func NewVerificationService(store VerificationStore, notifier Notifier, opts ...VerificationOption) *VerificationService {
	v := &VerificationService{
		store:       store,
		notifier:    notifier,
		now:         time.Now,
		ttl:         DefaultCodeTTL,
		cooldown:    DefaultCooldown,
		maxResends:  DefaultMaxResends,
		maxAttempts: DefaultMaxAttempts,
		generate:    randomCode,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Issue creates or re-sends a code for holderRef and returns its expiry.
func (v *VerificationService) Issue(ctx context.Context, holderRef string) (time.Time, error) {
	holderRef = strings.TrimSpace(holderRef)
	if holderRef == "" {
		return time.Time{}, fmt.Errorf("%w: holder reference is required", ErrInvalidInput)
	}
	now := v.now().UTC()

	code, err := v.generate()
	if err != nil {
		return time.Time{}, fmt.Errorf("generate code: %w", err)
	}
	hash, err := HashSecret(code)
	if err != nil {
		return time.Time{}, fmt.Errorf("hash code: %w", err)
	}
	rec := VerificationRecord{
		HolderRef:  holderRef,
		CodeHash:   hash,
		ExpiresAt:  now.Add(v.ttl),
		LastSentAt: now,
	}
	if err := v.store.PutIfAllowed(ctx, rec, now.Add(-v.cooldown), v.maxResends); err != nil {
		return time.Time{}, err
	}
	if v.notifier != nil {
		if err := v.notifier.NotifyVerificationCode(ctx, holderRef, code); err != nil {
			obs.Logger().Warn("verification_notify_failed",
				zap.String("holder_ref", holderRef), zap.Error(err))
		}
	}
	return rec.ExpiresAt, nil
}

// Verify checks code for holderRef and consumes it on success.
func (v *VerificationService) Verify(ctx context.Context, holderRef, code string) error {
	holderRef = strings.TrimSpace(holderRef)
	code = strings.TrimSpace(code)
	if holderRef == "" || !validCode(code) {
		return fmt.Errorf("%w: holder reference and a %d-digit code are required", ErrInvalidInput, CodeLength)
	}
	rec, err := v.store.ClaimAttempt(ctx, holderRef, v.maxAttempts)
	if err != nil {
		return err
	}
	if !v.now().UTC().Before(rec.ExpiresAt) {
		if _, err := v.store.Consume(ctx, holderRef); err != nil {
			return err
		}
		return ErrCodeExpired
	}
	if err := VerifySecret(rec.CodeHash, code); err != nil {
		return ErrCodeMismatch
	}
	consumed, err := v.store.Consume(ctx, holderRef)
	if err != nil {
		return err
	}
	if !consumed {
		// a concurrent Verify won the race
		return ErrNotFound
	}
	return nil
}

// Sweep deletes expired codes.
func (v *VerificationService) Sweep(ctx context.Context) (int64, error) {
	return v.store.DeleteExpired(ctx, v.now().UTC())
}

// RunSweeper calls Sweep every interval until ctx is done.
func (v *VerificationService) RunSweeper(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := v.Sweep(ctx)
			if err != nil {
				obs.Logger().Warn("verification_sweep_failed", zap.Error(err))
				continue
			}
			if n > 0 {
				obs.Logger().Info("verification_sweep", zap.Int64("deleted", n))
			}
		}
	}
}

func validCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
