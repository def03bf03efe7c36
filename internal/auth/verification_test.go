package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (n *recordingNotifier) NotifyVerificationCode(_ context.Context, holderRef, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.codes == nil {
		n.codes = map[string]string{}
	}
	n.codes[holderRef] = code
	return n.err
}

func newTestVerification(now *time.Time, notifier Notifier) (*VerificationService, *MemoryVerificationStore) {
	store := NewMemoryVerificationStore()
	v := NewVerificationService(store, notifier,
		WithVerificationClock(func() time.Time { return *now }),
		WithResendPolicy(30*time.Second, 2),
	)
	return v, store
}

func TestVerificationIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	n := &recordingNotifier{}
	v, store := newTestVerification(&now, n)
	ctx := context.Background()

	exp, err := v.Issue(ctx, "2021-0001")
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultCodeTTL), exp)

	code := n.codes["2021-0001"]
	require.Len(t, code, CodeLength)

	rec, err := store.Get(ctx, "2021-0001")
	require.NoError(t, err)
	assert.NotEqual(t, code, rec.CodeHash, "code must be stored hashed")

	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	assert.ErrorIs(t, v.Verify(ctx, "2021-0001", wrong), ErrCodeMismatch)
	require.NoError(t, v.Verify(ctx, "2021-0001", code))
	assert.ErrorIs(t, v.Verify(ctx, "2021-0001", code), ErrNotFound, "code is single use")
}

func TestVerificationResendPolicy(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	v, _ := newTestVerification(&now, nil)
	ctx := context.Background()

	_, err := v.Issue(ctx, "h")
	require.NoError(t, err)

	_, err = v.Issue(ctx, "h")
	assert.ErrorIs(t, err, ErrResendCooldown)

	for i := 0; i < 2; i++ {
		now = now.Add(31 * time.Second)
		_, err = v.Issue(ctx, "h")
		require.NoError(t, err)
	}
	now = now.Add(31 * time.Second)
	_, err = v.Issue(ctx, "h")
	assert.ErrorIs(t, err, ErrResendLimit)
}

func TestVerificationExpiryAndSweep(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	n := &recordingNotifier{}
	v, store := newTestVerification(&now, n)
	ctx := context.Background()

	_, err := v.Issue(ctx, "a")
	require.NoError(t, err)
	_, err = v.Issue(ctx, "b")
	require.NoError(t, err)

	now = now.Add(DefaultCodeTTL)
	assert.ErrorIs(t, v.Verify(ctx, "a", n.codes["a"]), ErrCodeExpired)
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	now = now.Add(time.Second)
	deleted, err := v.Sweep(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
}

func TestVerificationNotifierFailureDoesNotFailIssue(t *testing.T) {
	now := time.Now()
	v, _ := newTestVerification(&now, &recordingNotifier{err: errors.New("smtp down")})
	_, err := v.Issue(context.Background(), "h")
	assert.NoError(t, err)
}

func TestVerificationRejectsMalformedInput(t *testing.T) {
	now := time.Now()
	v, _ := newTestVerification(&now, nil)
	ctx := context.Background()
	_, err := v.Issue(ctx, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, v.Verify(ctx, "h", "12ab56"), ErrInvalidInput)
	assert.ErrorIs(t, v.Verify(ctx, "h", "12345"), ErrInvalidInput)
}

func TestVerificationCapsFailedAttempts(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	n := &recordingNotifier{}
	v, store := newTestVerification(&now, n)
	ctx := context.Background()

	_, err := v.Issue(ctx, "h")
	require.NoError(t, err)
	code := n.codes["h"]
	wrong := "000000"
	if wrong == code {
		wrong = "111111"
	}
	for i := 0; i < DefaultMaxAttempts; i++ {
		assert.ErrorIs(t, v.Verify(ctx, "h", wrong), ErrCodeMismatch)
	}
	assert.ErrorIs(t, v.Verify(ctx, "h", code), ErrTooManyAttempts)
	rec, err := store.Get(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxAttempts, rec.Attempts)

	// a resend issues a fresh code with a fresh budget
	now = now.Add(31 * time.Second)
	_, err = v.Issue(ctx, "h")
	require.NoError(t, err)
	rec, err = store.Get(ctx, "h")
	require.NoError(t, err)
	assert.Zero(t, rec.Attempts)
	assert.Equal(t, 1, rec.ResendCount)
	require.NoError(t, v.Verify(ctx, "h", n.codes["h"]))
}

func TestVerificationConcurrentIssueHonoursCooldown(t *testing.T) {
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	v, store := newTestVerification(&now, nil)
	ctx := context.Background()

	_, err := v.Issue(ctx, "h")
	require.NoError(t, err)
	now = now.Add(31 * time.Second)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ok      int
		refused int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Issue(ctx, "h")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrResendCooldown):
				refused++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, refused)
	rec, err := store.Get(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ResendCount)
}
