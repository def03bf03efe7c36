package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/ledger"
	"campuswallet.org/internal/money"
	"campuswallet.org/internal/obs"
)

var ledgerStatus = []struct {
	err    error
	status int
}{
	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{money.ErrInvalid, http.StatusBadRequest},
	{ledger.ErrSelfTransfer, http.StatusBadRequest},
	{ledger.ErrInvalidInput, http.StatusBadRequest},
	{ledger.ErrUnauthorized, http.StatusForbidden},
	{ledger.ErrReceiverNotFound, http.StatusNotFound},
	{ledger.ErrBillNotFound, http.StatusNotFound},
	{ledger.ErrAccountNotFound, http.StatusNotFound},
	{ledger.ErrRequestNotFound, http.StatusNotFound},
	{ledger.ErrInsufficientFunds, http.StatusConflict},
	{ledger.ErrAlreadyPaid, http.StatusConflict},
	{ledger.ErrRequestAlreadyProcessed, http.StatusConflict},
	{ledger.ErrAccountExists, http.StatusConflict},
	{ledger.ErrStoreUnavailable, http.StatusServiceUnavailable},
	{ledger.ErrIDCollision, http.StatusServiceUnavailable},
}

func statusFor(err error) int {
	for _, s := range ledgerStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// handleLedgerError writes the taxonomy code and its human message; the raw
// error text only reaches the log.
func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		obs.Logger().Error("request_failed",
			zap.String("request_id", RequestIDFromContext(r)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, r, status, ledger.Code(err), ledger.Message(err))
}

func handleVerificationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", "holder_ref and a 6-digit code are required")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrCodeMismatch):
		writeError(w, r, http.StatusBadRequest, "code_invalid", "The verification code is incorrect.")
	case errors.Is(err, auth.ErrCodeExpired):
		writeError(w, r, http.StatusBadRequest, "code_expired", "The verification code has expired. Request a new one.")
	case errors.Is(err, auth.ErrResendCooldown):
		w.Header().Set("Retry-After", "30")
		writeError(w, r, http.StatusTooManyRequests, "resend_cooldown", "Please wait before requesting another code.")
	case errors.Is(err, auth.ErrResendLimit):
		writeError(w, r, http.StatusTooManyRequests, "resend_limit", "Too many codes requested. Try again later.")
	case errors.Is(err, auth.ErrTooManyAttempts):
		writeError(w, r, http.StatusTooManyRequests, "too_many_attempts", "Too many incorrect codes. Request a new one.")
	default:
		handleLedgerError(w, r, err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, errCode, msg string) {
	payload := map[string]any{
		"error": msg,
		"code":  errCode,
	}
	if rid := RequestIDFromContext(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads exactly one JSON object of at most 1 MiB.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// badBody reports a decode failure, keeping amount errors in the taxonomy.
func badBody(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, money.ErrInvalid) {
		handleLedgerError(w, r, err)
		return
	}
	writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
}

func parseLimit(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 || val > ledger.MaxHistoryLimit {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

// parseTime accepts RFC 3339 or a plain date. A plain date used as an upper
// bound covers that whole day.
func parseTime(raw string, upper bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, errors.New("dates must be RFC 3339 or YYYY-MM-DD")
	}
	if upper {
		day = day.AddDate(0, 0, 1)
	}
	return day, nil
}
