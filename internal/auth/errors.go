package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrInvalidToken = errors.New("auth: invalid token")

	ErrCodeExpired     = errors.New("auth: verification code expired")
	ErrCodeMismatch    = errors.New("auth: verification code mismatch")
	ErrResendCooldown  = errors.New("auth: verification code requested too soon")
	ErrResendLimit     = errors.New("auth: verification resend limit reached")
	ErrTooManyAttempts = errors.New("auth: too many verification attempts")
)
