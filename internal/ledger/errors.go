package ledger

import (
	"errors"

	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/money"
)

var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrReceiverNotFound        = errors.New("receiver not found")
	ErrSelfTransfer            = errors.New("sender and receiver are the same account")
	ErrBillNotFound            = errors.New("bill not found")
	ErrAlreadyPaid             = errors.New("bill already paid")
	ErrRequestAlreadyProcessed = errors.New("request already processed")
	ErrUnauthorized            = auth.ErrUnauthorized
	ErrStoreUnavailable        = errors.New("store unavailable")

	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrRequestNotFound = errors.New("request not found")
	ErrInvalidInput    = errors.New("invalid input")

	// ErrIDCollision is returned by a Tx insert when the generated id is taken.
	ErrIDCollision = errors.New("identifier collision")
)

var codes = []struct {
	err  error
	code string
	msg  string
}{
	{ErrInvalidAmount, "invalid_amount", "Enter an amount greater than zero with at most two decimal places."},
	{money.ErrInvalid, "invalid_amount", "Enter an amount greater than zero with at most two decimal places."},
	{ErrInsufficientFunds, "insufficient_funds", "Insufficient balance for this transaction."},
	{ErrReceiverNotFound, "receiver_not_found", "Receiver not found."},
	{ErrSelfTransfer, "self_transfer", "You cannot send money to yourself."},
	{ErrBillNotFound, "bill_not_found", "Bill not found."},
	{ErrAlreadyPaid, "already_paid", "This bill has already been paid."},
	{ErrRequestAlreadyProcessed, "request_already_processed", "This request has already been processed."},
	{ErrUnauthorized, "unauthorized", "You are not allowed to perform this action."},
	{ErrStoreUnavailable, "store_unavailable", "The service is temporarily unavailable. Please try again."},
	{ErrAccountNotFound, "account_not_found", "Account not found."},
	{ErrAccountExists, "account_exists", "An account already exists for this holder."},
	{ErrRequestNotFound, "request_not_found", "Request not found."},
	{ErrInvalidInput, "invalid_input", "Some of the submitted details are invalid."},
	{ErrIDCollision, "store_unavailable", "The service is temporarily unavailable. Please try again."},
}

// Code returns a stable machine-readable code for err: "ok" for nil, "internal" when unknown.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// Message returns a short human-readable message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.msg
		}
	}
	return "Something went wrong. Please try again."
}
