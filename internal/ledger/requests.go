package ledger

import (
	"context"
	"fmt"
	"strings"

	"campuswallet.org/internal/audit"
	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/ids"
	"campuswallet.org/internal/money"
)

// SubmitCashIn asks finance to add amount to accountID.
func (s *Service) SubmitCashIn(ctx context.Context, accountID string, amount money.Amount, message string) (req CashRequest, err error) {
	defer func() { s.record("submit_cash_in", err) }()
	return s.submit(ctx, auth.ActionSubmitCashIn, accountID, DirectionIn, amount, message)
}

// SubmitCashOut asks finance to withdraw amount from accountID. Only an
// organization treasurer or an office may request a cash-out.
func (s *Service) SubmitCashOut(ctx context.Context, accountID string, amount money.Amount, message string) (req CashRequest, err error) {
	defer func() { s.record("submit_cash_out", err) }()
	return s.submit(ctx, auth.ActionSubmitCashOut, accountID, DirectionOut, amount, message)
}

func (s *Service) submit(ctx context.Context, act auth.Action, accountID string, dir Direction, amount money.Amount, message string) (CashRequest, error) {
	accountID = strings.TrimSpace(accountID)
	if !amount.IsPositive() {
		return CashRequest{}, ErrInvalidAmount
	}
	message, err := cleanText(message, maxMessageLength)
	if err != nil {
		return CashRequest{}, err
	}
	if _, err := s.authorize(ctx, act, accountID); err != nil {
		return CashRequest{}, err
	}

	req := CashRequest{
		AccountID:   accountID,
		Direction:   dir,
		Amount:      amount,
		Status:      StatusPending,
		Message:     message,
		RequestedAt: s.now().UTC(),
	}
	err = s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		acct, err := tx.Account(ctx, accountID)
		if err != nil {
			return err
		}
		if dir == DirectionOut && acct.Balance < amount {
			return ErrInsufficientFunds
		}
		req.HolderRef = acct.HolderRef
		return withFreshID(s.ids, ids.PrefixRequest, func(id string) error {
			req.ID = id
			return tx.InsertCashRequest(ctx, req)
		})
	})
	if err != nil {
		return CashRequest{}, err
	}
	return req, nil
}

// Approve settles a pending request and marks it approved, in one transaction.
// When settlement fails the request stays pending and can be approved again.
func (s *Service) Approve(ctx context.Context, requestID string) (req CashRequest, err error) {
	defer func() { s.record("approve", err) }()

	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return CashRequest{}, ErrRequestNotFound
	}
	approver, err := s.authorize(ctx, auth.ActionApprove, "")
	if err != nil {
		return CashRequest{}, err
	}

	var entry Entry
	err = s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if req, err = tx.LockCashRequest(ctx, requestID); err != nil {
			return err
		}
		if req.Status != StatusPending {
			return ErrRequestAlreadyProcessed
		}
		switch req.Direction {
		case DirectionIn:
			entry, err = s.settleCashIn(ctx, tx, req, approver)
		case DirectionOut:
			entry, err = s.settleCashOut(ctx, tx, req, approver)
		default:
			err = fmt.Errorf("%w: direction %q", ErrInvalidInput, req.Direction)
		}
		if err != nil {
			return err
		}
		processed := s.now().UTC()
		req.Status = StatusApproved
		req.ProcessedAt = &processed
		req.ProcessedBy = approver.Actor()
		req.SettlementID = entry.ID
		return tx.UpdateCashRequest(ctx, req)
	})
	if err != nil {
		return CashRequest{}, err
	}
	s.committed(ctx, entry, "cash_request.approved", map[string]any{
		"request_id": req.ID,
		"direction":  string(req.Direction),
	})
	return req, nil
}

// Decline rejects a pending request. No balance changes.
func (s *Service) Decline(ctx context.Context, requestID, reason string) (req CashRequest, err error) {
	defer func() { s.record("decline", err) }()

	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return CashRequest{}, ErrRequestNotFound
	}
	if reason, err = cleanText(reason, maxMessageLength); err != nil {
		return CashRequest{}, err
	}
	approver, err := s.authorize(ctx, auth.ActionDecline, "")
	if err != nil {
		return CashRequest{}, err
	}

	err = s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		if req, err = tx.LockCashRequest(ctx, requestID); err != nil {
			return err
		}
		if req.Status != StatusPending {
			return ErrRequestAlreadyProcessed
		}
		processed := s.now().UTC()
		req.Status = StatusRejected
		req.DeclineReason = reason
		req.ProcessedAt = &processed
		req.ProcessedBy = approver.Actor()
		return tx.UpdateCashRequest(ctx, req)
	})
	if err != nil {
		return CashRequest{}, err
	}
	audit.Record(ctx, "cash_request.declined", map[string]any{
		"request_id": req.ID,
		"direction":  string(req.Direction),
		"reason":     req.DeclineReason,
	})
	return req, nil
}

// List returns requests newest first. Finance admins see every account; other
// callers see only accounts they own and default to their own wallet.
func (s *Service) List(ctx context.Context, f RequestFilter) ([]CashRequest, error) {
	f.AccountID = strings.TrimSpace(f.AccountID)
	f.Search = strings.TrimSpace(f.Search)
	if strings.EqualFold(string(f.Status), "all") {
		f.Status = ""
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidInput, f.Status)
	}
	if f.Direction != "" && !f.Direction.Valid() {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidInput, f.Direction)
	}
	id, err := s.gateway.Identify(ctx)
	if err != nil {
		return nil, err
	}
	if f.AccountID == "" && id.Role != auth.RoleFinanceAdmin {
		f.AccountID = id.AccountID
	}
	if err := auth.Authorize(id, auth.ActionListRequests, f.AccountID); err != nil {
		return nil, err
	}

	var out []CashRequest
	err = s.store.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		var err error
		out, err = r.CashRequests(ctx, f.Normalize())
		return err
	})
	return out, err
}
