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

// PostBill publishes a bill owned by orgAccountID. Bills are immutable once posted.
func (s *Service) PostBill(ctx context.Context, orgAccountID, title, description string, amount money.Amount) (bill Bill, err error) {
	defer func() { s.record("post_bill", err) }()

	orgAccountID = strings.TrimSpace(orgAccountID)
	title = strings.TrimSpace(title)
	if title == "" {
		return Bill{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if title, err = cleanText(title, maxTitleLength); err != nil {
		return Bill{}, err
	}
	if description, err = cleanText(description, maxMessageLength); err != nil {
		return Bill{}, err
	}
	if !amount.IsPositive() {
		return Bill{}, ErrInvalidAmount
	}
	if _, err := s.authorize(ctx, auth.ActionPostBill, orgAccountID); err != nil {
		return Bill{}, err
	}

	bill = Bill{
		OrgAccountID: orgAccountID,
		Title:        title,
		Description:  description,
		Amount:       amount,
		CreatedAt:    s.now().UTC(),
	}
	err = s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		org, err := tx.Account(ctx, orgAccountID)
		if err != nil {
			return err
		}
		if org.Kind != KindOrganization {
			return fmt.Errorf("%w: bills can only be posted by organization accounts", ErrInvalidInput)
		}
		return withFreshID(s.ids, ids.PrefixBill, func(id string) error {
			bill.ID = id
			return tx.InsertBill(ctx, bill)
		})
	})
	if err != nil {
		return Bill{}, err
	}
	audit.Record(ctx, "bill.posted", map[string]any{
		"bill_id":        bill.ID,
		"org_account_id": bill.OrgAccountID,
		"title":          bill.Title,
		"amount":         bill.Amount.String(),
	})
	return bill, nil
}

// OutstandingBillsFor lists bills payerID has not paid yet, newest first.
// search matches title, description or bill id.
func (s *Service) OutstandingBillsFor(ctx context.Context, payerID, search string) ([]Bill, error) {
	payerID = strings.TrimSpace(payerID)
	if _, err := s.authorize(ctx, auth.ActionViewAccount, payerID); err != nil {
		return nil, err
	}
	var out []Bill
	err := s.store.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		if _, err := r.Account(ctx, payerID); err != nil {
			return err
		}
		var err error
		out, err = r.OutstandingBills(ctx, payerID, strings.TrimSpace(search))
		return err
	})
	return out, err
}
