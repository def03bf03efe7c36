package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"campuswallet.org/internal/auth"
)

// PaymentSort orders the bill-payment report.
type PaymentSort string

const (
	SortByDate  PaymentSort = "date"
	SortByTitle PaymentSort = "title"
)

// History returns entries matching f, newest first. Callers other than finance
// admins must filter by an account they own; with no account filter they get
// their own wallet.
func (s *Service) History(ctx context.Context, f EntryFilter) ([]HistoryEntry, error) {
	f.AccountID = strings.TrimSpace(f.AccountID)
	f.OrgAccountID = strings.TrimSpace(f.OrgAccountID)
	f.SenderID = strings.TrimSpace(f.SenderID)
	f.BillTitle = strings.TrimSpace(f.BillTitle)
	f.IDSearch = strings.TrimSpace(f.IDSearch)
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidInput, f.Kind)
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidInput)
	}

	id, err := s.gateway.Identify(ctx)
	if err != nil {
		return nil, err
	}
	if id.Role != auth.RoleFinanceAdmin {
		if f.AccountID == "" && f.OrgAccountID == "" {
			f.AccountID = id.AccountID
		}
		for _, acct := range []string{f.AccountID, f.OrgAccountID} {
			if acct == "" {
				continue
			}
			if err := auth.Authorize(id, auth.ActionViewAccount, acct); err != nil {
				return nil, err
			}
		}
	}

	var entries []Entry
	err = s.store.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		var err error
		entries, err = r.Entries(ctx, f.Normalize())
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		h := HistoryEntry{Entry: e}
		switch f.AccountID {
		case "":
		case e.SenderID:
			h.Direction = "outgoing"
		case e.ReceiverID:
			h.Direction = "incoming"
		}
		out = append(out, h)
	}
	return out, nil
}

// BillPayments reports payments received on the organization's bills,
// optionally narrowed to bills whose title contains billTitle.
func (s *Service) BillPayments(ctx context.Context, orgAccountID, billTitle string, sortBy PaymentSort) ([]BillPayment, error) {
	orgAccountID = strings.TrimSpace(orgAccountID)
	switch sortBy {
	case "":
		sortBy = SortByDate
	case SortByDate, SortByTitle:
	default:
		return nil, fmt.Errorf("%w: sort %q", ErrInvalidInput, sortBy)
	}
	if _, err := s.authorize(ctx, auth.ActionViewAccount, orgAccountID); err != nil {
		return nil, err
	}

	var out []BillPayment
	err := s.store.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		var err error
		out, err = r.BillPayments(ctx, orgAccountID, strings.TrimSpace(billTitle))
		return err
	})
	if err != nil {
		return nil, err
	}
	if sortBy == SortByTitle {
		sort.SliceStable(out, func(i, j int) bool {
			return strings.ToLower(out[i].BillTitle) < strings.ToLower(out[j].BillTitle)
		})
	}
	return out, nil
}
