package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"campuswallet.org/internal/audit"
	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/ids"
)

// OpenAccount provisions a zero-balance account for holderRef. There is at
// most one account per holder and kind.
func (s *Service) OpenAccount(ctx context.Context, holderRef string, kind AccountKind) (acct Account, err error) {
	defer func() { s.record("open_account", err) }()

	holderRef = strings.TrimSpace(holderRef)
	if holderRef == "" {
		return Account{}, fmt.Errorf("%w: holder reference is required", ErrInvalidInput)
	}
	if !kind.Valid() {
		return Account{}, fmt.Errorf("%w: account kind %q", ErrInvalidInput, kind)
	}
	if _, err := s.authorize(ctx, auth.ActionOpenAccount, ""); err != nil {
		return Account{}, err
	}

	acct = Account{HolderRef: holderRef, Kind: kind, CreatedAt: s.now().UTC()}
	err = s.store.Atomic(ctx, func(ctx context.Context, tx Tx) error {
		return withFreshID(s.ids, ids.PrefixAccount, func(id string) error {
			acct.ID = id
			return tx.InsertAccount(ctx, acct)
		})
	})
	if err != nil {
		return Account{}, err
	}
	audit.Record(ctx, "account.opened", map[string]any{
		"account_id": acct.ID,
		"holder_ref": acct.HolderRef,
		"kind":       string(acct.Kind),
	})
	return acct, nil
}

// EnsureOrganizationAccount returns the organization account for holderRef,
// opening it first when absent.
func (s *Service) EnsureOrganizationAccount(ctx context.Context, holderRef string) (Account, error) {
	acct, err := s.OpenAccount(ctx, holderRef, KindOrganization)
	if !errors.Is(err, ErrAccountExists) {
		return acct, err
	}
	err = s.store.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		var err error
		acct, err = r.AccountByHolder(ctx, strings.TrimSpace(holderRef), KindOrganization)
		return err
	})
	return acct, err
}

// GetAccount returns the account with its current balance.
func (s *Service) GetAccount(ctx context.Context, id string) (Account, error) {
	id = strings.TrimSpace(id)
	if _, err := s.authorize(ctx, auth.ActionViewAccount, id); err != nil {
		return Account{}, err
	}
	var acct Account
	err := s.store.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		var err error
		acct, err = r.Account(ctx, id)
		return err
	})
	return acct, err
}

// ResolveAccount looks up a transfer receiver by account id or holder ref.
// Any authenticated caller may resolve; the balance is not exposed.
func (s *Service) ResolveAccount(ctx context.Context, ref string) (AccountRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return AccountRef{}, ErrReceiverNotFound
	}
	if _, err := s.gateway.Identify(ctx); err != nil {
		return AccountRef{}, err
	}
	var acct Account
	err := s.store.Snapshot(ctx, func(ctx context.Context, r Reader) error {
		var err error
		acct, err = resolve(ctx, r, ref)
		return err
	})
	if errors.Is(err, ErrAccountNotFound) {
		return AccountRef{}, ErrReceiverNotFound
	}
	if err != nil {
		return AccountRef{}, err
	}
	return acct.Ref(), nil
}
