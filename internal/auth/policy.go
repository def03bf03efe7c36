package auth

import "fmt"

// Action is an operation subject to authorization.
type Action string

const (
	ActionTransfer      Action = "ledger.transfer"
	ActionPayBill       Action = "ledger.bill.pay"
	ActionPostBill      Action = "ledger.bill.post"
	ActionSubmitCashIn  Action = "ledger.cash_in.submit"
	ActionSubmitCashOut Action = "ledger.cash_out.submit"
	ActionApprove       Action = "ledger.request.approve"
	ActionDecline       Action = "ledger.request.decline"
	ActionListRequests  Action = "ledger.request.list"
	ActionViewAccount   Action = "ledger.account.view"
	ActionOpenAccount   Action = "ledger.account.open"
)

var rolePermissions = map[Role]map[Action]struct{}{
	RoleStudent: set(ActionTransfer, ActionPayBill, ActionSubmitCashIn,
		ActionListRequests, ActionViewAccount),
	RoleTreasurer: set(ActionTransfer, ActionPayBill, ActionSubmitCashIn, ActionSubmitCashOut,
		ActionPostBill, ActionListRequests, ActionViewAccount),
	RoleOffice: set(ActionTransfer, ActionPayBill, ActionSubmitCashIn, ActionSubmitCashOut,
		ActionListRequests, ActionViewAccount),
	RoleFinanceAdmin: set(ActionApprove, ActionDecline, ActionListRequests,
		ActionViewAccount, ActionOpenAccount),
}

func set(actions ...Action) map[Action]struct{} {
	m := make(map[Action]struct{}, len(actions))
	for _, a := range actions {
		m[a] = struct{}{}
	}
	return m
}

// Can reports whether the caller's role permits act at all, ignoring account scope.
func (id Identity) Can(act Action) bool {
	_, ok := rolePermissions[id.Role][act]
	return ok
}

// Authorize checks that id may perform act on accountID. accountID is ignored
// for actions that are not scoped to an account (approve, decline, open).
func Authorize(id Identity, act Action, accountID string) error {
	if !id.Role.Valid() || !id.Can(act) {
		return fmt.Errorf("%w: role %q may not %s", ErrUnauthorized, id.Role, act)
	}
	ok := true
	switch act {
	case ActionTransfer, ActionPayBill, ActionSubmitCashIn:
		ok = accountID != "" && accountID == id.AccountID
	case ActionSubmitCashOut:
		switch id.Role {
		case RoleTreasurer:
			ok = accountID != "" && accountID == id.OrgAccountID
		case RoleOffice:
			ok = accountID != "" && accountID == id.AccountID
		}
	case ActionPostBill:
		ok = accountID != "" && accountID == id.OrgAccountID
	case ActionViewAccount, ActionListRequests:
		ok = id.Role == RoleFinanceAdmin || id.Owns(accountID)
	}
	if !ok {
		return fmt.Errorf("%w: %s on account %q", ErrUnauthorized, act, accountID)
	}
	return nil
}
