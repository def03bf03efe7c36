package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/ledger"
	"campuswallet.org/internal/money"
)

type openAccountRequest struct {
	HolderRef string             `json:"holder_ref"`
	Kind      ledger.AccountKind `json:"kind"`
}

type transferRequest struct {
	SenderID string       `json:"sender_id"`
	Receiver string       `json:"receiver"`
	Amount   money.Amount `json:"amount"`
	Message  string       `json:"message"`
}

type postBillRequest struct {
	OrgAccountID string       `json:"org_account_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Amount       money.Amount `json:"amount"`
}

type payBillRequest struct {
	PayerID string `json:"payer_id"`
	Message string `json:"message"`
}

type cashRequestBody struct {
	AccountID string           `json:"account_id"`
	Direction ledger.Direction `json:"direction"`
	Amount    money.Amount     `json:"amount"`
	Message   string           `json:"message"`
}

type declineRequest struct {
	Reason string `json:"reason"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func (a *API) openAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	if req.Kind == "" {
		req.Kind = ledger.KindPersonal
	}
	acct, err := a.engine.OpenAccount(r.Context(), req.HolderRef, req.Kind)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/accounts/"+acct.ID)
	writeJSON(w, http.StatusCreated, acct)
}

// resolveAccount answers GET /v1/accounts?ref=, the receiver lookup used
// before a transfer.
func (a *API) resolveAccount(w http.ResponseWriter, r *http.Request) {
	ref, err := a.engine.ResolveAccount(r.Context(), r.URL.Query().Get("ref"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := a.engine.GetAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (a *API) outstandingBills(w http.ResponseWriter, r *http.Request) {
	bills, err := a.engine.OutstandingBillsFor(r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("q"))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(bills))
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	sender := orDefault(req.SenderID, identity(r).AccountID)
	entry, err := a.engine.Transfer(r.Context(), sender, req.Receiver, req.Amount, req.Message)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) postBill(w http.ResponseWriter, r *http.Request) {
	var req postBillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	org := orDefault(req.OrgAccountID, identity(r).OrgAccountID)
	bill, err := a.engine.PostBill(r.Context(), org, req.Title, req.Description, req.Amount)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bill)
}

func (a *API) payBill(w http.ResponseWriter, r *http.Request) {
	var req payBillRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			badBody(w, r, err)
			return
		}
	}
	payer := orDefault(req.PayerID, identity(r).AccountID)
	entry, err := a.engine.PayBill(r.Context(), payer, mux.Vars(r)["id"], req.Message)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (a *API) submitCashRequest(w http.ResponseWriter, r *http.Request) {
	var req cashRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	id := identity(r)
	var (
		out ledger.CashRequest
		err error
	)
	switch req.Direction {
	case ledger.DirectionIn:
		out, err = a.engine.SubmitCashIn(r.Context(), orDefault(req.AccountID, id.AccountID), req.Amount, req.Message)
	case ledger.DirectionOut:
		// treasurers withdraw from the organization wallet
		def := id.AccountID
		if id.Role == auth.RoleTreasurer {
			def = id.OrgAccountID
		}
		out, err = a.engine.SubmitCashOut(r.Context(), orDefault(req.AccountID, def), req.Amount, req.Message)
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_input", `direction must be "in" or "out"`)
		return
	}
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/cash-requests/"+out.ID)
	writeJSON(w, http.StatusCreated, out)
}

func (a *API) listCashRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	items, err := a.engine.List(r.Context(), ledger.RequestFilter{
		AccountID: q.Get("account_id"),
		Status:    ledger.RequestStatus(strings.ToLower(q.Get("status"))),
		Direction: ledger.Direction(strings.ToLower(q.Get("direction"))),
		Search:    q.Get("q"),
		Limit:     limit,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (a *API) approve(w http.ResponseWriter, r *http.Request) {
	req, err := a.engine.Approve(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) decline(w http.ResponseWriter, r *http.Request) {
	var body declineRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			badBody(w, r, err)
			return
		}
	}
	req, err := a.engine.Decline(r.Context(), mux.Vars(r)["id"], body.Reason)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (a *API) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	from, err := parseTime(q.Get("from"), false)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	to, err := parseTime(q.Get("to"), true)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	items, err := a.engine.History(r.Context(), ledger.EntryFilter{
		AccountID:    q.Get("account_id"),
		OrgAccountID: q.Get("org_account_id"),
		SenderID:     q.Get("sender"),
		BillTitle:    q.Get("title"),
		Kind:         ledger.EntryKind(q.Get("kind")),
		IDSearch:     q.Get("q"),
		From:         from,
		To:           to,
		Limit:        limit,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}

func (a *API) billPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sortBy := ledger.PaymentSort(strings.ToLower(q.Get("sort")))
	items, err := a.engine.BillPayments(r.Context(), mux.Vars(r)["id"], q.Get("title"), sortBy)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list(items))
}
