package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"campuswallet.org/internal/auth"
	"campuswallet.org/internal/ledger"
	"campuswallet.org/internal/obs"
	"campuswallet.org/internal/stream"
)

const serviceName = "campuswallet-api"

// Engine is the ledger surface the REST layer drives.
type Engine interface {
	ledger.WalletLedger
	ledger.RequestLifecycle
	ledger.BillBoard
	ledger.TransactionHistory
	ledger.Accounts
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Pinger is satisfied by the Postgres store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports ready once the store answers a ping. A nil Store is always ready.
type ReadyProbe struct {
	Store Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// API is the HTTP layer.
type API struct {
	router     *mux.Router
	engine     Engine
	tokens     *auth.TokenIssuer
	verify     *auth.VerificationService
	stream     *stream.Stream
	ready      readinessChecker
	version    string
	rateBurst  int
	ratePerSec int
}

// Option configures API.
type Option func(*API)

// WithVerification enables the verification-code routes.
func WithVerification(v *auth.VerificationService) Option {
	return func(a *API) { a.verify = v }
}

// WithStream enables GET /v1/stream.
func WithStream(s *stream.Stream) Option {
	return func(a *API) { a.stream = s }
}

func WithReadiness(r readinessChecker) Option {
	return func(a *API) {
		if r != nil {
			a.ready = r
		}
	}
}

func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

// WithRateLimit sets the per-client token bucket. Non-positive values keep the defaults.
func WithRateLimit(burst, perSec int) Option {
	return func(a *API) {
		if burst > 0 {
			a.rateBurst = burst
		}
		if perSec > 0 {
			a.ratePerSec = perSec
		}
	}
}

// New builds the API. tokens verifies bearer identities on every /v1 route
// except verification.
func New(engine Engine, tokens *auth.TokenIssuer, opts ...Option) *API {
	a := &API{
		router:     mux.NewRouter(),
		engine:     engine,
		tokens:     tokens,
		ready:      ReadyProbe{},
		rateBurst:  40,
		ratePerSec: 20,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.routes()
	return a
}

func (a *API) routes() {
	r := a.router
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/info", a.Info).Methods(http.MethodGet)

	v1.HandleFunc("/accounts", a.openAccount).Methods(http.MethodPost)
	v1.HandleFunc("/accounts", a.resolveAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}", a.getAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{id}/bills/outstanding", a.outstandingBills).Methods(http.MethodGet)

	v1.HandleFunc("/transfers", a.transfer).Methods(http.MethodPost)

	v1.HandleFunc("/bills", a.postBill).Methods(http.MethodPost)
	v1.HandleFunc("/bills/{id}/payments", a.payBill).Methods(http.MethodPost)

	v1.HandleFunc("/cash-requests", a.submitCashRequest).Methods(http.MethodPost)
	v1.HandleFunc("/cash-requests", a.listCashRequests).Methods(http.MethodGet)
	v1.HandleFunc("/cash-requests/{id}/approve", a.approve).Methods(http.MethodPost)
	v1.HandleFunc("/cash-requests/{id}/decline", a.decline).Methods(http.MethodPost)

	v1.HandleFunc("/ledger/entries", a.listEntries).Methods(http.MethodGet)
	v1.HandleFunc("/organizations/{id}/bill-payments", a.billPayments).Methods(http.MethodGet)

	v1.HandleFunc("/verification/codes", a.issueCode).Methods(http.MethodPost)
	v1.HandleFunc("/verification/codes/verify", a.verifyCode).Methods(http.MethodPost)

	v1.HandleFunc("/stream", a.Stream).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

// Handler returns the router wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.withAuth(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
