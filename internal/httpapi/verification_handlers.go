package httpapi

import (
	"net/http"
	"time"

	"campuswallet.org/internal/audit"
)

type issueCodeRequest struct {
	HolderRef string `json:"holder_ref"`
}

type verifyCodeRequest struct {
	HolderRef string `json:"holder_ref"`
	Code      string `json:"code"`
}

func (a *API) issueCode(w http.ResponseWriter, r *http.Request) {
	if a.verify == nil {
		writeError(w, r, http.StatusServiceUnavailable, "verification_disabled", "verification is not enabled")
		return
	}
	var req issueCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	expires, err := a.verify.Issue(r.Context(), req.HolderRef)
	if err != nil {
		handleVerificationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"holder_ref": req.HolderRef,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

func (a *API) verifyCode(w http.ResponseWriter, r *http.Request) {
	if a.verify == nil {
		writeError(w, r, http.StatusServiceUnavailable, "verification_disabled", "verification is not enabled")
		return
	}
	var req verifyCodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		badBody(w, r, err)
		return
	}
	if err := a.verify.Verify(r.Context(), req.HolderRef, req.Code); err != nil {
		handleVerificationError(w, r, err)
		return
	}
	audit.Record(r.Context(), "verification.code.verified", map[string]any{"holder_ref": req.HolderRef})
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}
