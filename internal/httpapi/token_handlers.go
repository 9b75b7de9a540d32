package httpapi

import (
	"net/http"
	"strings"
	"time"

	"tokenlink.org/internal/obs"
)

type createTokenRequest struct {
	SourceID         string         `json:"source_id"`
	TargetID         string         `json:"target_id"`
	TTLSeconds       int64          `json:"ttl_seconds"`
	RelationshipType string         `json:"relationship_type"`
	Metadata         map[string]any `json:"metadata"`
}

type extendExpiryRequest struct {
	AdditionalSeconds int64 `json:"additional_seconds"`
}

func (a *API) handleTokensCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req createTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.SourceID) == "" || strings.TrimSpace(req.TargetID) == "" {
		writeError(w, r, http.StatusBadRequest, "source_id and target_id are required")
		return
	}
	relType := strings.TrimSpace(req.RelationshipType)
	if relType == "" {
		relType = "link"
	}

	tok, err := a.reg.CreateToken(r.Context(), req.SourceID, req.TargetID,
		time.Duration(req.TTLSeconds)*time.Second, relType, req.Metadata)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	obs.TokensIssued.Inc()
	a.audit(r.Context(), "token.create", map[string]any{
		"token_hash":        tok.Hash,
		"source":            tok.Source,
		"target":            tok.Target,
		"relationship_type": tok.RelationshipType,
	})
	writeJSON(w, http.StatusCreated, tok)
}

// handleTokenResource dispatches /v1/tokens/{value} and its
// /valid, /revoke, /extend subresources.
func (a *API) handleTokenResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/tokens/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	value, action, _ := strings.Cut(path, "/")
	if value == "" || strings.Contains(action, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		tok, err := a.reg.GetToken(r.Context(), value)
		if err != nil {
			handleRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, tok)
	case "valid":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		ok, err := a.reg.IsValid(r.Context(), value)
		if err != nil {
			handleRegistryError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"valid": ok})
	case "revoke":
		a.revokeToken(w, r, value)
	case "extend":
		a.extendToken(w, r, value)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) revokeToken(w http.ResponseWriter, r *http.Request, value string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	found, err := a.reg.Revoke(r.Context(), value)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	if found {
		obs.TokensRevoked.Inc()
		a.audit(r.Context(), "token.revoke", map[string]any{"token": value})
	}
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": found})
}

func (a *API) extendToken(w http.ResponseWriter, r *http.Request, value string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req extendExpiryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.AdditionalSeconds <= 0 {
		writeError(w, r, http.StatusBadRequest, "additional_seconds must be positive")
		return
	}
	if err := a.reg.ExtendExpiry(r.Context(), value, time.Duration(req.AdditionalSeconds)*time.Second); err != nil {
		handleRegistryError(w, r, err)
		return
	}
	a.audit(r.Context(), "token.extend", map[string]any{
		"token":              value,
		"additional_seconds": req.AdditionalSeconds,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !a.requireAdmin(w, r) {
		return
	}
	n, err := a.reg.CleanupExpired(r.Context())
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	obs.TokensExpired.Add(float64(n))
	a.audit(r.Context(), "token.cleanup", map[string]any{"expired": n})
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}
