package httpapi

import (
	"net/http"
	"strings"

	"tokenlink.org/internal/registry"
)

type createIdentityRequest struct {
	Category string         `json:"category"`
	Metadata map[string]any `json:"metadata"`
}

type setMetadataRequest struct {
	Value any `json:"value"`
}

type metadataResponse struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
	Found bool   `json:"found"`
}

type identityListResponse struct {
	Items []registry.Identity `json:"items"`
}

func (a *API) handleIdentitiesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createIdentity(w, r)
	case http.MethodGet:
		a.listIdentities(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

// handleIdentityResource dispatches /v1/identities/{value} and
// /v1/identities/{value}/metadata/{key}.
func (a *API) handleIdentityResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/identities/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if value, key, ok := strings.Cut(path, "/metadata/"); ok {
		if value == "" || key == "" || strings.Contains(key, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		switch r.Method {
		case http.MethodGet:
			a.getMetadata(w, r, value, key)
		case http.MethodPut:
			a.setMetadata(w, r, value, key)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, err := a.reg.GetIdentity(r.Context(), path)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func (a *API) createIdentity(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	id, err := a.reg.CreateIdentity(r.Context(), registry.Category(strings.TrimSpace(req.Category)), req.Metadata)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	a.audit(r.Context(), "identity.create", map[string]any{
		"identity": id.Value,
		"category": string(id.Category),
	})
	writeJSON(w, http.StatusCreated, id)
}

func (a *API) listIdentities(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	if category == "" {
		writeError(w, r, http.StatusBadRequest, "category is required")
		return
	}
	items, err := a.reg.IdentitiesByCategory(r.Context(), registry.Category(category))
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, identityListResponse{Items: items})
}

func (a *API) getMetadata(w http.ResponseWriter, r *http.Request, value, key string) {
	v, found, err := a.reg.IdentityMetadata(r.Context(), value, key)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, metadataResponse{Key: key, Value: v, Found: found})
}

func (a *API) setMetadata(w http.ResponseWriter, r *http.Request, value, key string) {
	var req setMetadataRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.reg.SetIdentityMetadata(r.Context(), value, key, req.Value); err != nil {
		handleRegistryError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
