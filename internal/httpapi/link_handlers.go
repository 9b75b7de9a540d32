package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"tokenlink.org/internal/obs"
	"tokenlink.org/internal/registry"
	"tokenlink.org/internal/stream"
)

type authorizeLinkRequest struct {
	FollowerID      string `json:"follower_id"`
	FolloweeID      string `json:"followee_id"`
	AuthorizerToken string `json:"authorizer_token"`
}

type linkedListResponse struct {
	Items []string `json:"items"`
}

type relationshipsResponse struct {
	Items []registry.Token `json:"items"`
}

func (a *API) handleLinks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req authorizeLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.FollowerID) == "" || strings.TrimSpace(req.FolloweeID) == "" {
		writeError(w, r, http.StatusBadRequest, "follower_id and followee_id are required")
		return
	}
	if strings.TrimSpace(req.AuthorizerToken) == "" {
		writeError(w, r, http.StatusBadRequest, "authorizer_token is required")
		return
	}

	tok, err := a.reg.AuthorizeLink(r.Context(), req.FollowerID, req.FolloweeID, req.AuthorizerToken)
	if err != nil {
		if err == registry.ErrUnauthorized {
			obs.LinksDenied.Inc()
			a.audit(r.Context(), "link.denied", map[string]any{
				"follower": req.FollowerID,
				"followee": req.FolloweeID,
			})
		}
		handleRegistryError(w, r, err)
		return
	}

	obs.LinksAuthorized.Inc()
	obs.TokensIssued.Inc()
	authorizedBy, _ := tok.Metadata[registry.MetaAuthorizedBy].(string)
	a.audit(r.Context(), "link.authorize", map[string]any{
		"follower":      tok.Source,
		"followee":      tok.Target,
		"authorized_by": authorizedBy,
		"token_hash":    tok.Hash,
	})
	if a.stream != nil {
		a.stream.Publish(stream.LinkEvent{
			Token:            tok.Value,
			Follower:         tok.Source,
			Followee:         tok.Target,
			RelationshipType: tok.RelationshipType,
			AuthorizedBy:     authorizedBy,
			Timestamp:        time.Now().UTC(),
		})
	}
	writeJSON(w, http.StatusCreated, tok)
}

func (a *API) handleLinkedTargets(w http.ResponseWriter, r *http.Request) {
	a.linkedList(w, r, "source", a.reg.LinkedTargets)
}

func (a *API) handleLinkedSources(w http.ResponseWriter, r *http.Request) {
	a.linkedList(w, r, "target", a.reg.LinkedSources)
}

func (a *API) linkedList(w http.ResponseWriter, r *http.Request, param string,
	lookup func(ctx context.Context, anchor string) ([]string, error)) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	anchor := strings.TrimSpace(r.URL.Query().Get(param))
	if anchor == "" {
		writeError(w, r, http.StatusBadRequest, param+" is required")
		return
	}
	items, err := lookup(r.Context(), anchor)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, linkedListResponse{Items: items})
}

func (a *API) handleRelationships(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	relType := strings.TrimSpace(r.URL.Query().Get("type"))
	items, err := a.reg.RelationshipsByType(r.Context(), relType)
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, relationshipsResponse{Items: items})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	st, err := a.reg.Stats(r.Context())
	if err != nil {
		handleRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
