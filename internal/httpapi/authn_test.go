package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"tokenlink.org/internal/auth"
	"tokenlink.org/internal/registry"
	"tokenlink.org/internal/stream"
)

func newSecuredAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("TOKENLINK_AUTH_SECRET", "authn-test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	api := New(ReadyProbe{}, "test", registry.NewInMemory(), stream.New())
	api.rateBurst = 1000
	api.ratePerSec = 1000

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func bearerHeader(t *testing.T, userID string, roles []string) map[string]string {
	t.Helper()
	tok, err := auth.GenerateToken(userID, roles, apiTokenTTL)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func TestAuthRequiredOnProtectedRoutes(t *testing.T) {
	c := newSecuredAPI(t)

	resp := c.do(http.MethodGet, "/v1/stats", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatal("expected WWW-Authenticate header")
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/stats", nil, map[string]string{"Authorization": "Bearer garbage"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/v1/stats", nil, bearerHeader(t, "ops", []string{"reader"}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Health stays open.
	resp = c.do(http.MethodGet, "/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected open healthz, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestTokenEndpointIssuesBearer(t *testing.T) {
	c := newSecuredAPI(t)

	resp := c.post("/v1/auth/token", apiTokenRequest{User: "ops", Roles: []string{"admin"}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token endpoint status: %d", resp.StatusCode)
	}
	issued := decode[apiTokenResponse](t, resp)
	if issued.Token == "" {
		t.Fatal("expected a bearer token")
	}

	claims, err := auth.ParseAndValidate(issued.Token)
	if err != nil {
		t.Fatalf("issued token invalid: %v", err)
	}
	if claims.Subject != "ops" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
}

func TestAdminGateOnDestructiveOps(t *testing.T) {
	c := newSecuredAPI(t)

	userHdr := bearerHeader(t, "alice", []string{"reader"})
	adminHdr := bearerHeader(t, "ops", []string{"admin"})

	resp := c.do(http.MethodPost, "/v1/identities", createIdentityRequest{Category: "user"}, userHdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("non-admin create identity: %d", resp.StatusCode)
	}
	id := decode[registry.Identity](t, resp)

	resp = c.do(http.MethodPost, "/v1/tokens", createTokenRequest{
		SourceID: id.Value,
		TargetID: id.Value,
	}, userHdr)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("non-admin create token: %d", resp.StatusCode)
	}
	tok := decode[registry.Token](t, resp)

	resp = c.do(http.MethodPost, "/v1/tokens/"+tok.Value+"/revoke", nil, userHdr)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 revoking without admin, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/tokens/cleanup", nil, userHdr)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 cleanup without admin, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/v1/tokens/"+tok.Value+"/revoke", nil, adminHdr)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin revoke: %d", resp.StatusCode)
	}
	var revoked map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&revoked); err != nil {
		t.Fatalf("decode revoke body: %v", err)
	}
	resp.Body.Close()
	if !revoked["revoked"] {
		t.Fatal("expected revocation to report true")
	}
}

func TestRequireRoleMiddleware(t *testing.T) {
	t.Setenv("TOKENLINK_AUTH_SECRET", "authn-test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	guarded := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	rr := httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	ctx := auth.ContextWithUser(req.Context(), "alice", []string{"reader"})
	guarded.ServeHTTP(rr, req.WithContext(ctx))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without role, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	ctx = auth.ContextWithUser(req.Context(), "ops", []string{"admin"})
	guarded.ServeHTTP(rr, req.WithContext(ctx))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with role, got %d", rr.Code)
	}
}
