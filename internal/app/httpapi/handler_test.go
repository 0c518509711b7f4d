package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/acilabs/toolcatalog/internal/app/services/catalog"
	"github.com/acilabs/toolcatalog/internal/app/services/configurations"
	"github.com/acilabs/toolcatalog/internal/app/storage/memory"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fixedEmbedder) Dimension() int { return 3 }
func (fixedEmbedder) Model() string  { return "test-model" }

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store := memory.New(nil)
	svc, err := catalog.New(catalog.Options{
		Apps:           store,
		Functions:      store,
		Configurations: store,
		Transactor:     store,
		Embedder:       fixedEmbedder{},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	cfgSvc := configurations.New(store, store, store, nil, nil)
	return NewHandler(Options{Catalog: svc, Configurations: cfgSvc})
}

func doJSON(t *testing.T, h http.Handler, method, path string, owner *uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != nil {
		req.Header.Set(HeaderAPIKeyID, owner.String())
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func seedApp(t *testing.T, h http.Handler, owner *uuid.UUID, name string) string {
	t.Helper()
	resp := doJSON(t, h, http.MethodPost, "/v1/apps", owner, map[string]any{
		"name":        name,
		"description": "test app " + name,
		"security_schemes": map[string]any{
			"api_key": map[string]any{"location": "header", "name": "X-Key"},
		},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("seed app %s: %d %s", name, resp.Code, resp.Body.String())
	}
	return gjson.Get(resp.Body.String(), "id").String()
}

func TestUpsertAppRoundtrip(t *testing.T) {
	h := newTestHandler(t)
	owner := uuid.New()

	resp := doJSON(t, h, http.MethodPost, "/v1/apps", &owner, map[string]any{
		"name":        "GMAIL",
		"description": "email service",
		"categories":  []string{"email"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("upsert: %d %s", resp.Code, resp.Body.String())
	}
	body := resp.Body.String()
	if gjson.Get(body, "name").String() != "GMAIL" {
		t.Fatalf("name = %q", gjson.Get(body, "name").String())
	}
	if !gjson.Get(body, "custom").Bool() {
		t.Fatalf("owned app not flagged custom: %s", body)
	}
	if gjson.Get(body, "visibility").String() != "private" {
		t.Fatalf("visibility = %q, want private default for owned app", gjson.Get(body, "visibility").String())
	}
	if gjson.Get(body, "embedding").Exists() {
		t.Fatalf("embedding leaked into response: %s", body)
	}

	resp = doJSON(t, h, http.MethodGet, "/v1/apps/GMAIL", &owner, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get: %d %s", resp.Code, resp.Body.String())
	}
}

func TestGetAppNotFound(t *testing.T) {
	h := newTestHandler(t)
	resp := doJSON(t, h, http.MethodGet, "/v1/apps/ABSENT", nil, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
	if gjson.Get(resp.Body.String(), "error").String() == "" {
		t.Fatalf("missing error body: %s", resp.Body.String())
	}
}

func TestTenantHeaderValidation(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/apps", nil)
	req.Header.Set(HeaderAPIKeyID, "not-a-uuid")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestOwnershipScopedVisibility(t *testing.T) {
	h := newTestHandler(t)
	ownerA := uuid.New()
	ownerB := uuid.New()
	seedApp(t, h, &ownerA, "PRIVATE_TOOL")

	// The owning caller sees its private app; under public_only a
	// stranger does not.
	resp := doJSON(t, h, http.MethodGet, "/v1/apps/PRIVATE_TOOL", &ownerA, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("owner get: %d", resp.Code)
	}
	resp = doJSON(t, h, http.MethodGet, "/v1/apps/PRIVATE_TOOL?public_only=true", &ownerB, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("stranger public_only get: %d, want 404", resp.Code)
	}
}

func TestUpsertFunctionsBatch(t *testing.T) {
	h := newTestHandler(t)
	owner := uuid.New()
	seedApp(t, h, &owner, "SLACK")

	resp := doJSON(t, h, http.MethodPost, "/v1/functions", &owner, []map[string]any{
		{"name": "SLACK__SEND_MESSAGE", "description": "send a message"},
		{"name": "SLACK__LIST_CHANNELS", "description": "list channels"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("upsert functions: %d %s", resp.Code, resp.Body.String())
	}
	body := resp.Body.String()
	if n := gjson.Get(body, "#").Int(); n != 2 {
		t.Fatalf("returned %d functions, want 2", n)
	}
	if got := gjson.Get(body, "0.name").String(); got != "SLACK__SEND_MESSAGE" {
		t.Fatalf("first function = %q, want input order preserved", got)
	}

	resp = doJSON(t, h, http.MethodPost, "/v1/functions", &owner, []map[string]any{
		{"name": "MISSING__OP"},
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("missing parent app: %d, want 404", resp.Code)
	}

	resp = doJSON(t, h, http.MethodPost, "/v1/functions", &owner, []map[string]any{
		{"name": "NODELIMITER"},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad function name: %d, want 400", resp.Code)
	}
}

func TestSearchAppsRankedResponse(t *testing.T) {
	h := newTestHandler(t)
	owner := uuid.New()
	seedApp(t, h, &owner, "GMAIL")

	resp := doJSON(t, h, http.MethodGet, "/v1/apps/search?intent=send+email", &owner, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("search: %d %s", resp.Code, resp.Body.String())
	}
	body := resp.Body.String()
	if n := gjson.Get(body, "#").Int(); n != 1 {
		t.Fatalf("results = %d, want 1", n)
	}
	if !gjson.Get(body, "0.similarity_score").Exists() {
		t.Fatalf("ranked search missing similarity_score: %s", body)
	}

	resp = doJSON(t, h, http.MethodGet, "/v1/apps/search", &owner, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("unranked search: %d", resp.Code)
	}
	if gjson.Get(resp.Body.String(), "0.similarity_score").Exists() {
		t.Fatalf("unranked search leaked a score: %s", resp.Body.String())
	}
}

func TestSearchRejectsBadPagination(t *testing.T) {
	h := newTestHandler(t)
	for _, q := range []string{"limit=0", "limit=9999", "offset=-1", "limit=abc"} {
		resp := doJSON(t, h, http.MethodGet, "/v1/apps/search?"+q, nil, nil)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("query %q: status = %d, want 400", q, resp.Code)
		}
	}
}

func TestDeleteAppRequiresOwnership(t *testing.T) {
	h := newTestHandler(t)
	owner := uuid.New()
	stranger := uuid.New()
	id := seedApp(t, h, &owner, "DOOMED")

	resp := doJSON(t, h, http.MethodDelete, "/v1/apps/"+id, nil, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("anonymous delete: %d, want 403", resp.Code)
	}

	resp = doJSON(t, h, http.MethodDelete, "/v1/apps/"+id, &stranger, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("stranger delete: %d, want 403", resp.Code)
	}

	resp = doJSON(t, h, http.MethodDelete, "/v1/apps/"+id, &owner, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("owner delete: %d, want 204", resp.Code)
	}

	resp = doJSON(t, h, http.MethodGet, "/v1/apps/DOOMED", &owner, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("deleted app still visible: %d", resp.Code)
	}
}

func TestPatchAppActivation(t *testing.T) {
	h := newTestHandler(t)
	owner := uuid.New()
	seedApp(t, h, &owner, "TOGGLE")

	resp := doJSON(t, h, http.MethodPatch, "/v1/apps/TOGGLE", &owner, map[string]any{"active": false})
	if resp.Code != http.StatusNoContent {
		t.Fatalf("patch: %d %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, h, http.MethodGet, "/v1/apps/TOGGLE?active_only=true", &owner, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("inactive app visible under active_only: %d", resp.Code)
	}

	resp = doJSON(t, h, http.MethodPatch, "/v1/apps/TOGGLE", &owner, map[string]any{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("empty patch: %d, want 400", resp.Code)
	}
}

func TestConfigurationLifecycle(t *testing.T) {
	h := newTestHandler(t)
	owner := uuid.New()
	seedApp(t, h, &owner, "GMAIL")
	projectID := uuid.New()

	resp := doJSON(t, h, http.MethodPost, "/v1/app-configurations", &owner, map[string]any{
		"project_id":      projectID.String(),
		"app_name":        "GMAIL",
		"security_scheme": "api_key",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.Code, resp.Body.String())
	}
	body := resp.Body.String()
	if !gjson.Get(body, "enabled").Bool() || !gjson.Get(body, "all_functions_enabled").Bool() {
		t.Fatalf("defaults not applied: %s", body)
	}

	resp = doJSON(t, h, http.MethodPost, "/v1/app-configurations", &owner, map[string]any{
		"project_id":      projectID.String(),
		"app_name":        "GMAIL",
		"security_scheme": "api_key",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate create: %d, want 409", resp.Code)
	}

	resp = doJSON(t, h, http.MethodPost, "/v1/app-configurations", &owner, map[string]any{
		"project_id":      projectID.String(),
		"app_name":        "GMAIL",
		"security_scheme": "oauth2",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("undeclared scheme: %d, want 400", resp.Code)
	}

	path := fmt.Sprintf("/v1/app-configurations/GMAIL?project_id=%s", projectID)
	resp = doJSON(t, h, http.MethodPatch, path, &owner, map[string]any{"enabled": false})
	if resp.Code != http.StatusOK {
		t.Fatalf("update: %d %s", resp.Code, resp.Body.String())
	}
	if gjson.Get(resp.Body.String(), "enabled").Bool() {
		t.Fatalf("enabled not updated: %s", resp.Body.String())
	}

	credPath := fmt.Sprintf("/v1/app-configurations/GMAIL/credentials?project_id=%s", projectID)
	resp = doJSON(t, h, http.MethodPost, credPath, &owner, map[string]any{
		"security_scheme": "api_key",
		"credential":      map[string]any{"key": "sk-123"},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("store credential: %d %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, h, http.MethodDelete, path, &owner, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", resp.Code, resp.Body.String())
	}
	resp = doJSON(t, h, http.MethodGet, path, &owner, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("deleted configuration still readable: %d", resp.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	store := memory.New(nil)
	svc, err := catalog.New(catalog.Options{
		Apps:           store,
		Functions:      store,
		Configurations: store,
		Transactor:     store,
		Embedder:       fixedEmbedder{},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	h := NewHandler(Options{
		Catalog:        svc,
		Configurations: configurations.New(store, store, store, nil, nil),
		RateLimit:      NewRateLimiter(1, 1),
	})

	owner := uuid.New()
	first := doJSON(t, h, http.MethodGet, "/v1/apps", &owner, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first request: %d", first.Code)
	}
	second := doJSON(t, h, http.MethodGet, "/v1/apps", &owner, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d, want 429", second.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	resp := doJSON(t, h, http.MethodGet, "/healthz", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("healthz: %d", resp.Code)
	}

	store := memory.New(nil)
	svc, _ := catalog.New(catalog.Options{
		Apps: store, Functions: store, Configurations: store,
		Transactor: store, Embedder: fixedEmbedder{},
	})
	failing := NewHandler(Options{
		Catalog:        svc,
		Configurations: configurations.New(store, store, store, nil, nil),
		HealthCheck:    func() error { return fmt.Errorf("db down") },
	})
	resp = doJSON(t, failing, http.MethodGet, "/healthz", nil, nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("failing healthz: %d, want 503", resp.Code)
	}
}
