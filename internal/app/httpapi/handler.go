// Package httpapi exposes the catalog over REST. Every route reads the
// caller identity from the X-API-Key-ID header; absent or malformed values
// are rejected by the tenant middleware before handlers run.
package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
	"github.com/acilabs/toolcatalog/internal/app/domain/configuration"
	"github.com/acilabs/toolcatalog/internal/app/domain/function"
	"github.com/acilabs/toolcatalog/internal/app/embedding"
	"github.com/acilabs/toolcatalog/internal/app/metrics"
	"github.com/acilabs/toolcatalog/internal/app/services/catalog"
	"github.com/acilabs/toolcatalog/internal/app/services/configurations"
	"github.com/acilabs/toolcatalog/internal/app/storage"
	"github.com/acilabs/toolcatalog/pkg/logger"
)

// Options wires the handler's dependencies.
type Options struct {
	Catalog        *catalog.Service
	Configurations *configurations.Service
	RateLimit      *RateLimiter
	HealthCheck    func() error
	Logger         *logger.Logger
}

type handler struct {
	catalog *catalog.Service
	configs *configurations.Service
	health  func() error
	log     *logger.Logger
}

// NewHandler returns the router exposing the full REST API.
func NewHandler(opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		catalog: opts.Catalog,
		configs: opts.Configurations,
		health:  opts.HealthCheck,
		log:     log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.Use(tenantMiddleware(log))
	if opts.RateLimit != nil {
		v1.Use(opts.RateLimit.Middleware)
	}

	v1.HandleFunc("/apps", h.upsertApp).Methods(http.MethodPost)
	v1.HandleFunc("/apps", h.listApps).Methods(http.MethodGet)
	v1.HandleFunc("/apps/search", h.searchApps).Methods(http.MethodGet)
	v1.HandleFunc("/apps/{name}", h.getApp).Methods(http.MethodGet)
	v1.HandleFunc("/apps/{name}", h.patchApp).Methods(http.MethodPatch)
	v1.HandleFunc("/apps/{id}", h.deleteApp).Methods(http.MethodDelete)

	v1.HandleFunc("/functions", h.upsertFunctions).Methods(http.MethodPost)
	v1.HandleFunc("/functions", h.listFunctions).Methods(http.MethodGet)
	v1.HandleFunc("/functions/search", h.searchFunctions).Methods(http.MethodGet)
	v1.HandleFunc("/functions/{name}", h.getFunction).Methods(http.MethodGet)
	v1.HandleFunc("/functions/{name}", h.patchFunction).Methods(http.MethodPatch)
	v1.HandleFunc("/functions/{id}", h.deleteFunction).Methods(http.MethodDelete)

	v1.HandleFunc("/app-configurations", h.createConfiguration).Methods(http.MethodPost)
	v1.HandleFunc("/app-configurations", h.listConfigurations).Methods(http.MethodGet)
	v1.HandleFunc("/app-configurations/{app_name}", h.getConfiguration).Methods(http.MethodGet)
	v1.HandleFunc("/app-configurations/{app_name}", h.updateConfiguration).Methods(http.MethodPatch)
	v1.HandleFunc("/app-configurations/{app_name}", h.deleteConfiguration).Methods(http.MethodDelete)
	v1.HandleFunc("/app-configurations/{app_name}/credentials", h.storeCredential).Methods(http.MethodPost)

	return metrics.InstrumentHandler(r)
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ----- apps -----

func (h *handler) upsertApp(w http.ResponseWriter, r *http.Request) {
	var spec app.Upsert
	if err := decodeJSON(r.Body, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(spec.Name) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name is required"))
		return
	}

	created, err := h.catalog.UpsertApp(r.Context(), spec, ownerKey(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appResponse(created))
}

func (h *handler) listApps(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f.OwnerKeyID = ownerKey(r.Context())

	apps, err := h.catalog.ListApps(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]appPayload, 0, len(apps))
	for _, a := range apps {
		out = append(out, appResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) searchApps(w http.ResponseWriter, r *http.Request) {
	f, intent, err := parseSearchFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results, err := h.catalog.SearchApps(r.Context(), intent, f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]appPayload, 0, len(results))
	for _, sa := range results {
		p := appResponse(sa.App)
		p.SimilarityScore = sa.Score
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getApp(w http.ResponseWriter, r *http.Request) {
	opts, err := parseLookupOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts.OwnerKeyID = ownerKey(r.Context())

	a, err := h.catalog.GetApp(r.Context(), mux.Vars(r)["name"], opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appResponse(a))
}

func (h *handler) patchApp(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Active     *bool           `json:"active"`
		Visibility *app.Visibility `json:"visibility"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Active == nil && payload.Visibility == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("active or visibility is required"))
		return
	}

	name := mux.Vars(r)["name"]
	if payload.Active != nil {
		if err := h.catalog.SetAppActive(r.Context(), name, *payload.Active); err != nil {
			h.writeServiceError(w, err)
			return
		}
	}
	if payload.Visibility != nil {
		if err := h.catalog.SetAppVisibility(r.Context(), name, *payload.Visibility); err != nil {
			h.writeServiceError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deleteApp(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid app id"))
		return
	}
	owner := ownerKey(r.Context())
	if owner == nil {
		writeError(w, http.StatusForbidden, fmt.Errorf("deletes require a caller key"))
		return
	}

	if err := h.catalog.DeleteApp(r.Context(), id, *owner); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----- functions -----

func (h *handler) upsertFunctions(w http.ResponseWriter, r *http.Request) {
	var specs []function.Upsert
	if err := decodeJSON(r.Body, &specs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(specs) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("at least one function is required"))
		return
	}

	created, err := h.catalog.UpsertFunctions(r.Context(), specs, ownerKey(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]functionPayload, 0, len(created))
	for _, fn := range created {
		out = append(out, functionResponse(fn))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) listFunctions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	f.OwnerKeyID = ownerKey(r.Context())

	fns, err := h.catalog.ListFunctions(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]functionPayload, 0, len(fns))
	for _, fn := range fns {
		out = append(out, functionResponse(fn))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) searchFunctions(w http.ResponseWriter, r *http.Request) {
	f, intent, err := parseSearchFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	results, err := h.catalog.SearchFunctions(r.Context(), intent, f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]functionPayload, 0, len(results))
	for _, sf := range results {
		p := functionResponse(sf.Function)
		p.SimilarityScore = sf.Score
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getFunction(w http.ResponseWriter, r *http.Request) {
	opts, err := parseLookupOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts.OwnerKeyID = ownerKey(r.Context())

	fn, err := h.catalog.GetFunction(r.Context(), mux.Vars(r)["name"], opts)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, functionResponse(fn))
}

func (h *handler) patchFunction(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Active     *bool           `json:"active"`
		Visibility *app.Visibility `json:"visibility"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.Active == nil && payload.Visibility == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("active or visibility is required"))
		return
	}

	name := mux.Vars(r)["name"]
	if payload.Active != nil {
		if err := h.catalog.SetFunctionActive(r.Context(), name, *payload.Active); err != nil {
			h.writeServiceError(w, err)
			return
		}
	}
	if payload.Visibility != nil {
		if err := h.catalog.SetFunctionVisibility(r.Context(), name, *payload.Visibility); err != nil {
			h.writeServiceError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) deleteFunction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid function id"))
		return
	}
	owner := ownerKey(r.Context())
	if owner == nil {
		writeError(w, http.StatusForbidden, fmt.Errorf("deletes require a caller key"))
		return
	}

	if err := h.catalog.DeleteFunction(r.Context(), id, *owner); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ----- configurations -----

func (h *handler) createConfiguration(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProjectID               uuid.UUID          `json:"project_id"`
		AppName                 string             `json:"app_name"`
		SecurityScheme          app.SecurityScheme `json:"security_scheme"`
		SecuritySchemeOverrides map[string]any     `json:"security_scheme_overrides"`
		AllFunctionsEnabled     *bool              `json:"all_functions_enabled"`
		EnabledFunctions        []string           `json:"enabled_functions"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.ProjectID == uuid.Nil || payload.AppName == "" || payload.SecurityScheme == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("project_id, app_name and security_scheme are required"))
		return
	}

	allEnabled := true
	if payload.AllFunctionsEnabled != nil {
		allEnabled = *payload.AllFunctionsEnabled
	}
	cfg, err := h.configs.Create(r.Context(), configurations.CreateRequest{
		ProjectID:               payload.ProjectID,
		AppName:                 payload.AppName,
		SecurityScheme:          payload.SecurityScheme,
		SecuritySchemeOverrides: payload.SecuritySchemeOverrides,
		AllFunctionsEnabled:     allEnabled,
		EnabledFunctions:        payload.EnabledFunctions,
	}, ownerKey(r.Context()))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, configurationResponse(cfg))
}

func (h *handler) listConfigurations(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("project_id is required"))
		return
	}
	limit, offset, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfgs, err := h.configs.List(r.Context(), projectID, limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	out := make([]configurationPayload, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, configurationResponse(cfg))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getConfiguration(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("project_id is required"))
		return
	}

	cfg, err := h.configs.Get(r.Context(), projectID, mux.Vars(r)["app_name"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configurationResponse(cfg))
}

func (h *handler) updateConfiguration(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("project_id is required"))
		return
	}
	var payload struct {
		Enabled             *bool     `json:"enabled"`
		AllFunctionsEnabled *bool     `json:"all_functions_enabled"`
		EnabledFunctions    *[]string `json:"enabled_functions"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cfg, err := h.configs.Update(r.Context(), projectID, mux.Vars(r)["app_name"], configurations.UpdateRequest{
		Enabled:             payload.Enabled,
		AllFunctionsEnabled: payload.AllFunctionsEnabled,
		EnabledFunctions:    payload.EnabledFunctions,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, configurationResponse(cfg))
}

func (h *handler) deleteConfiguration(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("project_id is required"))
		return
	}

	if err := h.configs.Delete(r.Context(), projectID, mux.Vars(r)["app_name"]); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) storeCredential(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("project_id is required"))
		return
	}
	var payload struct {
		SecurityScheme app.SecurityScheme `json:"security_scheme"`
		Credential     json.RawMessage    `json:"credential"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.SecurityScheme == "" || len(payload.Credential) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("security_scheme and credential are required"))
		return
	}

	cred, err := h.configs.StoreCredential(r.Context(), projectID, mux.Vars(r)["app_name"], payload.SecurityScheme, payload.Credential)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              cred.ID,
		"security_scheme": cred.SecurityScheme,
		"created_at":      cred.CreatedAt.Format(time.RFC3339),
	})
}

// ----- shared plumbing -----

// writeServiceError maps service sentinels onto HTTP statuses.
func (h *handler) writeServiceError(w http.ResponseWriter, err error) {
	var provErr *embedding.ProviderError
	switch {
	case errors.Is(err, catalog.ErrAppNotFound),
		errors.Is(err, catalog.ErrFunctionNotFound),
		errors.Is(err, configurations.ErrNotFound),
		errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, catalog.ErrAlreadyExists),
		errors.Is(err, configurations.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, catalog.ErrNotOwned):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, catalog.ErrInvalidFunctionName),
		errors.Is(err, configurations.ErrAppNotFound),
		errors.Is(err, configurations.ErrUnsupportedScheme),
		errors.Is(err, configurations.ErrUnknownFunction):
		writeError(w, http.StatusBadRequest, err)
	case errors.As(err, &provErr):
		writeError(w, http.StatusBadGateway, err)
	default:
		h.log.WithError(err).Error("request failed")
		writeError(w, http.StatusInternalServerError, fmt.Errorf("internal error"))
	}
}

func parseFilter(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	f := storage.Filter{
		PublicOnly: q.Get("public_only") == "true",
		ActiveOnly: q.Get("active_only") == "true",
	}
	if names := q.Get("app_names"); names != "" {
		f.Names = splitCSV(names)
	}
	var err error
	f.Limit, f.Offset, err = parsePage(r)
	return f, err
}

func parseSearchFilter(r *http.Request) (storage.SearchFilter, string, error) {
	q := r.URL.Query()
	f := storage.SearchFilter{
		PublicOnly:        q.Get("public_only") == "true",
		ActiveOnly:        q.Get("active_only") == "true",
		ExcludeOwnerOwned: q.Get("exclude_custom") == "true",
	}
	if names := q.Get("app_names"); names != "" {
		f.AppNames = splitCSV(names)
	}
	if names := q.Get("function_names"); names != "" {
		f.FunctionNames = splitCSV(names)
	}
	if cats := q.Get("categories"); cats != "" {
		f.Categories = splitCSV(cats)
	}
	var err error
	f.Limit, f.Offset, err = parsePage(r)
	return f, strings.TrimSpace(q.Get("intent")), err
}

func parseLookupOpts(r *http.Request) (storage.LookupOpts, error) {
	q := r.URL.Query()
	return storage.LookupOpts{
		PublicOnly: q.Get("public_only") == "true",
		ActiveOnly: q.Get("active_only") == "true",
	}, nil
}

func parsePage(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	limit = 100
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > 1000 {
			return 0, 0, fmt.Errorf("invalid limit %q", raw)
		}
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", raw)
		}
	}
	return limit, offset, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// appPayload is the wire form of an app. Embeddings and sealed default
// credentials never leave the service.
type appPayload struct {
	ID              uuid.UUID                             `json:"id"`
	Name            string                                `json:"name"`
	DisplayName     string                                `json:"display_name"`
	Provider        string                                `json:"provider"`
	Version         string                                `json:"version"`
	Description     string                                `json:"description"`
	Logo            string                                `json:"logo,omitempty"`
	Categories      []string                              `json:"categories"`
	Visibility      app.Visibility                        `json:"visibility"`
	Active          bool                                  `json:"active"`
	SecuritySchemes map[app.SecurityScheme]map[string]any `json:"security_schemes,omitempty"`
	Custom          bool                                  `json:"custom"`
	SimilarityScore *float64                              `json:"similarity_score,omitempty"`
	CreatedAt       time.Time                             `json:"created_at"`
	UpdatedAt       time.Time                             `json:"updated_at"`
}

func appResponse(a app.App) appPayload {
	cats := a.Categories
	if cats == nil {
		cats = []string{}
	}
	return appPayload{
		ID:              a.ID,
		Name:            a.Name,
		DisplayName:     a.DisplayName,
		Provider:        a.Provider,
		Version:         a.Version,
		Description:     a.Description,
		Logo:            a.Logo,
		Categories:      cats,
		Visibility:      a.Visibility,
		Active:          a.Active,
		SecuritySchemes: a.SecuritySchemes,
		Custom:          a.OwnerKeyID != nil,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type functionPayload struct {
	ID              uuid.UUID      `json:"id"`
	AppID           uuid.UUID      `json:"app_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Tags            []string       `json:"tags"`
	Visibility      app.Visibility `json:"visibility"`
	Active          bool           `json:"active"`
	Protocol        string         `json:"protocol"`
	ProtocolData    map[string]any `json:"protocol_data,omitempty"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Response        map[string]any `json:"response,omitempty"`
	Custom          bool           `json:"custom"`
	SimilarityScore *float64       `json:"similarity_score,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

func functionResponse(f function.Function) functionPayload {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	return functionPayload{
		ID:           f.ID,
		AppID:        f.AppID,
		Name:         f.Name,
		Description:  f.Description,
		Tags:         tags,
		Visibility:   f.Visibility,
		Active:       f.Active,
		Protocol:     f.Protocol,
		ProtocolData: f.ProtocolData,
		Parameters:   f.Parameters,
		Response:     f.Response,
		Custom:       f.OwnerKeyID != nil,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

type configurationPayload struct {
	ID                      uuid.UUID          `json:"id"`
	ProjectID               uuid.UUID          `json:"project_id"`
	AppID                   uuid.UUID          `json:"app_id"`
	AppName                 string             `json:"app_name"`
	SecurityScheme          app.SecurityScheme `json:"security_scheme"`
	SecuritySchemeOverrides map[string]any     `json:"security_scheme_overrides,omitempty"`
	AllFunctionsEnabled     bool               `json:"all_functions_enabled"`
	EnabledFunctions        []string           `json:"enabled_functions"`
	Enabled                 bool               `json:"enabled"`
	CreatedAt               time.Time          `json:"created_at"`
	UpdatedAt               time.Time          `json:"updated_at"`
}

func configurationResponse(c configuration.Configuration) configurationPayload {
	fns := c.EnabledFunctions
	if fns == nil {
		fns = []string{}
	}
	return configurationPayload{
		ID:                      c.ID,
		ProjectID:               c.ProjectID,
		AppID:                   c.AppID,
		AppName:                 c.AppName,
		SecurityScheme:          c.SecurityScheme,
		SecuritySchemeOverrides: c.SecuritySchemeOverrides,
		AllFunctionsEnabled:     c.AllFunctionsEnabled,
		EnabledFunctions:        fns,
		Enabled:                 c.Enabled,
		CreatedAt:               c.CreatedAt,
		UpdatedAt:               c.UpdatedAt,
	}
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
