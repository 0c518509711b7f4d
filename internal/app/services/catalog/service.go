// Package catalog orchestrates embedding generation with catalog writes and
// implements the ownership resolution rules for bare-name lookups.
package catalog

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
	"github.com/acilabs/toolcatalog/internal/app/domain/function"
	"github.com/acilabs/toolcatalog/internal/app/embedding"
	"github.com/acilabs/toolcatalog/internal/app/encryption"
	"github.com/acilabs/toolcatalog/internal/app/metrics"
	"github.com/acilabs/toolcatalog/internal/app/storage"
	"github.com/acilabs/toolcatalog/pkg/logger"
)

var (
	// ErrAppNotFound is returned when no app row resolves for a caller.
	ErrAppNotFound = errors.New("app not found")
	// ErrFunctionNotFound is returned when no function row resolves.
	ErrFunctionNotFound = errors.New("function not found")
	// ErrAlreadyExists is returned when a create races another writer on
	// the same (name, owner) pair.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrNotOwned is returned when a delete is attempted by a caller that
	// does not own the record.
	ErrNotOwned = errors.New("record not owned by caller")
	// ErrInvalidFunctionName is returned when a function name lacks the
	// app prefix.
	ErrInvalidFunctionName = errors.New("invalid function name")
)

// Service composes the embedding provider, the credential cipher and the
// catalog stores.
type Service struct {
	apps           storage.AppStore
	functions      storage.FunctionStore
	configurations storage.ConfigurationStore
	tx             storage.Transactor
	embedder       embedding.Provider
	cipher         encryption.Cipher
	platformKeyID  *uuid.UUID
	log            *logger.Logger
}

// Options configure a catalog Service.
type Options struct {
	Apps           storage.AppStore
	Functions      storage.FunctionStore
	Configurations storage.ConfigurationStore
	Transactor     storage.Transactor
	Embedder       embedding.Provider
	// Cipher seals default security credentials before they reach the
	// store. Nil selects the passthrough cipher; production wiring always
	// supplies AES-GCM.
	Cipher encryption.Cipher
	// PlatformKeyID is the distinguished fallback owner for bare-name
	// resolution. Nil means system (unowned) rows are the fallback tier.
	PlatformKeyID *uuid.UUID
	Logger        *logger.Logger
}

// New constructs a catalog service.
func New(opts Options) (*Service, error) {
	if opts.Apps == nil || opts.Functions == nil || opts.Configurations == nil {
		return nil, errors.New("catalog stores are required")
	}
	if opts.Transactor == nil {
		return nil, errors.New("transactor is required")
	}
	if opts.Embedder == nil {
		return nil, errors.New("embedding provider is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("catalog")
	}
	cipher := opts.Cipher
	if cipher == nil {
		cipher = encryption.Noop{}
		log.Warn("no credential cipher configured; storing credentials unsealed")
	}
	return &Service{
		apps:           opts.Apps,
		functions:      opts.Functions,
		configurations: opts.Configurations,
		tx:             opts.Transactor,
		embedder:       opts.Embedder,
		cipher:         cipher,
		platformKeyID:  opts.PlatformKeyID,
		log:            log,
	}, nil
}

// UpsertApp creates or partially updates the app owned by the caller. The
// embedding is recomputed only when an embedding-relevant field changed, and
// always before any write is issued so no transaction waits on the provider.
func (s *Service) UpsertApp(ctx context.Context, spec app.Upsert, ownerKeyID *uuid.UUID) (app.App, error) {
	if spec.Name == "" {
		return app.App{}, fmt.Errorf("app name is required")
	}
	if spec.Visibility != nil && !spec.Visibility.Valid() {
		return app.App{}, fmt.Errorf("invalid visibility %q", *spec.Visibility)
	}

	matches, err := s.apps.GetAppMatches(ctx, spec.Name, storage.LookupOpts{})
	if err != nil {
		return app.App{}, err
	}
	var existing *app.App
	for i := range matches {
		if sameOwner(matches[i].OwnerKeyID, ownerKeyID) {
			existing = &matches[i]
			break
		}
	}

	if existing == nil {
		return s.createApp(ctx, spec, ownerKeyID)
	}
	return s.updateApp(ctx, *existing, spec)
}

func (s *Service) createApp(ctx context.Context, spec app.Upsert, ownerKeyID *uuid.UUID) (app.App, error) {
	a := app.App{
		Name:       spec.Name,
		Active:     true,
		Visibility: defaultVisibility(ownerKeyID),
		OwnerKeyID: ownerKeyID,
	}
	applyAppSpec(&a, spec)
	if len(spec.DefaultSecurityCredentialsByScheme) > 0 {
		sealed, err := s.sealCredentials(nil, spec.DefaultSecurityCredentialsByScheme)
		if err != nil {
			return app.App{}, err
		}
		a.DefaultSecurityCredentialsByScheme = sealed
	}

	vec, err := s.embed(ctx, app.EmbeddingFieldsOf(a).Text())
	if err != nil {
		return app.App{}, err
	}
	a.Embedding = vec

	created, err := s.apps.CreateApp(ctx, a)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return app.App{}, fmt.Errorf("app %s: %w", a.Name, ErrAlreadyExists)
		}
		return app.App{}, err
	}
	metrics.RecordUpsert("apps", "created")
	s.log.Infof("app %s created", created.Name)
	return created, nil
}

func (s *Service) updateApp(ctx context.Context, existing app.App, spec app.Upsert) (app.App, error) {
	before := app.EmbeddingFieldsOf(existing)
	updated := existing
	applyAppSpec(&updated, spec)
	if len(spec.DefaultSecurityCredentialsByScheme) > 0 {
		sealed, err := s.sealCredentials(existing.DefaultSecurityCredentialsByScheme, spec.DefaultSecurityCredentialsByScheme)
		if err != nil {
			return app.App{}, err
		}
		updated.DefaultSecurityCredentialsByScheme = sealed
	}

	outcome := "unchanged"
	if !before.Equal(app.EmbeddingFieldsOf(updated)) {
		vec, err := s.embed(ctx, app.EmbeddingFieldsOf(updated).Text())
		if err != nil {
			return app.App{}, err
		}
		updated.Embedding = vec
		outcome = "updated"
	}

	persisted, err := s.apps.UpdateApp(ctx, updated)
	if err != nil {
		return app.App{}, err
	}
	metrics.RecordUpsert("apps", outcome)
	return persisted, nil
}

// functionPlan is one member of an UpsertFunctions batch, prepared before
// the write transaction opens.
type functionPlan struct {
	create bool
	fn     function.Function
	embed  bool
}

// UpsertFunctions creates or updates a batch of functions in one
// transaction. Every function's app is resolved through the ownership
// fallback up front; any miss fails the whole call with nothing written.
func (s *Service) UpsertFunctions(ctx context.Context, specs []function.Upsert, ownerKeyID *uuid.UUID) ([]function.Function, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	appsByName := map[string]*app.App{}
	plans := make([]functionPlan, 0, len(specs))
	for _, spec := range specs {
		appName, err := function.ParseAppName(spec.Name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFunctionName, err)
		}
		if spec.Visibility != nil && !spec.Visibility.Valid() {
			return nil, fmt.Errorf("invalid visibility %q", *spec.Visibility)
		}

		parent, ok := appsByName[appName]
		if !ok {
			parent, err = s.apps.GetApp(ctx, appName, storage.LookupOpts{OwnerKeyID: ownerKeyID})
			if err != nil {
				return nil, err
			}
			appsByName[appName] = parent
		}
		if parent == nil {
			return nil, fmt.Errorf("app %s for function %s: %w", appName, spec.Name, ErrAppNotFound)
		}

		matches, err := s.functions.GetFunctionMatches(ctx, spec.Name, storage.LookupOpts{})
		if err != nil {
			return nil, err
		}
		var existing *function.Function
		for i := range matches {
			if sameOwner(matches[i].OwnerKeyID, ownerKeyID) {
				existing = &matches[i]
				break
			}
		}

		if existing == nil {
			fn := function.Function{
				AppID:      parent.ID,
				Name:       spec.Name,
				Active:     true,
				Visibility: defaultVisibility(ownerKeyID),
				OwnerKeyID: ownerKeyID,
			}
			applyFunctionSpec(&fn, spec)
			plans = append(plans, functionPlan{create: true, fn: fn, embed: true})
			continue
		}

		before := function.EmbeddingFieldsOf(*existing)
		updated := *existing
		applyFunctionSpec(&updated, spec)
		plans = append(plans, functionPlan{
			fn:    updated,
			embed: !before.Equal(function.EmbeddingFieldsOf(updated)),
		})
	}

	// Embeddings are computed before the transaction opens so the provider's
	// latency never extends lock duration.
	var texts []string
	var textIdx []int
	for i := range plans {
		if plans[i].embed {
			texts = append(texts, function.EmbeddingFieldsOf(plans[i].fn).Text())
			textIdx = append(textIdx, i)
		}
	}
	if len(texts) > 0 {
		start := time.Now()
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			metrics.RecordEmbedding("error", time.Since(start))
			return nil, err
		}
		metrics.RecordEmbedding("ok", time.Since(start))
		for j, i := range textIdx {
			plans[i].fn.Embedding = vectors[j]
		}
	}

	results := make([]function.Function, len(plans))
	err := s.tx.InTransaction(ctx, func(tx storage.Tx) error {
		var creates []function.Function
		var createIdx []int
		for i := range plans {
			if plans[i].create {
				creates = append(creates, plans[i].fn)
				createIdx = append(createIdx, i)
				continue
			}
			persisted, err := tx.Functions.UpdateFunction(ctx, plans[i].fn)
			if err != nil {
				return err
			}
			results[i] = persisted
		}
		if len(creates) > 0 {
			created, err := tx.Functions.CreateFunctions(ctx, creates)
			if err != nil {
				return err
			}
			for j, i := range createIdx {
				results[i] = created[j]
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("%v: %w", err, ErrAlreadyExists)
		}
		return nil, err
	}

	for i := range plans {
		outcome := "updated"
		if plans[i].create {
			outcome = "created"
		} else if !plans[i].embed {
			outcome = "unchanged"
		}
		metrics.RecordUpsert("functions", outcome)
	}
	s.log.Infof("upserted %d functions", len(results))
	return results, nil
}

// SearchApps ranks apps by similarity to the intent text, or lists them in
// stable name order when no intent is given.
func (s *Service) SearchApps(ctx context.Context, intent string, f storage.SearchFilter) ([]storage.ScoredApp, error) {
	var vec []float32
	if intent != "" {
		var err error
		vec, err = s.embed(ctx, intent)
		if err != nil {
			return nil, err
		}
	}
	metrics.RecordSearch("apps", vec != nil)
	return s.apps.SearchApps(ctx, f, vec)
}

// SearchFunctions mirrors SearchApps with the function store's app-join
// semantics.
func (s *Service) SearchFunctions(ctx context.Context, intent string, f storage.SearchFilter) ([]storage.ScoredFunction, error) {
	var vec []float32
	if intent != "" {
		var err error
		vec, err = s.embed(ctx, intent)
		if err != nil {
			return nil, err
		}
	}
	metrics.RecordSearch("functions", vec != nil)
	return s.functions.SearchFunctions(ctx, f, vec)
}

// ListApps returns a filtered page of apps.
func (s *Service) ListApps(ctx context.Context, f storage.Filter) ([]app.App, error) {
	return s.apps.GetApps(ctx, f)
}

// ListFunctions returns a filtered page of functions.
func (s *Service) ListFunctions(ctx context.Context, f storage.Filter) ([]function.Function, error) {
	return s.functions.GetFunctions(ctx, f)
}

// GetApp resolves a bare name for a caller via the three-tier fallback.
func (s *Service) GetApp(ctx context.Context, name string, opts storage.LookupOpts) (app.App, error) {
	matches, err := s.apps.GetAppMatches(ctx, name, storage.LookupOpts{
		PublicOnly: opts.PublicOnly,
		ActiveOnly: opts.ActiveOnly,
	})
	if err != nil {
		return app.App{}, err
	}
	resolved := ResolveApp(matches, opts.OwnerKeyID, s.platformKeyID)
	if resolved == nil {
		return app.App{}, fmt.Errorf("app %s: %w", name, ErrAppNotFound)
	}
	return *resolved, nil
}

// GetFunction resolves a bare function name for a caller.
func (s *Service) GetFunction(ctx context.Context, name string, opts storage.LookupOpts) (function.Function, error) {
	matches, err := s.functions.GetFunctionMatches(ctx, name, storage.LookupOpts{
		PublicOnly: opts.PublicOnly,
		ActiveOnly: opts.ActiveOnly,
	})
	if err != nil {
		return function.Function{}, err
	}
	resolved := ResolveFunction(matches, opts.OwnerKeyID, s.platformKeyID)
	if resolved == nil {
		return function.Function{}, fmt.Errorf("function %s: %w", name, ErrFunctionNotFound)
	}
	return *resolved, nil
}

// DeleteApp removes an owned app and everything hanging off it, in order:
// per-project configurations, linked credentials, functions, then the app
// row. A caller that does not own the app changes nothing.
func (s *Service) DeleteApp(ctx context.Context, id uuid.UUID, ownerKeyID uuid.UUID) error {
	a, err := s.apps.GetAppByID(ctx, id)
	if err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("app %s: %w", id, ErrAppNotFound)
	}
	if a.OwnerKeyID == nil || *a.OwnerKeyID != ownerKeyID {
		return fmt.Errorf("app %s: %w", a.Name, ErrNotOwned)
	}

	err = s.tx.InTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.Configurations.DeleteConfigurationsByAppID(ctx, id); err != nil {
			return err
		}
		if _, err := tx.Configurations.DeleteCredentialsByAppID(ctx, id); err != nil {
			return err
		}
		if _, err := tx.Functions.DeleteFunctionsByAppID(ctx, id, nil); err != nil {
			return err
		}
		deleted, err := tx.Apps.DeleteAppByID(ctx, id, ownerKeyID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("app %s: %w", a.Name, ErrNotOwned)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Infof("app %s deleted", a.Name)
	return nil
}

// DeleteFunction removes one owned function.
func (s *Service) DeleteFunction(ctx context.Context, id uuid.UUID, ownerKeyID uuid.UUID) error {
	fn, err := s.functions.GetFunctionByID(ctx, id)
	if err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("function %s: %w", id, ErrFunctionNotFound)
	}
	if fn.OwnerKeyID == nil || *fn.OwnerKeyID != ownerKeyID {
		return fmt.Errorf("function %s: %w", fn.Name, ErrNotOwned)
	}
	deleted, err := s.functions.DeleteFunctionByID(ctx, id, ownerKeyID)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("function %s: %w", fn.Name, ErrNotOwned)
	}
	return nil
}

// SetAppActive toggles the soft-disable flag on every row sharing the name.
func (s *Service) SetAppActive(ctx context.Context, name string, active bool) error {
	err := s.apps.SetAppActiveStatus(ctx, name, active)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("app %s: %w", name, ErrAppNotFound)
	}
	return err
}

// SetAppVisibility changes discovery scope for every row sharing the name.
func (s *Service) SetAppVisibility(ctx context.Context, name string, visibility app.Visibility) error {
	if !visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", visibility)
	}
	err := s.apps.SetAppVisibility(ctx, name, visibility)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("app %s: %w", name, ErrAppNotFound)
	}
	return err
}

// SetFunctionActive toggles the soft-disable flag on a function name.
func (s *Service) SetFunctionActive(ctx context.Context, name string, active bool) error {
	err := s.functions.SetFunctionActiveStatus(ctx, name, active)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("function %s: %w", name, ErrFunctionNotFound)
	}
	return err
}

// SetFunctionVisibility changes discovery scope for a function name.
func (s *Service) SetFunctionVisibility(ctx context.Context, name string, visibility app.Visibility) error {
	if !visibility.Valid() {
		return fmt.Errorf("invalid visibility %q", visibility)
	}
	err := s.functions.SetFunctionVisibility(ctx, name, visibility)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("function %s: %w", name, ErrFunctionNotFound)
	}
	return err
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		metrics.RecordEmbedding("error", time.Since(start))
		return nil, err
	}
	metrics.RecordEmbedding("ok", time.Since(start))
	return vec, nil
}

// sealCredentials merges newly supplied plaintext credentials over a copy of
// the stored sealed map. The store never sees plaintext.
func (s *Service) sealCredentials(stored map[app.SecurityScheme]string, supplied map[app.SecurityScheme]string) (map[app.SecurityScheme]string, error) {
	sealed := make(map[app.SecurityScheme]string, len(stored)+len(supplied))
	for scheme, v := range stored {
		sealed[scheme] = v
	}
	for scheme, plaintext := range supplied {
		blob, err := s.cipher.Encrypt([]byte(plaintext))
		if err != nil {
			return nil, fmt.Errorf("seal credential for scheme %s: %w", scheme, err)
		}
		sealed[scheme] = base64.StdEncoding.EncodeToString(blob)
	}
	return sealed, nil
}

// defaultVisibility makes platform records discoverable and tenant records
// private unless the caller sets visibility explicitly.
func defaultVisibility(ownerKeyID *uuid.UUID) app.Visibility {
	if ownerKeyID == nil {
		return app.VisibilityPublic
	}
	return app.VisibilityPrivate
}

// applyAppSpec merges only the fields the caller supplied. Slices and maps
// are copied so stored state is never aliased by request payloads.
func applyAppSpec(a *app.App, spec app.Upsert) {
	if spec.DisplayName != nil {
		a.DisplayName = *spec.DisplayName
	}
	if spec.Provider != nil {
		a.Provider = *spec.Provider
	}
	if spec.Version != nil {
		a.Version = *spec.Version
	}
	if spec.Description != nil {
		a.Description = *spec.Description
	}
	if spec.Logo != nil {
		a.Logo = *spec.Logo
	}
	if spec.Categories != nil {
		a.Categories = append([]string(nil), (*spec.Categories)...)
	}
	if spec.Visibility != nil {
		a.Visibility = *spec.Visibility
	}
	if spec.Active != nil {
		a.Active = *spec.Active
	}
	if spec.SecuritySchemes != nil {
		schemes := make(map[app.SecurityScheme]map[string]any, len(spec.SecuritySchemes))
		for scheme, cfg := range spec.SecuritySchemes {
			clone := make(map[string]any, len(cfg))
			for k, v := range cfg {
				clone[k] = v
			}
			schemes[scheme] = clone
		}
		a.SecuritySchemes = schemes
	}
}

func applyFunctionSpec(fn *function.Function, spec function.Upsert) {
	if spec.Description != nil {
		fn.Description = *spec.Description
	}
	if spec.Tags != nil {
		fn.Tags = append([]string(nil), (*spec.Tags)...)
	}
	if spec.Visibility != nil {
		fn.Visibility = *spec.Visibility
	}
	if spec.Active != nil {
		fn.Active = *spec.Active
	}
	if spec.Protocol != nil {
		fn.Protocol = *spec.Protocol
	}
	if spec.ProtocolData != nil {
		fn.ProtocolData = cloneMap(*spec.ProtocolData)
	}
	if spec.Parameters != nil {
		fn.Parameters = cloneMap(*spec.Parameters)
	}
	if spec.Response != nil {
		fn.Response = cloneMap(*spec.Response)
	}
}

func cloneMap(m map[string]any) map[string]any {
	clone := make(map[string]any, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}
