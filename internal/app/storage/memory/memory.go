// Package memory provides an in-process implementation of the storage
// interfaces. It mirrors the postgres semantics closely enough to back the
// service tests and local development without a database: stable creation
// order, the three-tier ownership fallback and brute-force cosine ranking.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
	"github.com/acilabs/toolcatalog/internal/app/domain/configuration"
	"github.com/acilabs/toolcatalog/internal/app/domain/function"
	"github.com/acilabs/toolcatalog/internal/app/storage"
)

// Store keeps everything in slices so iteration order is creation order,
// matching the (created_at, id) ordering the SQL store relies on.
type Store struct {
	mu sync.RWMutex

	platformKeyID *uuid.UUID

	apps           []app.App
	functions      []function.Function
	configurations []configuration.Configuration
	credentials    []configuration.Credential
}

var _ storage.AppStore = (*Store)(nil)
var _ storage.FunctionStore = (*Store)(nil)
var _ storage.ConfigurationStore = (*Store)(nil)
var _ storage.Transactor = (*Store)(nil)

func New(platformKeyID *uuid.UUID) *Store {
	return &Store{platformKeyID: platformKeyID}
}

// InTransaction satisfies storage.Transactor. The memory store has no real
// transactions; callers validate batches up front so a failing member never
// reaches the write phase.
func (s *Store) InTransaction(_ context.Context, fn func(tx storage.Tx) error) error {
	return fn(storage.Tx{Apps: s, Functions: s, Configurations: s})
}

// -- apps --

func (s *Store) CreateApp(_ context.Context, a app.App) (app.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.apps {
		if s.apps[i].Name == a.Name && ownerEqual(s.apps[i].OwnerKeyID, a.OwnerKeyID) {
			return app.App{}, fmt.Errorf("app %s: %w", a.Name, storage.ErrDuplicate)
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.apps = append(s.apps, a)
	return a, nil
}

func (s *Store) UpdateApp(_ context.Context, a app.App) (app.App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.apps {
		if s.apps[i].ID == a.ID {
			a.CreatedAt = s.apps[i].CreatedAt
			a.UpdatedAt = time.Now().UTC()
			s.apps[i] = a
			return a, nil
		}
	}
	return app.App{}, sql.ErrNoRows
}

func (s *Store) GetApp(_ context.Context, name string, opts storage.LookupOpts) (*app.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := s.appMatches(name, opts)
	return resolveApp(matches, opts.OwnerKeyID, s.platformKeyID), nil
}

func (s *Store) GetAppByID(_ context.Context, id uuid.UUID) (*app.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.apps {
		if s.apps[i].ID == id {
			a := s.apps[i]
			return &a, nil
		}
	}
	return nil, nil
}

func (s *Store) GetAppMatches(_ context.Context, name string, opts storage.LookupOpts) ([]app.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.appMatches(name, opts), nil
}

func (s *Store) appMatches(name string, opts storage.LookupOpts) []app.App {
	var matches []app.App
	for i := range s.apps {
		a := s.apps[i]
		if a.Name != name {
			continue
		}
		if opts.ActiveOnly && !a.Active {
			continue
		}
		if opts.PublicOnly && a.Visibility != app.VisibilityPublic {
			continue
		}
		matches = append(matches, a)
	}
	return matches
}

func (s *Store) GetApps(_ context.Context, f storage.Filter) ([]app.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []app.App
	for i := range s.apps {
		a := s.apps[i]
		if f.PublicOnly && a.Visibility != app.VisibilityPublic {
			continue
		}
		if f.ActiveOnly && !a.Active {
			continue
		}
		if f.Names != nil && !contains(f.Names, a.Name) {
			continue
		}
		if f.OwnerKeyID != nil && !inOwnerScope(a.OwnerKeyID, f.OwnerKeyID, s.platformKeyID) {
			continue
		}
		result = append(result, a)
	}
	return page(result, f.Limit, f.Offset), nil
}

func (s *Store) GetAppsByOwner(_ context.Context, ownerKeyID uuid.UUID) ([]app.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []app.App
	for i := range s.apps {
		if s.apps[i].OwnerKeyID != nil && *s.apps[i].OwnerKeyID == ownerKeyID {
			result = append(result, s.apps[i])
		}
	}
	return result, nil
}

func (s *Store) SearchApps(_ context.Context, f storage.SearchFilter, intent []float32) ([]storage.ScoredApp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []storage.ScoredApp
	for i := range s.apps {
		a := s.apps[i]
		if f.ActiveOnly && !a.Active {
			continue
		}
		if f.PublicOnly && a.Visibility != app.VisibilityPublic {
			continue
		}
		if f.AppNames != nil && !contains(f.AppNames, a.Name) {
			continue
		}
		if f.Categories != nil && !overlaps(a.Categories, f.Categories) {
			continue
		}
		sa := storage.ScoredApp{App: a}
		if intent != nil {
			d := cosineDistance(a.Embedding, intent)
			sa.Score = &d
		}
		result = append(result, sa)
	}
	if intent != nil {
		sort.SliceStable(result, func(i, j int) bool {
			return *result[i].Score < *result[j].Score
		})
	} else {
		sort.SliceStable(result, func(i, j int) bool {
			return result[i].App.Name < result[j].App.Name
		})
	}
	return page(result, f.Limit, f.Offset), nil
}

func (s *Store) DeleteAppByID(_ context.Context, id uuid.UUID, ownerKeyID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.apps {
		a := s.apps[i]
		if a.ID == id && a.OwnerKeyID != nil && *a.OwnerKeyID == ownerKeyID {
			s.apps = append(s.apps[:i], s.apps[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) SetAppActiveStatus(_ context.Context, name string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.apps {
		if s.apps[i].Name == name {
			s.apps[i].Active = active
			s.apps[i].UpdatedAt = time.Now().UTC()
			found = true
		}
	}
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) SetAppVisibility(_ context.Context, name string, visibility app.Visibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.apps {
		if s.apps[i].Name == name {
			s.apps[i].Visibility = visibility
			s.apps[i].UpdatedAt = time.Now().UTC()
			found = true
		}
	}
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

// -- functions --

func (s *Store) CreateFunctions(_ context.Context, fns []function.Function) ([]function.Function, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(fns))
	for _, fn := range fns {
		for i := range s.functions {
			if s.functions[i].Name == fn.Name && ownerEqual(s.functions[i].OwnerKeyID, fn.OwnerKeyID) {
				return nil, fmt.Errorf("function %s: %w", fn.Name, storage.ErrDuplicate)
			}
		}
		key := fn.Name
		if fn.OwnerKeyID != nil {
			key += "/" + fn.OwnerKeyID.String()
		}
		if seen[key] {
			return nil, fmt.Errorf("function %s: %w", fn.Name, storage.ErrDuplicate)
		}
		seen[key] = true
	}
	now := time.Now().UTC()
	created := make([]function.Function, 0, len(fns))
	for _, fn := range fns {
		if fn.ID == uuid.Nil {
			fn.ID = uuid.New()
		}
		fn.CreatedAt = now
		fn.UpdatedAt = now
		s.functions = append(s.functions, fn)
		created = append(created, fn)
	}
	return created, nil
}

func (s *Store) UpdateFunction(_ context.Context, fn function.Function) (function.Function, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.functions {
		if s.functions[i].ID == fn.ID {
			fn.CreatedAt = s.functions[i].CreatedAt
			fn.UpdatedAt = time.Now().UTC()
			s.functions[i] = fn
			return fn, nil
		}
	}
	return function.Function{}, sql.ErrNoRows
}

func (s *Store) GetFunction(_ context.Context, name string, opts storage.LookupOpts) (*function.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := s.functionMatches(name, opts)
	if len(matches) == 0 {
		return nil, nil
	}
	if opts.OwnerKeyID != nil {
		for i := range matches {
			if matches[i].OwnerKeyID != nil && *matches[i].OwnerKeyID == *opts.OwnerKeyID {
				return &matches[i], nil
			}
		}
	}
	for i := range matches {
		if ownerEqual(matches[i].OwnerKeyID, s.platformKeyID) {
			return &matches[i], nil
		}
	}
	return &matches[0], nil
}

func (s *Store) GetFunctionByID(_ context.Context, id uuid.UUID) (*function.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.functions {
		if s.functions[i].ID == id {
			fn := s.functions[i]
			return &fn, nil
		}
	}
	return nil, nil
}

func (s *Store) GetFunctionMatches(_ context.Context, name string, opts storage.LookupOpts) ([]function.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.functionMatches(name, opts), nil
}

// functionMatches applies activation and visibility through the parent app,
// the same way the SQL store joins apps.
func (s *Store) functionMatches(name string, opts storage.LookupOpts) []function.Function {
	var matches []function.Function
	for i := range s.functions {
		fn := s.functions[i]
		if fn.Name != name {
			continue
		}
		if !s.functionVisible(fn, opts.ActiveOnly, opts.PublicOnly) {
			continue
		}
		matches = append(matches, fn)
	}
	return matches
}

func (s *Store) functionVisible(fn function.Function, activeOnly, publicOnly bool) bool {
	if !activeOnly && !publicOnly {
		return true
	}
	parent := s.appByIDLocked(fn.AppID)
	if parent == nil {
		return false
	}
	if activeOnly && (!parent.Active || !fn.Active) {
		return false
	}
	if publicOnly && (parent.Visibility != app.VisibilityPublic || fn.Visibility != app.VisibilityPublic) {
		return false
	}
	return true
}

func (s *Store) appByIDLocked(id uuid.UUID) *app.App {
	for i := range s.apps {
		if s.apps[i].ID == id {
			return &s.apps[i]
		}
	}
	return nil
}

func (s *Store) GetFunctions(_ context.Context, f storage.Filter) ([]function.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []function.Function
	for i := range s.functions {
		fn := s.functions[i]
		parent := s.appByIDLocked(fn.AppID)
		if parent == nil {
			continue
		}
		if f.Names != nil && !contains(f.Names, parent.Name) {
			continue
		}
		if !s.functionVisible(fn, f.ActiveOnly, f.PublicOnly) {
			continue
		}
		if f.OwnerKeyID != nil && !inOwnerScope(fn.OwnerKeyID, f.OwnerKeyID, s.platformKeyID) {
			continue
		}
		result = append(result, fn)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return page(result, f.Limit, f.Offset), nil
}

func (s *Store) GetFunctionsByAppID(_ context.Context, appID uuid.UUID) ([]function.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []function.Function
	for i := range s.functions {
		if s.functions[i].AppID == appID {
			result = append(result, s.functions[i])
		}
	}
	return result, nil
}

func (s *Store) GetFunctionsByNames(_ context.Context, names []string, opts storage.LookupOpts) ([]function.Function, error) {
	if len(names) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []function.Function
	for i := range s.functions {
		fn := s.functions[i]
		if !contains(names, fn.Name) {
			continue
		}
		if !s.functionVisible(fn, opts.ActiveOnly, opts.PublicOnly) {
			continue
		}
		result = append(result, fn)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) GetFunctionsByOwner(_ context.Context, ownerKeyID uuid.UUID) ([]function.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []function.Function
	for i := range s.functions {
		if s.functions[i].OwnerKeyID != nil && *s.functions[i].OwnerKeyID == ownerKeyID {
			result = append(result, s.functions[i])
		}
	}
	return result, nil
}

func (s *Store) SearchFunctions(_ context.Context, f storage.SearchFilter, intent []float32) ([]storage.ScoredFunction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []storage.ScoredFunction
	for i := range s.functions {
		fn := s.functions[i]
		parent := s.appByIDLocked(fn.AppID)
		if parent == nil {
			continue
		}
		if !s.functionVisible(fn, f.ActiveOnly, f.PublicOnly) {
			continue
		}
		if f.FunctionNames != nil && !contains(f.FunctionNames, fn.Name) {
			continue
		}
		if f.AppNames != nil && !contains(f.AppNames, parent.Name) {
			continue
		}
		if f.ExcludeOwnerOwned && fn.OwnerKeyID != nil {
			continue
		}
		sf := storage.ScoredFunction{Function: fn}
		if intent != nil {
			d := cosineDistance(fn.Embedding, intent)
			sf.Score = &d
		}
		result = append(result, sf)
	}
	if intent != nil {
		sort.SliceStable(result, func(i, j int) bool {
			return *result[i].Score < *result[j].Score
		})
	} else {
		sort.SliceStable(result, func(i, j int) bool {
			return result[i].Function.Name < result[j].Function.Name
		})
	}
	return page(result, f.Limit, f.Offset), nil
}

func (s *Store) DeleteFunctionByID(_ context.Context, id uuid.UUID, ownerKeyID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.functions {
		fn := s.functions[i]
		if fn.ID == id && fn.OwnerKeyID != nil && *fn.OwnerKeyID == ownerKeyID {
			s.functions = append(s.functions[:i], s.functions[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteFunctionsByAppID(_ context.Context, appID uuid.UUID, ownerKeyID *uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.functions[:0]
	deleted := 0
	for i := range s.functions {
		fn := s.functions[i]
		if fn.AppID == appID && (ownerKeyID == nil || (fn.OwnerKeyID != nil && *fn.OwnerKeyID == *ownerKeyID)) {
			deleted++
			continue
		}
		kept = append(kept, fn)
	}
	s.functions = kept
	return deleted, nil
}

func (s *Store) SetFunctionActiveStatus(_ context.Context, name string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.functions {
		if s.functions[i].Name == name {
			s.functions[i].Active = active
			s.functions[i].UpdatedAt = time.Now().UTC()
			found = true
		}
	}
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) SetFunctionVisibility(_ context.Context, name string, visibility app.Visibility) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.functions {
		if s.functions[i].Name == name {
			s.functions[i].Visibility = visibility
			s.functions[i].UpdatedAt = time.Now().UTC()
			found = true
		}
	}
	if !found {
		return sql.ErrNoRows
	}
	return nil
}

// -- configurations --

func (s *Store) CreateConfiguration(_ context.Context, cfg configuration.Configuration) (configuration.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.configurations {
		c := s.configurations[i]
		if c.ProjectID == cfg.ProjectID && c.AppName == cfg.AppName {
			return configuration.Configuration{}, fmt.Errorf("configuration for app %s: %w", cfg.AppName, storage.ErrDuplicate)
		}
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	s.configurations = append(s.configurations, cfg)
	return cfg, nil
}

func (s *Store) GetConfiguration(_ context.Context, projectID uuid.UUID, appName string) (*configuration.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.configurations {
		c := s.configurations[i]
		if c.ProjectID == projectID && c.AppName == appName {
			return &c, nil
		}
	}
	return nil, nil
}

func (s *Store) ConfigurationExists(ctx context.Context, projectID uuid.UUID, appName string) (bool, error) {
	cfg, err := s.GetConfiguration(ctx, projectID, appName)
	return cfg != nil, err
}

func (s *Store) ListConfigurations(_ context.Context, projectID uuid.UUID, limit, offset int) ([]configuration.Configuration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []configuration.Configuration
	for i := range s.configurations {
		if s.configurations[i].ProjectID == projectID {
			result = append(result, s.configurations[i])
		}
	}
	return page(result, limit, offset), nil
}

func (s *Store) UpdateConfiguration(_ context.Context, cfg configuration.Configuration) (configuration.Configuration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.configurations {
		if s.configurations[i].ID == cfg.ID {
			cfg.CreatedAt = s.configurations[i].CreatedAt
			cfg.UpdatedAt = time.Now().UTC()
			s.configurations[i] = cfg
			return cfg, nil
		}
	}
	return configuration.Configuration{}, sql.ErrNoRows
}

func (s *Store) DeleteConfiguration(_ context.Context, projectID uuid.UUID, appName string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.configurations {
		c := s.configurations[i]
		if c.ProjectID == projectID && c.AppName == appName {
			s.configurations = append(s.configurations[:i], s.configurations[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteConfigurationsByAppID(_ context.Context, appID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.configurations[:0]
	deleted := 0
	for i := range s.configurations {
		if s.configurations[i].AppID == appID {
			deleted++
			continue
		}
		kept = append(kept, s.configurations[i])
	}
	s.configurations = kept
	return deleted, nil
}

func (s *Store) CreateCredential(_ context.Context, cred configuration.Credential) (configuration.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now
	s.credentials = append(s.credentials, cred)
	return cred, nil
}

func (s *Store) ListCredentialsByConfiguration(_ context.Context, configurationID uuid.UUID) ([]configuration.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []configuration.Credential
	for i := range s.credentials {
		if s.credentials[i].ConfigurationID == configurationID {
			result = append(result, s.credentials[i])
		}
	}
	return result, nil
}

func (s *Store) DeleteCredentialsByAppID(_ context.Context, appID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.credentials[:0]
	deleted := 0
	for i := range s.credentials {
		if s.credentials[i].AppID == appID {
			deleted++
			continue
		}
		kept = append(kept, s.credentials[i])
	}
	s.credentials = kept
	return deleted, nil
}

// -- helpers --

// resolveApp picks the caller's own row first, then the platform fallback
// row, then the first remaining match.
func resolveApp(matches []app.App, caller, platform *uuid.UUID) *app.App {
	if len(matches) == 0 {
		return nil
	}
	if caller != nil {
		for i := range matches {
			if matches[i].OwnerKeyID != nil && *matches[i].OwnerKeyID == *caller {
				return &matches[i]
			}
		}
	}
	for i := range matches {
		if ownerEqual(matches[i].OwnerKeyID, platform) {
			return &matches[i]
		}
	}
	return &matches[0]
}

func ownerEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// inOwnerScope reports whether a row owner is visible to a caller scope:
// the caller's own rows, the platform fallback owner's rows and system
// (unowned) rows.
func inOwnerScope(owner, caller, platform *uuid.UUID) bool {
	if owner == nil {
		return true
	}
	if caller != nil && *owner == *caller {
		return true
	}
	return platform != nil && *owner == *platform
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// cosineDistance matches pgvector's <=> operator: 1 - cosine similarity.
func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
