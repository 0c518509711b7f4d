// Package storage declares the persistence contracts for the catalog. The
// postgres package implements them against the real schema; the memory
// package provides an equivalent in-process implementation for tests and
// local development.
package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
	"github.com/acilabs/toolcatalog/internal/app/domain/configuration"
	"github.com/acilabs/toolcatalog/internal/app/domain/function"
)

// ErrDuplicate is returned when an insert trips a uniqueness constraint.
// The service layer translates it into an "already exists" outcome.
var ErrDuplicate = errors.New("duplicate record")

// Tx bundles the stores bound to a single transaction.
type Tx struct {
	Apps           AppStore
	Functions      FunctionStore
	Configurations ConfigurationStore
}

// Transactor runs fn against transaction-bound stores. If fn returns an
// error nothing is committed.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(tx Tx) error) error
}

// LookupOpts qualify a single-record lookup by name.
type LookupOpts struct {
	PublicOnly bool
	ActiveOnly bool
	// OwnerKeyID, when set, restricts matches to rows owned by this key or
	// by the platform fallback key, with the caller's own row sorting first.
	OwnerKeyID *uuid.UUID
}

// Filter qualifies a list query.
type Filter struct {
	PublicOnly bool
	ActiveOnly bool
	Names      []string
	Limit      int
	Offset     int
	OwnerKeyID *uuid.UUID
}

// SearchFilter qualifies a ranked search query.
type SearchFilter struct {
	PublicOnly bool
	ActiveOnly bool
	AppNames   []string
	// FunctionNames applies to function search only; it is the opt-in list
	// for tenant custom tools.
	FunctionNames []string
	Categories    []string
	// ExcludeOwnerOwned drops tenant-owned rows from results so system-tool
	// search is not polluted by custom tools (function search only).
	ExcludeOwnerOwned bool
	Limit             int
	Offset            int
}

// ScoredApp pairs an app with its cosine distance to the search intent.
// Score is nil when no intent vector was supplied.
type ScoredApp struct {
	App   app.App
	Score *float64
}

// ScoredFunction pairs a function with its cosine distance to the search
// intent.
type ScoredFunction struct {
	Function function.Function
	Score    *float64
}

// AppStore persists apps. Lookups return (nil, nil) when no row matches.
type AppStore interface {
	CreateApp(ctx context.Context, a app.App) (app.App, error)
	UpdateApp(ctx context.Context, a app.App) (app.App, error)
	GetApp(ctx context.Context, name string, opts LookupOpts) (*app.App, error)
	GetAppByID(ctx context.Context, id uuid.UUID) (*app.App, error)
	// GetAppMatches returns every row sharing a name, qualified by the
	// visibility/activation options, in stable creation order. The service
	// layer applies the ownership resolution over the result.
	GetAppMatches(ctx context.Context, name string, opts LookupOpts) ([]app.App, error)
	GetApps(ctx context.Context, f Filter) ([]app.App, error)
	GetAppsByOwner(ctx context.Context, ownerKeyID uuid.UUID) ([]app.App, error)
	SearchApps(ctx context.Context, f SearchFilter, intent []float32) ([]ScoredApp, error)
	DeleteAppByID(ctx context.Context, id uuid.UUID, ownerKeyID uuid.UUID) (bool, error)
	SetAppActiveStatus(ctx context.Context, name string, active bool) error
	SetAppVisibility(ctx context.Context, name string, visibility app.Visibility) error
}

// FunctionStore persists functions.
type FunctionStore interface {
	// CreateFunctions writes a batch. There is no partial success: the first
	// failure aborts and the caller rolls back the surrounding transaction.
	CreateFunctions(ctx context.Context, fns []function.Function) ([]function.Function, error)
	UpdateFunction(ctx context.Context, fn function.Function) (function.Function, error)
	GetFunction(ctx context.Context, name string, opts LookupOpts) (*function.Function, error)
	GetFunctionByID(ctx context.Context, id uuid.UUID) (*function.Function, error)
	GetFunctionMatches(ctx context.Context, name string, opts LookupOpts) ([]function.Function, error)
	GetFunctions(ctx context.Context, f Filter) ([]function.Function, error)
	GetFunctionsByAppID(ctx context.Context, appID uuid.UUID) ([]function.Function, error)
	GetFunctionsByNames(ctx context.Context, names []string, opts LookupOpts) ([]function.Function, error)
	GetFunctionsByOwner(ctx context.Context, ownerKeyID uuid.UUID) ([]function.Function, error)
	SearchFunctions(ctx context.Context, f SearchFilter, intent []float32) ([]ScoredFunction, error)
	DeleteFunctionByID(ctx context.Context, id uuid.UUID, ownerKeyID uuid.UUID) (bool, error)
	DeleteFunctionsByAppID(ctx context.Context, appID uuid.UUID, ownerKeyID *uuid.UUID) (int, error)
	SetFunctionActiveStatus(ctx context.Context, name string, active bool) error
	SetFunctionVisibility(ctx context.Context, name string, visibility app.Visibility) error
}

// ConfigurationStore persists per-project app configurations and their
// linked credentials.
type ConfigurationStore interface {
	CreateConfiguration(ctx context.Context, cfg configuration.Configuration) (configuration.Configuration, error)
	GetConfiguration(ctx context.Context, projectID uuid.UUID, appName string) (*configuration.Configuration, error)
	ConfigurationExists(ctx context.Context, projectID uuid.UUID, appName string) (bool, error)
	ListConfigurations(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]configuration.Configuration, error)
	UpdateConfiguration(ctx context.Context, cfg configuration.Configuration) (configuration.Configuration, error)
	DeleteConfiguration(ctx context.Context, projectID uuid.UUID, appName string) (bool, error)
	DeleteConfigurationsByAppID(ctx context.Context, appID uuid.UUID) (int, error)

	CreateCredential(ctx context.Context, cred configuration.Credential) (configuration.Credential, error)
	ListCredentialsByConfiguration(ctx context.Context, configurationID uuid.UUID) ([]configuration.Credential, error)
	DeleteCredentialsByAppID(ctx context.Context, appID uuid.UUID) (int, error)
}
