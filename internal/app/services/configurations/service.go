// Package configurations manages per-project app enablement and the
// credential records linked to each configuration.
package configurations

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
	"github.com/acilabs/toolcatalog/internal/app/domain/configuration"
	"github.com/acilabs/toolcatalog/internal/app/encryption"
	"github.com/acilabs/toolcatalog/internal/app/storage"
	"github.com/acilabs/toolcatalog/pkg/logger"
)

var (
	// ErrNotFound is returned when no configuration exists for the project
	// and app.
	ErrNotFound = errors.New("configuration not found")
	// ErrAppNotFound is returned when the referenced app does not resolve.
	ErrAppNotFound = errors.New("app not found")
	// ErrAlreadyExists is returned when the project already configured the
	// app.
	ErrAlreadyExists = errors.New("configuration already exists")
	// ErrUnsupportedScheme is returned when the requested security scheme
	// is not declared by the app.
	ErrUnsupportedScheme = errors.New("security scheme not supported by app")
	// ErrUnknownFunction is returned when an enabled function name is not
	// defined by the configured app.
	ErrUnknownFunction = errors.New("function not defined by app")
)

// Service manages app configurations for projects.
type Service struct {
	store     storage.ConfigurationStore
	apps      storage.AppStore
	functions storage.FunctionStore
	cipher    encryption.Cipher
	log       *logger.Logger
}

// CreateRequest carries the fields of a configuration create.
type CreateRequest struct {
	ProjectID               uuid.UUID
	AppName                 string
	SecurityScheme          app.SecurityScheme
	SecuritySchemeOverrides map[string]any
	AllFunctionsEnabled     bool
	EnabledFunctions        []string
}

// UpdateRequest carries the mutable fields of a configuration. Pointer
// fields distinguish "not provided" from explicit zero values.
type UpdateRequest struct {
	Enabled             *bool
	AllFunctionsEnabled *bool
	EnabledFunctions    *[]string
}

// New constructs a configuration service.
func New(store storage.ConfigurationStore, apps storage.AppStore, functions storage.FunctionStore, cipher encryption.Cipher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("configurations")
	}
	if cipher == nil {
		cipher = encryption.Noop{}
		log.Warn("no credential cipher configured; storing credentials unsealed")
	}
	return &Service{store: store, apps: apps, functions: functions, cipher: cipher, log: log}
}

// Create enables an app for a project. The app must be active, visible to
// the caller and declare the requested security scheme.
func (s *Service) Create(ctx context.Context, req CreateRequest, ownerKeyID *uuid.UUID) (configuration.Configuration, error) {
	if req.AppName == "" {
		return configuration.Configuration{}, fmt.Errorf("app name is required")
	}

	a, err := s.apps.GetApp(ctx, req.AppName, storage.LookupOpts{
		ActiveOnly: true,
		OwnerKeyID: ownerKeyID,
	})
	if err != nil {
		return configuration.Configuration{}, err
	}
	if a == nil {
		return configuration.Configuration{}, fmt.Errorf("app %s: %w", req.AppName, ErrAppNotFound)
	}
	if _, ok := a.SecuritySchemes[req.SecurityScheme]; !ok {
		return configuration.Configuration{}, fmt.Errorf("app %s scheme %s: %w", req.AppName, req.SecurityScheme, ErrUnsupportedScheme)
	}

	if err := s.validateEnabledFunctions(ctx, a.ID, req.EnabledFunctions); err != nil {
		return configuration.Configuration{}, err
	}

	exists, err := s.store.ConfigurationExists(ctx, req.ProjectID, req.AppName)
	if err != nil {
		return configuration.Configuration{}, err
	}
	if exists {
		return configuration.Configuration{}, fmt.Errorf("app %s: %w", req.AppName, ErrAlreadyExists)
	}

	cfg := configuration.Configuration{
		ProjectID:               req.ProjectID,
		AppID:                   a.ID,
		AppName:                 a.Name,
		SecurityScheme:          req.SecurityScheme,
		SecuritySchemeOverrides: req.SecuritySchemeOverrides,
		AllFunctionsEnabled:     req.AllFunctionsEnabled,
		EnabledFunctions:        req.EnabledFunctions,
		Enabled:                 true,
		OwnerKeyID:              ownerKeyID,
	}
	created, err := s.store.CreateConfiguration(ctx, cfg)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return configuration.Configuration{}, fmt.Errorf("app %s: %w", req.AppName, ErrAlreadyExists)
		}
		return configuration.Configuration{}, err
	}
	s.log.Infof("configuration created for app %s in project %s", a.Name, req.ProjectID)
	return created, nil
}

// validateEnabledFunctions checks every requested function name against the
// app's own function set so a configuration never enables a name the app
// does not define.
func (s *Service) validateEnabledFunctions(ctx context.Context, appID uuid.UUID, names []string) error {
	if len(names) == 0 || s.functions == nil {
		return nil
	}
	fns, err := s.functions.GetFunctionsByNames(ctx, names, storage.LookupOpts{})
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(fns))
	for _, fn := range fns {
		if fn.AppID == appID {
			known[fn.Name] = true
		}
	}
	for _, name := range names {
		if !known[name] {
			return fmt.Errorf("function %s: %w", name, ErrUnknownFunction)
		}
	}
	return nil
}

// Get fetches one configuration.
func (s *Service) Get(ctx context.Context, projectID uuid.UUID, appName string) (configuration.Configuration, error) {
	cfg, err := s.store.GetConfiguration(ctx, projectID, appName)
	if err != nil {
		return configuration.Configuration{}, err
	}
	if cfg == nil {
		return configuration.Configuration{}, fmt.Errorf("app %s: %w", appName, ErrNotFound)
	}
	return *cfg, nil
}

// List returns a page of a project's configurations.
func (s *Service) List(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]configuration.Configuration, error) {
	return s.store.ListConfigurations(ctx, projectID, limit, offset)
}

// Update applies the supplied fields to an existing configuration.
func (s *Service) Update(ctx context.Context, projectID uuid.UUID, appName string, req UpdateRequest) (configuration.Configuration, error) {
	cfg, err := s.store.GetConfiguration(ctx, projectID, appName)
	if err != nil {
		return configuration.Configuration{}, err
	}
	if cfg == nil {
		return configuration.Configuration{}, fmt.Errorf("app %s: %w", appName, ErrNotFound)
	}

	updated := *cfg
	if req.Enabled != nil {
		updated.Enabled = *req.Enabled
	}
	if req.AllFunctionsEnabled != nil {
		updated.AllFunctionsEnabled = *req.AllFunctionsEnabled
	}
	if req.EnabledFunctions != nil {
		if err := s.validateEnabledFunctions(ctx, cfg.AppID, *req.EnabledFunctions); err != nil {
			return configuration.Configuration{}, err
		}
		updated.EnabledFunctions = append([]string(nil), (*req.EnabledFunctions)...)
	}

	persisted, err := s.store.UpdateConfiguration(ctx, updated)
	if errors.Is(err, sql.ErrNoRows) {
		return configuration.Configuration{}, fmt.Errorf("app %s: %w", appName, ErrNotFound)
	}
	if err != nil {
		return configuration.Configuration{}, err
	}
	return persisted, nil
}

// Delete removes a configuration and its linked credentials, credentials
// first.
func (s *Service) Delete(ctx context.Context, projectID uuid.UUID, appName string) error {
	cfg, err := s.store.GetConfiguration(ctx, projectID, appName)
	if err != nil {
		return err
	}
	if cfg == nil {
		return fmt.Errorf("app %s: %w", appName, ErrNotFound)
	}

	creds, err := s.store.ListCredentialsByConfiguration(ctx, cfg.ID)
	if err != nil {
		return err
	}
	if len(creds) > 0 {
		if _, err := s.store.DeleteCredentialsByAppID(ctx, cfg.AppID); err != nil {
			return err
		}
	}
	deleted, err := s.store.DeleteConfiguration(ctx, projectID, appName)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("app %s: %w", appName, ErrNotFound)
	}
	s.log.Infof("configuration for app %s removed from project %s", appName, projectID)
	return nil
}

// StoreCredential seals and stores a credential blob for a configuration's
// security scheme. The plaintext never reaches the store.
func (s *Service) StoreCredential(ctx context.Context, projectID uuid.UUID, appName string, scheme app.SecurityScheme, plaintext []byte) (configuration.Credential, error) {
	cfg, err := s.store.GetConfiguration(ctx, projectID, appName)
	if err != nil {
		return configuration.Credential{}, err
	}
	if cfg == nil {
		return configuration.Credential{}, fmt.Errorf("app %s: %w", appName, ErrNotFound)
	}
	if scheme != cfg.SecurityScheme {
		return configuration.Credential{}, fmt.Errorf("app %s scheme %s: %w", appName, scheme, ErrUnsupportedScheme)
	}

	sealed, err := s.cipher.Encrypt(plaintext)
	if err != nil {
		return configuration.Credential{}, fmt.Errorf("seal credential: %w", err)
	}
	return s.store.CreateCredential(ctx, configuration.Credential{
		ConfigurationID: cfg.ID,
		AppID:           cfg.AppID,
		SecurityScheme:  scheme,
		EncryptedData:   sealed,
	})
}

// RevealCredential decodes and opens a sealed credential blob.
func (s *Service) RevealCredential(cred configuration.Credential) ([]byte, error) {
	return s.cipher.Decrypt(cred.EncryptedData)
}

// DecodeSealedDefault opens one of an app's sealed default credentials, as
// stored by the catalog service.
func (s *Service) DecodeSealedDefault(value string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode sealed credential: %w", err)
	}
	return s.cipher.Decrypt(blob)
}
