// Package app assembles the catalog services over a chosen storage backend.
package app

import (
	"errors"

	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/embedding"
	"github.com/acilabs/toolcatalog/internal/app/encryption"
	"github.com/acilabs/toolcatalog/internal/app/services/catalog"
	"github.com/acilabs/toolcatalog/internal/app/services/configurations"
	"github.com/acilabs/toolcatalog/internal/app/storage"
	"github.com/acilabs/toolcatalog/internal/app/storage/memory"
	"github.com/acilabs/toolcatalog/pkg/logger"
)

// Stores encapsulates persistence dependencies. Leaving all four nil selects
// a shared in-memory implementation, used by tests and local runs.
type Stores struct {
	Apps           storage.AppStore
	Functions      storage.FunctionStore
	Configurations storage.ConfigurationStore
	Transactor     storage.Transactor
}

// Options carries the non-storage dependencies of the application.
type Options struct {
	Embedder      embedding.Provider
	Cipher        encryption.Cipher
	PlatformKeyID *uuid.UUID
	Logger        *logger.Logger
}

// Application ties the domain services together.
type Application struct {
	log *logger.Logger

	Catalog        *catalog.Service
	Configurations *configurations.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options) (*Application, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Embedder == nil {
		return nil, errors.New("embedding provider is required")
	}

	if stores.Apps == nil || stores.Functions == nil || stores.Configurations == nil || stores.Transactor == nil {
		if stores.Apps != nil || stores.Functions != nil || stores.Configurations != nil || stores.Transactor != nil {
			return nil, errors.New("stores must be supplied together or not at all")
		}
		mem := memory.New(opts.PlatformKeyID)
		stores = Stores{Apps: mem, Functions: mem, Configurations: mem, Transactor: mem}
		log.Warn("no stores configured; using in-memory storage")
	}

	catalogService, err := catalog.New(catalog.Options{
		Apps:           stores.Apps,
		Functions:      stores.Functions,
		Configurations: stores.Configurations,
		Transactor:     stores.Transactor,
		Embedder:       opts.Embedder,
		Cipher:         opts.Cipher,
		PlatformKeyID:  opts.PlatformKeyID,
		Logger:         log.WithComponent("catalog"),
	})
	if err != nil {
		return nil, err
	}
	configService := configurations.New(stores.Configurations, stores.Apps, stores.Functions, opts.Cipher, log.WithComponent("configurations"))

	return &Application{
		log:            log,
		Catalog:        catalogService,
		Configurations: configService,
	}, nil
}
