// Package configuration defines per-project app enablement records and the
// credential rows linked to them. Deleting an app cascades through these
// before the app row itself is removed.
package configuration

import (
	"time"

	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
)

// Configuration enables an app for one project with a chosen security
// scheme. EnabledFunctions is consulted only when AllFunctionsEnabled is
// false.
type Configuration struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	AppID     uuid.UUID
	AppName   string

	SecurityScheme          app.SecurityScheme
	SecuritySchemeOverrides map[string]any

	AllFunctionsEnabled bool
	EnabledFunctions    []string
	Enabled             bool

	OwnerKeyID *uuid.UUID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Credential is an at-rest encrypted credential blob linked to a
// configuration.
type Credential struct {
	ID              uuid.UUID
	ConfigurationID uuid.UUID
	AppID           uuid.UUID
	SecurityScheme  app.SecurityScheme
	EncryptedData   []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}
