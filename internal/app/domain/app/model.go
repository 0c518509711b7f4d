// Package app defines the App entity: a registered third-party integration
// family (e.g. "GMAIL") whose callable operations live in the function
// package.
package app

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Visibility controls who can discover a catalog record.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility value.
func (v Visibility) Valid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// SecurityScheme identifies an authentication mechanism an app supports.
type SecurityScheme string

const (
	SchemeNoAuth SecurityScheme = "no_auth"
	SchemeAPIKey SecurityScheme = "api_key"
	SchemeOAuth2 SecurityScheme = "oauth2"
)

// App is a catalog row. OwnerKeyID is nil for platform-owned (system) apps
// and set to the creating API key for tenant custom apps. Embedding is the
// vector derived from the embedding-relevant identity fields.
type App struct {
	ID          uuid.UUID
	Name        string
	DisplayName string
	Provider    string
	Version     string
	Description string
	Logo        string
	Categories  []string
	Visibility  Visibility
	Active      bool

	SecuritySchemes                    map[SecurityScheme]map[string]any
	DefaultSecurityCredentialsByScheme map[SecurityScheme]string

	OwnerKeyID *uuid.UUID
	Embedding  []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Upsert carries the caller-supplied fields of an app create/update. Pointer
// fields distinguish "not provided" from an explicit zero value so partial
// updates never clobber stored state.
type Upsert struct {
	Name        string      `json:"name"`
	DisplayName *string     `json:"display_name,omitempty"`
	Provider    *string     `json:"provider,omitempty"`
	Version     *string     `json:"version,omitempty"`
	Description *string     `json:"description,omitempty"`
	Logo        *string     `json:"logo,omitempty"`
	Categories  *[]string   `json:"categories,omitempty"`
	Visibility  *Visibility `json:"visibility,omitempty"`
	Active      *bool       `json:"active,omitempty"`

	SecuritySchemes                    map[SecurityScheme]map[string]any `json:"security_schemes,omitempty"`
	DefaultSecurityCredentialsByScheme map[SecurityScheme]string         `json:"default_security_credentials_by_scheme,omitempty"`
}

// EmbeddingFields is the subset of app data folded into the embedding text.
// Security schemes and credentials are deliberately excluded.
type EmbeddingFields struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Provider    string   `json:"provider"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
}

// EmbeddingFieldsOf extracts the embedding-relevant fields of an app.
func EmbeddingFieldsOf(a App) EmbeddingFields {
	return EmbeddingFields{
		Name:        a.Name,
		DisplayName: a.DisplayName,
		Provider:    a.Provider,
		Version:     a.Version,
		Description: a.Description,
		Categories:  a.Categories,
	}
}

// Text renders the canonical JSON blob handed to the embedding provider.
func (f EmbeddingFields) Text() string {
	if f.Categories == nil {
		f.Categories = []string{}
	}
	b, _ := json.Marshal(f)
	return string(b)
}

// Equal reports whether two embedding field sets would produce the same
// embedding text.
func (f EmbeddingFields) Equal(other EmbeddingFields) bool {
	return f.Text() == other.Text()
}
