// Package function defines the Function entity: a single invocable operation
// belonging to an App. Function names are globally unique and encode the
// owning app as a prefix, e.g. GMAIL__SEND_EMAIL.
package function

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
)

// Delimiter separates the app prefix from the function suffix in a
// function name.
const Delimiter = "__"

// Function is a catalog row. Visibility and activation are independent of
// the owning app's at write time; read paths join both (an inactive or
// private app hides all of its functions).
type Function struct {
	ID           uuid.UUID
	AppID        uuid.UUID
	Name         string
	Description  string
	Tags         []string
	Visibility   app.Visibility
	Active       bool
	Protocol     string
	ProtocolData map[string]any
	Parameters   map[string]any
	Response     map[string]any

	OwnerKeyID *uuid.UUID
	Embedding  []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Upsert carries caller-supplied fields for a function create/update.
type Upsert struct {
	Name         string          `json:"name"`
	Description  *string         `json:"description,omitempty"`
	Tags         *[]string       `json:"tags,omitempty"`
	Visibility   *app.Visibility `json:"visibility,omitempty"`
	Active       *bool           `json:"active,omitempty"`
	Protocol     *string         `json:"protocol,omitempty"`
	ProtocolData *map[string]any `json:"protocol_data,omitempty"`
	Parameters   *map[string]any `json:"parameters,omitempty"`
	Response     *map[string]any `json:"response,omitempty"`
}

// ParseAppName returns the app prefix encoded in a function name.
func ParseAppName(functionName string) (string, error) {
	name, _, found := strings.Cut(functionName, Delimiter)
	if !found || name == "" {
		return "", fmt.Errorf("function name %q missing app prefix", functionName)
	}
	return name, nil
}

// EmbeddingFields is the subset of function data folded into the embedding
// text.
type EmbeddingFields struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// EmbeddingFieldsOf extracts the embedding-relevant fields of a function.
func EmbeddingFieldsOf(f Function) EmbeddingFields {
	return EmbeddingFields{
		Name:        f.Name,
		Description: f.Description,
		Parameters:  f.Parameters,
	}
}

// Text renders the canonical JSON blob handed to the embedding provider.
func (f EmbeddingFields) Text() string {
	b, _ := json.Marshal(f)
	return string(b)
}

// Equal reports whether two embedding field sets would produce the same
// embedding text.
func (f EmbeddingFields) Equal(other EmbeddingFields) bool {
	return f.Text() == other.Text()
}
