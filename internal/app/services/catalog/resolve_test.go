package catalog

import (
	"testing"

	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
	"github.com/acilabs/toolcatalog/internal/app/domain/function"
)

func TestResolveAppTiers(t *testing.T) {
	ownerA := uuid.New()
	ownerB := uuid.New()
	ownerC := uuid.New()
	platform := uuid.New()

	rowA := app.App{ID: uuid.New(), Name: "X", OwnerKeyID: &ownerA}
	rowB := app.App{ID: uuid.New(), Name: "X", OwnerKeyID: &ownerB}
	rowPlatform := app.App{ID: uuid.New(), Name: "X", OwnerKeyID: &platform}
	rowSystem := app.App{ID: uuid.New(), Name: "X"}

	tests := []struct {
		name       string
		candidates []app.App
		caller     *uuid.UUID
		platform   *uuid.UUID
		want       uuid.UUID
	}{
		{"caller owned wins", []app.App{rowSystem, rowB, rowA}, &ownerA, nil, rowA.ID},
		{"system row as fallback", []app.App{rowA, rowB, rowSystem}, &ownerC, nil, rowSystem.ID},
		{"first by stable order", []app.App{rowA, rowB}, &ownerC, nil, rowA.ID},
		{"platform owner as fallback", []app.App{rowA, rowPlatform}, &ownerC, &platform, rowPlatform.ID},
		{"caller beats platform", []app.App{rowPlatform, rowA}, &ownerA, &platform, rowA.ID},
		{"no caller key", []app.App{rowA, rowSystem}, nil, nil, rowSystem.ID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveApp(tt.candidates, tt.caller, tt.platform)
			if got == nil {
				t.Fatalf("expected a resolution")
			}
			if got.ID != tt.want {
				t.Fatalf("resolved wrong row")
			}
		})
	}
}

func TestResolveAppEmpty(t *testing.T) {
	if got := ResolveApp(nil, nil, nil); got != nil {
		t.Fatalf("empty candidate list must resolve to nil")
	}
}

func TestResolveFunctionCallerOwned(t *testing.T) {
	owner := uuid.New()
	system := function.Function{ID: uuid.New(), Name: "X__Y"}
	owned := function.Function{ID: uuid.New(), Name: "X__Y", OwnerKeyID: &owner}

	got := ResolveFunction([]function.Function{system, owned}, &owner, nil)
	if got == nil || got.ID != owned.ID {
		t.Fatalf("caller-owned function must win")
	}
}
