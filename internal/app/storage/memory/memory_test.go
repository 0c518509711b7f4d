package memory

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
	"github.com/acilabs/toolcatalog/internal/app/domain/function"
	"github.com/acilabs/toolcatalog/internal/app/storage"
)

func newApp(name string, owner *uuid.UUID) app.App {
	return app.App{
		ID:         uuid.New(),
		Name:       name,
		Visibility: app.VisibilityPublic,
		Active:     true,
		OwnerKeyID: owner,
		Embedding:  []float32{1, 0, 0},
	}
}

func TestCreateAppDuplicateScoping(t *testing.T) {
	ctx := context.Background()
	store := New(nil)
	owner := uuid.New()

	if _, err := store.CreateApp(ctx, newApp("GMAIL", nil)); err != nil {
		t.Fatalf("create system app: %v", err)
	}
	// Same name under a different owner is a distinct record.
	if _, err := store.CreateApp(ctx, newApp("GMAIL", &owner)); err != nil {
		t.Fatalf("create owned app: %v", err)
	}
	// Same (name, owner) pair is rejected.
	if _, err := store.CreateApp(ctx, newApp("GMAIL", &owner)); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("duplicate create err = %v, want ErrDuplicate", err)
	}
	if _, err := store.CreateApp(ctx, newApp("GMAIL", nil)); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("duplicate system create err = %v, want ErrDuplicate", err)
	}
}

func TestUpdateAppMissing(t *testing.T) {
	store := New(nil)
	_, err := store.UpdateApp(context.Background(), newApp("GHOST", nil))
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("update missing err = %v, want sql.ErrNoRows", err)
	}
}

func TestGetAppsPagination(t *testing.T) {
	ctx := context.Background()
	store := New(nil)
	for _, name := range []string{"A", "B", "C", "D"} {
		if _, err := store.CreateApp(ctx, newApp(name, nil)); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	pageOne, err := store.GetApps(ctx, storage.Filter{Limit: 2})
	if err != nil {
		t.Fatalf("GetApps: %v", err)
	}
	pageTwo, err := store.GetApps(ctx, storage.Filter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("GetApps offset: %v", err)
	}
	if len(pageOne) != 2 || len(pageTwo) != 2 {
		t.Fatalf("page sizes = %d, %d, want 2, 2", len(pageOne), len(pageTwo))
	}
	if pageOne[1].Name == pageTwo[0].Name {
		t.Fatalf("pages overlap at %s", pageTwo[0].Name)
	}

	empty, err := store.GetApps(ctx, storage.Filter{Limit: 2, Offset: 10})
	if err != nil {
		t.Fatalf("GetApps past end: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("past-end page has %d rows", len(empty))
	}
}

func TestDeleteFunctionsByAppIDOwnerFilter(t *testing.T) {
	ctx := context.Background()
	store := New(nil)
	owner := uuid.New()
	other := uuid.New()

	a, err := store.CreateApp(ctx, newApp("SLACK", &owner))
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	fns := []function.Function{
		{ID: uuid.New(), AppID: a.ID, Name: "SLACK__A", Visibility: app.VisibilityPublic, Active: true, OwnerKeyID: &owner},
		{ID: uuid.New(), AppID: a.ID, Name: "SLACK__B", Visibility: app.VisibilityPublic, Active: true, OwnerKeyID: &owner},
	}
	if _, err := store.CreateFunctions(ctx, fns); err != nil {
		t.Fatalf("create functions: %v", err)
	}

	n, err := store.DeleteFunctionsByAppID(ctx, a.ID, &other)
	if err != nil {
		t.Fatalf("delete with wrong owner: %v", err)
	}
	if n != 0 {
		t.Fatalf("wrong owner deleted %d rows", n)
	}

	n, err = store.DeleteFunctionsByAppID(ctx, a.ID, nil)
	if err != nil {
		t.Fatalf("delete unfiltered: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted %d rows, want 2", n)
	}
}

func TestCreateFunctionsRejectsIntraBatchDuplicate(t *testing.T) {
	ctx := context.Background()
	store := New(nil)
	owner := uuid.New()

	a, err := store.CreateApp(ctx, newApp("SLACK", &owner))
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	fns := []function.Function{
		{ID: uuid.New(), AppID: a.ID, Name: "SLACK__POST", Visibility: app.VisibilityPublic, Active: true, OwnerKeyID: &owner},
		{ID: uuid.New(), AppID: a.ID, Name: "SLACK__POST", Visibility: app.VisibilityPublic, Active: true, OwnerKeyID: &owner},
	}
	if _, err := store.CreateFunctions(ctx, fns); !errors.Is(err, storage.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for repeated name in one batch, got %v", err)
	}

	// The failed batch must not leave partial rows behind.
	left, err := store.GetFunctionsByAppID(ctx, a.ID)
	if err != nil {
		t.Fatalf("get functions: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("rejected batch created %d rows", len(left))
	}

	// Same name under different owners is two distinct rows, not a clash.
	other := uuid.New()
	mixed := []function.Function{
		{ID: uuid.New(), AppID: a.ID, Name: "SLACK__POST", Visibility: app.VisibilityPublic, Active: true, OwnerKeyID: &owner},
		{ID: uuid.New(), AppID: a.ID, Name: "SLACK__POST", Visibility: app.VisibilityPublic, Active: true, OwnerKeyID: &other},
	}
	if _, err := store.CreateFunctions(ctx, mixed); err != nil {
		t.Fatalf("distinct owners should not clash: %v", err)
	}
}

func TestCosineDistance(t *testing.T) {
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 0},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 1},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, 2},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 1},
		{"length mismatch", []float32{1}, []float32{1, 0}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cosineDistance(tc.a, tc.b)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Fatalf("cosineDistance = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSearchAppsCategoryOverlap(t *testing.T) {
	ctx := context.Background()
	store := New(nil)

	mail := newApp("GMAIL", nil)
	mail.Categories = []string{"email", "productivity"}
	chat := newApp("SLACK", nil)
	chat.Categories = []string{"chat"}
	for _, a := range []app.App{mail, chat} {
		if _, err := store.CreateApp(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.Name, err)
		}
	}

	got, err := store.SearchApps(ctx, storage.SearchFilter{Categories: []string{"email", "calendar"}}, nil)
	if err != nil {
		t.Fatalf("SearchApps: %v", err)
	}
	if len(got) != 1 || got[0].App.Name != "GMAIL" {
		t.Fatalf("category overlap returned %d rows", len(got))
	}
}
