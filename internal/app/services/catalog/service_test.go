package catalog

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
	"github.com/acilabs/toolcatalog/internal/app/domain/configuration"
	"github.com/acilabs/toolcatalog/internal/app/domain/function"
	"github.com/acilabs/toolcatalog/internal/app/encryption"
	"github.com/acilabs/toolcatalog/internal/app/storage"
	"github.com/acilabs/toolcatalog/internal/app/storage/memory"
)

// fakeEmbedder counts provider calls and hands out fixed vectors, keyed by
// text when a mapping is provided.
type fakeEmbedder struct {
	calls  int
	byText map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if v, ok := f.byText[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Model() string  { return "fake" }

func newTestService(t *testing.T, platformKeyID *uuid.UUID, cipher encryption.Cipher) (*Service, *memory.Store, *fakeEmbedder) {
	t.Helper()
	store := memory.New(platformKeyID)
	emb := &fakeEmbedder{}
	svc, err := New(Options{
		Apps:           store,
		Functions:      store,
		Configurations: store,
		Transactor:     store,
		Embedder:       emb,
		Cipher:         cipher,
		PlatformKeyID:  platformKeyID,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, store, emb
}

func configurationFor(projectID uuid.UUID, a app.App) configuration.Configuration {
	return configuration.Configuration{
		ProjectID:           projectID,
		AppID:               a.ID,
		AppName:             a.Name,
		SecurityScheme:      app.SchemeAPIKey,
		AllFunctionsEnabled: true,
		Enabled:             true,
	}
}

func credentialFor(cfg configuration.Configuration) configuration.Credential {
	return configuration.Credential{
		ConfigurationID: cfg.ID,
		AppID:           cfg.AppID,
		SecurityScheme:  cfg.SecurityScheme,
		EncryptedData:   []byte("sealed"),
	}
}

func strPtr(s string) *string                 { return &s }
func boolPtr(b bool) *bool                    { return &b }
func visPtr(v app.Visibility) *app.Visibility { return &v }

func TestUpsertAppIdempotent(t *testing.T) {
	svc, store, emb := newTestService(t, nil, nil)
	ctx := context.Background()

	spec := app.Upsert{
		Name:        "GMAIL",
		DisplayName: strPtr("Gmail"),
		Description: strPtr("Email service"),
	}
	first, err := svc.UpsertApp(ctx, spec, nil)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if emb.calls != 1 {
		t.Fatalf("expected 1 embed call after create, got %d", emb.calls)
	}

	second, err := svc.UpsertApp(ctx, spec, nil)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if emb.calls != 1 {
		t.Fatalf("unchanged upsert must not re-embed, got %d calls", emb.calls)
	}
	if second.ID != first.ID {
		t.Fatalf("second upsert created a new row")
	}

	matches, err := store.GetAppMatches(ctx, "GMAIL", storage.LookupOpts{})
	if err != nil {
		t.Fatalf("matches: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 row, got %d", len(matches))
	}
}

func TestUpsertAppPartialMerge(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	cats := []string{"email", "productivity"}
	_, err := svc.UpsertApp(ctx, app.Upsert{
		Name:        "GMAIL",
		DisplayName: strPtr("Gmail"),
		Description: strPtr("Email service"),
		Categories:  &cats,
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.UpsertApp(ctx, app.Upsert{Name: "GMAIL", DisplayName: strPtr("Gmail X")}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.DisplayName != "Gmail X" {
		t.Fatalf("display name not updated: %q", updated.DisplayName)
	}
	if updated.Description != "Email service" {
		t.Fatalf("description clobbered: %q", updated.Description)
	}
	if len(updated.Categories) != 2 {
		t.Fatalf("categories clobbered: %v", updated.Categories)
	}
}

func TestEmbeddingRecomputeOnlyOnRelevantChange(t *testing.T) {
	svc, _, emb := newTestService(t, nil, nil)
	ctx := context.Background()

	_, err := svc.UpsertApp(ctx, app.Upsert{Name: "GMAIL", Description: strPtr("Email")}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if emb.calls != 1 {
		t.Fatalf("expected 1 embed call, got %d", emb.calls)
	}

	// Non-embedding field: no provider call.
	if _, err := svc.UpsertApp(ctx, app.Upsert{Name: "GMAIL", Active: boolPtr(false)}, nil); err != nil {
		t.Fatalf("toggle active: %v", err)
	}
	if emb.calls != 1 {
		t.Fatalf("active toggle must not re-embed, got %d calls", emb.calls)
	}

	// Embedding field: exactly one more provider call.
	if _, err := svc.UpsertApp(ctx, app.Upsert{Name: "GMAIL", Description: strPtr("Mail")}, nil); err != nil {
		t.Fatalf("update description: %v", err)
	}
	if emb.calls != 2 {
		t.Fatalf("description change must re-embed, got %d calls", emb.calls)
	}
}

func TestGetAppOwnershipFallback(t *testing.T) {
	ownerA := uuid.New()
	ownerB := uuid.New()
	ownerC := uuid.New()

	svc, store, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	seed := func(owner *uuid.UUID) uuid.UUID {
		t.Helper()
		created, err := store.CreateApp(ctx, app.App{
			Name:       "X",
			Visibility: app.VisibilityPublic,
			Active:     true,
			OwnerKeyID: owner,
		})
		if err != nil {
			t.Fatalf("seed app: %v", err)
		}
		return created.ID
	}
	idA := seed(&ownerA)
	seed(&ownerB)
	idSystem := seed(nil)

	got, err := svc.GetApp(ctx, "X", storage.LookupOpts{OwnerKeyID: &ownerA})
	if err != nil {
		t.Fatalf("caller A: %v", err)
	}
	if got.ID != idA {
		t.Fatalf("caller A should get its own row")
	}

	got, err = svc.GetApp(ctx, "X", storage.LookupOpts{OwnerKeyID: &ownerC})
	if err != nil {
		t.Fatalf("caller C: %v", err)
	}
	if got.ID != idSystem {
		t.Fatalf("caller with no row should get the system row")
	}

	// No system row: first remaining by stable creation order.
	store2 := memory.New(nil)
	svc2, err := New(Options{
		Apps: store2, Functions: store2, Configurations: store2,
		Transactor: store2, Embedder: &fakeEmbedder{},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	first, err := store2.CreateApp(ctx, app.App{Name: "X", Active: true, OwnerKeyID: &ownerA})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store2.CreateApp(ctx, app.App{Name: "X", Active: true, OwnerKeyID: &ownerB}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err = svc2.GetApp(ctx, "X", storage.LookupOpts{OwnerKeyID: &ownerC})
	if err != nil {
		t.Fatalf("caller C without system row: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected first row by creation order")
	}
}

func TestGetAppPlatformFallback(t *testing.T) {
	platform := uuid.New()
	ownerA := uuid.New()
	ownerC := uuid.New()

	svc, store, _ := newTestService(t, &platform, nil)
	ctx := context.Background()

	if _, err := store.CreateApp(ctx, app.App{Name: "X", Active: true, OwnerKeyID: &ownerA}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	platformRow, err := store.CreateApp(ctx, app.App{Name: "X", Active: true, OwnerKeyID: &platform})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := svc.GetApp(ctx, "X", storage.LookupOpts{OwnerKeyID: &ownerC})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != platformRow.ID {
		t.Fatalf("expected the platform owner's row for a caller with no row")
	}
}

func TestUpsertFunctionsAllOrNothing(t *testing.T) {
	owner := uuid.New()
	svc, store, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.UpsertApp(ctx, app.Upsert{Name: "GMAIL"}, &owner); err != nil {
		t.Fatalf("create app: %v", err)
	}

	_, err := svc.UpsertFunctions(ctx, []function.Upsert{
		{Name: "GMAIL__SEND_EMAIL", Description: strPtr("Send an email")},
		{Name: "SLACK__POST_MESSAGE", Description: strPtr("Post a message")},
	}, &owner)
	if !errors.Is(err, ErrAppNotFound) {
		t.Fatalf("expected ErrAppNotFound, got %v", err)
	}

	fns, err := store.GetFunctions(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fns) != 0 {
		t.Fatalf("failed batch must write nothing, found %d rows", len(fns))
	}
}

func TestUpsertFunctionsCreatesAndUpdates(t *testing.T) {
	owner := uuid.New()
	svc, _, emb := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.UpsertApp(ctx, app.Upsert{Name: "GMAIL"}, &owner); err != nil {
		t.Fatalf("create app: %v", err)
	}
	embedsAfterApp := emb.calls

	created, err := svc.UpsertFunctions(ctx, []function.Upsert{
		{Name: "GMAIL__SEND_EMAIL", Description: strPtr("Send an email")},
	}, &owner)
	if err != nil {
		t.Fatalf("create functions: %v", err)
	}
	if len(created) != 1 || created[0].ID == uuid.Nil {
		t.Fatalf("unexpected create result: %+v", created)
	}
	if emb.calls != embedsAfterApp+1 {
		t.Fatalf("expected one embed for the new function")
	}

	// Same spec again: update path, nothing embedding-relevant changed.
	again, err := svc.UpsertFunctions(ctx, []function.Upsert{
		{Name: "GMAIL__SEND_EMAIL", Description: strPtr("Send an email")},
	}, &owner)
	if err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	if again[0].ID != created[0].ID {
		t.Fatalf("re-upsert must not create a new row")
	}
	if emb.calls != embedsAfterApp+1 {
		t.Fatalf("unchanged function must not re-embed, got %d calls", emb.calls)
	}
}

func TestUpsertFunctionsRejectsBadName(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)
	_, err := svc.UpsertFunctions(context.Background(), []function.Upsert{{Name: "NODELIMITER"}}, nil)
	if !errors.Is(err, ErrInvalidFunctionName) {
		t.Fatalf("expected ErrInvalidFunctionName, got %v", err)
	}
}

func TestSearchFunctionsVisibilityJoin(t *testing.T) {
	svc, store, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	private, err := store.CreateApp(ctx, app.App{Name: "VAULT", Visibility: app.VisibilityPrivate, Active: true})
	if err != nil {
		t.Fatalf("seed app: %v", err)
	}
	if _, err := store.CreateFunctions(ctx, []function.Function{{
		AppID:      private.ID,
		Name:       "VAULT__READ_SECRET",
		Visibility: app.VisibilityPublic,
		Active:     true,
	}}); err != nil {
		t.Fatalf("seed function: %v", err)
	}

	results, err := svc.SearchFunctions(ctx, "", storage.SearchFilter{PublicOnly: true, ActiveOnly: true})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("public function under a private app must be hidden, got %d results", len(results))
	}
}

func TestSearchAppsCosineRanking(t *testing.T) {
	svc, store, emb := newTestService(t, nil, nil)
	ctx := context.Background()

	// Query (1,0,0): distances are exact 0, far ~0.293, orthogonal 1.
	emb.byText = map[string][]float32{"send mail": {1, 0, 0}}
	seed := func(name string, vec []float32) {
		t.Helper()
		if _, err := store.CreateApp(ctx, app.App{
			Name:       name,
			Visibility: app.VisibilityPublic,
			Active:     true,
			Embedding:  vec,
		}); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}
	seed("ORTHOGONAL", []float32{0, 1, 0})
	seed("EXACT", []float32{1, 0, 0})
	seed("DIAGONAL", []float32{1, 1, 0})

	results, err := svc.SearchApps(ctx, "send mail", storage.SearchFilter{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	order := []string{results[0].App.Name, results[1].App.Name, results[2].App.Name}
	want := []string{"EXACT", "DIAGONAL", "ORTHOGONAL"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
	if results[0].Score == nil || *results[0].Score > 1e-6 {
		t.Fatalf("exact match should score ~0, got %v", results[0].Score)
	}

	// Without an intent the order is by name and scores are absent.
	unranked, err := svc.SearchApps(ctx, "", storage.SearchFilter{})
	if err != nil {
		t.Fatalf("unranked search: %v", err)
	}
	if unranked[0].App.Name != "DIAGONAL" || unranked[0].Score != nil {
		t.Fatalf("unranked search must order by name with nil scores")
	}
}

func TestDeleteAppCascade(t *testing.T) {
	owner := uuid.New()
	project := uuid.New()
	svc, store, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	created, err := svc.UpsertApp(ctx, app.Upsert{
		Name:            "GMAIL",
		SecuritySchemes: map[app.SecurityScheme]map[string]any{app.SchemeAPIKey: {}},
	}, &owner)
	if err != nil {
		t.Fatalf("create app: %v", err)
	}
	if _, err := svc.UpsertFunctions(ctx, []function.Upsert{{Name: "GMAIL__SEND_EMAIL"}}, &owner); err != nil {
		t.Fatalf("create function: %v", err)
	}
	cfg, err := store.CreateConfiguration(ctx, configurationFor(project, created))
	if err != nil {
		t.Fatalf("create configuration: %v", err)
	}
	if _, err := store.CreateCredential(ctx, credentialFor(cfg)); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	// A non-owner changes nothing.
	stranger := uuid.New()
	if err := svc.DeleteApp(ctx, created.ID, stranger); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}
	if a, _ := store.GetAppByID(ctx, created.ID); a == nil {
		t.Fatalf("app must survive a non-owner delete")
	}

	if err := svc.DeleteApp(ctx, created.ID, owner); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if a, _ := store.GetAppByID(ctx, created.ID); a != nil {
		t.Fatalf("app row not removed")
	}
	if fns, _ := store.GetFunctionsByAppID(ctx, created.ID); len(fns) != 0 {
		t.Fatalf("functions not cascaded")
	}
	if c, _ := store.GetConfiguration(ctx, project, "GMAIL"); c != nil {
		t.Fatalf("configuration not cascaded")
	}
	if creds, _ := store.ListCredentialsByConfiguration(ctx, cfg.ID); len(creds) != 0 {
		t.Fatalf("credentials not cascaded")
	}
}

func TestUpsertAppSealsCredentials(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	cipher, err := encryption.NewAESGCM(encryption.StaticKey(key))
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	svc, _, _ := newTestService(t, nil, cipher)
	ctx := context.Background()

	created, err := svc.UpsertApp(ctx, app.Upsert{
		Name: "GMAIL",
		DefaultSecurityCredentialsByScheme: map[app.SecurityScheme]string{
			app.SchemeAPIKey: "super-secret",
		},
	}, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	sealed := created.DefaultSecurityCredentialsByScheme[app.SchemeAPIKey]
	if sealed == "super-secret" {
		t.Fatalf("credential stored in plaintext")
	}
	blob, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		t.Fatalf("sealed value is not base64: %v", err)
	}
	plain, err := cipher.Decrypt(blob)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(plain) != "super-secret" {
		t.Fatalf("roundtrip mismatch: %q", plain)
	}
}

func TestSetAppActiveNotFound(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)
	if err := svc.SetAppActive(context.Background(), "NOPE", false); !errors.Is(err, ErrAppNotFound) {
		t.Fatalf("expected ErrAppNotFound, got %v", err)
	}
}

func TestUpsertAppDefaultVisibility(t *testing.T) {
	svc, _, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	system, err := svc.UpsertApp(ctx, app.Upsert{Name: "SYSTEM_APP"}, nil)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if system.Visibility != app.VisibilityPublic {
		t.Fatalf("system app should default public")
	}

	owner := uuid.New()
	custom, err := svc.UpsertApp(ctx, app.Upsert{Name: "CUSTOM_APP"}, &owner)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if custom.Visibility != app.VisibilityPrivate {
		t.Fatalf("custom app should default private")
	}

	explicit, err := svc.UpsertApp(ctx, app.Upsert{Name: "CUSTOM_APP", Visibility: visPtr(app.VisibilityPublic)}, &owner)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if explicit.Visibility != app.VisibilityPublic {
		t.Fatalf("explicit visibility not honored")
	}
}
