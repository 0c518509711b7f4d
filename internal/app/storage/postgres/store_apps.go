package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/acilabs/toolcatalog/internal/app/domain/app"
	"github.com/acilabs/toolcatalog/internal/app/storage"
)

const appColumns = `apps.id, apps.name, apps.display_name, apps.provider, apps.version,
	apps.description, apps.logo, apps.categories, apps.visibility, apps.active,
	apps.security_schemes, apps.default_security_credentials, %s, apps.embedding,
	apps.created_at, apps.updated_at`

func (s *Store) appSelect() string {
	return fmt.Sprintf("SELECT "+appColumns+" FROM apps", s.ownerColumn("apps"))
}

func (s *Store) CreateApp(ctx context.Context, a app.App) (app.App, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	schemesJSON, err := marshalJSON(a.SecuritySchemes)
	if err != nil {
		return app.App{}, err
	}
	credsJSON, err := marshalJSON(a.DefaultSecurityCredentialsByScheme)
	if err != nil {
		return app.App{}, err
	}

	if !s.hasOwnerColumns {
		if a.OwnerKeyID != nil {
			s.log.Warn("owner_key_id column missing; creating app without ownership")
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO apps (id, name, display_name, provider, version, description, logo,
				categories, visibility, active, security_schemes, default_security_credentials,
				embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		`, a.ID, a.Name, a.DisplayName, a.Provider, a.Version, a.Description, a.Logo,
			pq.Array(a.Categories), a.Visibility, a.Active, schemesJSON, credsJSON,
			pgvector.NewVector(a.Embedding), a.CreatedAt, a.UpdatedAt)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO apps (id, name, display_name, provider, version, description, logo,
				categories, visibility, active, security_schemes, default_security_credentials,
				owner_key_id, embedding, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, a.ID, a.Name, a.DisplayName, a.Provider, a.Version, a.Description, a.Logo,
			pq.Array(a.Categories), a.Visibility, a.Active, schemesJSON, credsJSON,
			nullUUID(a.OwnerKeyID), pgvector.NewVector(a.Embedding), a.CreatedAt, a.UpdatedAt)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return app.App{}, fmt.Errorf("app %s: %w", a.Name, ErrDuplicate)
		}
		return app.App{}, err
	}
	return a, nil
}

func (s *Store) UpdateApp(ctx context.Context, a app.App) (app.App, error) {
	a.UpdatedAt = time.Now().UTC()

	schemesJSON, err := marshalJSON(a.SecuritySchemes)
	if err != nil {
		return app.App{}, err
	}
	credsJSON, err := marshalJSON(a.DefaultSecurityCredentialsByScheme)
	if err != nil {
		return app.App{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE apps
		SET display_name = $2, provider = $3, version = $4, description = $5, logo = $6,
			categories = $7, visibility = $8, active = $9, security_schemes = $10,
			default_security_credentials = $11, embedding = $12, updated_at = $13
		WHERE id = $1
	`, a.ID, a.DisplayName, a.Provider, a.Version, a.Description, a.Logo,
		pq.Array(a.Categories), a.Visibility, a.Active, schemesJSON, credsJSON,
		pgvector.NewVector(a.Embedding), a.UpdatedAt)
	if err != nil {
		return app.App{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return app.App{}, sql.ErrNoRows
	}
	return a, nil
}

func (s *Store) GetApp(ctx context.Context, name string, opts storage.LookupOpts) (*app.App, error) {
	args := []any{name}
	conds := []string{"apps.name = $1"}
	orderBy := "apps.created_at, apps.id"

	if opts.ActiveOnly {
		conds = append(conds, "apps.active")
	}
	if opts.PublicOnly {
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("apps.visibility = $%d", len(args)))
	}
	if opts.OwnerKeyID != nil {
		if s.hasOwnerColumns {
			where, rank := s.ownerPredicate("apps", *opts.OwnerKeyID, &args)
			conds = append(conds, where)
			orderBy = rank + ", " + orderBy
		} else {
			s.log.Warn("owner_key_id column missing; skipping ownership filter on app lookup")
		}
	}

	query := fmt.Sprintf("%s WHERE %s ORDER BY %s LIMIT 1",
		s.appSelect(), strings.Join(conds, " AND "), orderBy)
	a, err := scanApp(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAppByID(ctx context.Context, id uuid.UUID) (*app.App, error) {
	a, err := scanApp(s.db.QueryRowContext(ctx, s.appSelect()+" WHERE apps.id = $1", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetAppMatches(ctx context.Context, name string, opts storage.LookupOpts) ([]app.App, error) {
	args := []any{name}
	conds := []string{"apps.name = $1"}
	if opts.ActiveOnly {
		conds = append(conds, "apps.active")
	}
	if opts.PublicOnly {
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("apps.visibility = $%d", len(args)))
	}
	query := fmt.Sprintf("%s WHERE %s ORDER BY apps.created_at, apps.id",
		s.appSelect(), strings.Join(conds, " AND "))
	return s.queryApps(ctx, query, args...)
}

func (s *Store) GetApps(ctx context.Context, f storage.Filter) ([]app.App, error) {
	args := []any{}
	conds := []string{"TRUE"}

	if f.PublicOnly {
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("apps.visibility = $%d", len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "apps.active")
	}
	if f.Names != nil {
		conds = append(conds, inClause("apps.name", f.Names, &args))
	}
	if f.OwnerKeyID != nil {
		if s.hasOwnerColumns {
			where, _ := s.ownerPredicate("apps", *f.OwnerKeyID, &args)
			conds = append(conds, where)
		} else {
			s.log.Warn("owner_key_id column missing; skipping ownership filter on app list")
		}
	}

	query := fmt.Sprintf("%s WHERE %s ORDER BY apps.created_at, apps.id",
		s.appSelect(), strings.Join(conds, " AND "))
	query += paginate(f.Limit, f.Offset, &args)
	return s.queryApps(ctx, query, args...)
}

func (s *Store) GetAppsByOwner(ctx context.Context, ownerKeyID uuid.UUID) ([]app.App, error) {
	if !s.hasOwnerColumns {
		s.log.Warn("owner_key_id column missing; returning no owned apps")
		return nil, nil
	}
	query := s.appSelect() + " WHERE apps.owner_key_id = $1 ORDER BY apps.created_at, apps.id"
	return s.queryApps(ctx, query, ownerKeyID)
}

func (s *Store) SearchApps(ctx context.Context, f storage.SearchFilter, intent []float32) ([]storage.ScoredApp, error) {
	args := []any{}
	conds := []string{"TRUE"}

	if f.PublicOnly {
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("apps.visibility = $%d", len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "apps.active")
	}
	if f.AppNames != nil {
		conds = append(conds, inClause("apps.name", f.AppNames, &args))
	}
	if f.Categories != nil {
		args = append(args, pq.Array(f.Categories))
		conds = append(conds, fmt.Sprintf("apps.categories && $%d", len(args)))
	}

	// Without an intent vector the order is by name so pagination is stable
	// for consumers iterating the whole catalog.
	score := "NULL::float8 AS similarity_score"
	orderBy := "apps.name, apps.id"
	if intent != nil {
		args = append(args, pgvector.NewVector(intent))
		score = fmt.Sprintf("apps.embedding <=> $%d AS similarity_score", len(args))
		orderBy = "similarity_score, apps.created_at, apps.id"
	}

	query := fmt.Sprintf("SELECT "+appColumns+", %s FROM apps WHERE %s ORDER BY %s",
		s.ownerColumn("apps"), score, strings.Join(conds, " AND "), orderBy)
	query += paginate(f.Limit, f.Offset, &args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.ScoredApp
	for rows.Next() {
		a, score, err := scanScoredApp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, storage.ScoredApp{App: a, Score: score})
	}
	return result, rows.Err()
}

func (s *Store) DeleteAppByID(ctx context.Context, id uuid.UUID, ownerKeyID uuid.UUID) (bool, error) {
	if !s.hasOwnerColumns {
		s.log.Warn("owner_key_id column missing; cannot verify app ownership for delete")
		return false, nil
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM apps WHERE id = $1 AND owner_key_id = $2
	`, id, ownerKeyID)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *Store) SetAppActiveStatus(ctx context.Context, name string, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE apps SET active = $2, updated_at = $3 WHERE name = $1
	`, name, active, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) SetAppVisibility(ctx context.Context, name string, visibility app.Visibility) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE apps SET visibility = $2, updated_at = $3 WHERE name = $1
	`, name, visibility, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) queryApps(ctx context.Context, query string, args ...any) ([]app.App, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []app.App
	for rows.Next() {
		a, err := scanApp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApp(row scanner) (app.App, error) {
	var (
		a          app.App
		categories pq.StringArray
		schemesRaw []byte
		credsRaw   []byte
		owner      uuid.NullUUID
		embedding  pgvector.Vector
	)
	err := row.Scan(&a.ID, &a.Name, &a.DisplayName, &a.Provider, &a.Version, &a.Description,
		&a.Logo, &categories, &a.Visibility, &a.Active, &schemesRaw, &credsRaw,
		&owner, &embedding, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return app.App{}, err
	}
	a.Categories = categories
	a.OwnerKeyID = fromNullUUID(owner)
	a.Embedding = embedding.Slice()
	if len(schemesRaw) > 0 {
		_ = json.Unmarshal(schemesRaw, &a.SecuritySchemes)
	}
	if len(credsRaw) > 0 {
		_ = json.Unmarshal(credsRaw, &a.DefaultSecurityCredentialsByScheme)
	}
	return a, nil
}

func scanScoredApp(row scanner) (app.App, *float64, error) {
	var (
		a          app.App
		categories pq.StringArray
		schemesRaw []byte
		credsRaw   []byte
		owner      uuid.NullUUID
		embedding  pgvector.Vector
		score      sql.NullFloat64
	)
	err := row.Scan(&a.ID, &a.Name, &a.DisplayName, &a.Provider, &a.Version, &a.Description,
		&a.Logo, &categories, &a.Visibility, &a.Active, &schemesRaw, &credsRaw,
		&owner, &embedding, &a.CreatedAt, &a.UpdatedAt, &score)
	if err != nil {
		return app.App{}, nil, err
	}
	a.Categories = categories
	a.OwnerKeyID = fromNullUUID(owner)
	a.Embedding = embedding.Slice()
	if len(schemesRaw) > 0 {
		_ = json.Unmarshal(schemesRaw, &a.SecuritySchemes)
	}
	if len(credsRaw) > 0 {
		_ = json.Unmarshal(credsRaw, &a.DefaultSecurityCredentialsByScheme)
	}
	if score.Valid {
		v := score.Float64
		return a, &v, nil
	}
	return a, nil, nil
}

func paginate(limit, offset int, args *[]any) string {
	var sb strings.Builder
	if limit > 0 {
		*args = append(*args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(*args))
	}
	return sb.String()
}
