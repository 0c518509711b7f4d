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
	"github.com/acilabs/toolcatalog/internal/app/domain/function"
	"github.com/acilabs/toolcatalog/internal/app/storage"
)

const functionColumns = `functions.id, functions.app_id, functions.name, functions.description,
	functions.tags, functions.visibility, functions.active, functions.protocol,
	functions.protocol_data, functions.parameters, functions.response, %s,
	functions.embedding, functions.created_at, functions.updated_at`

func (s *Store) functionSelect() string {
	return fmt.Sprintf("SELECT "+functionColumns+" FROM functions", s.ownerColumn("functions"))
}

func (s *Store) CreateFunctions(ctx context.Context, fns []function.Function) ([]function.Function, error) {
	now := time.Now().UTC()
	created := make([]function.Function, 0, len(fns))
	for _, fn := range fns {
		if fn.ID == uuid.Nil {
			fn.ID = uuid.New()
		}
		fn.CreatedAt = now
		fn.UpdatedAt = now

		protocolJSON, err := marshalJSON(fn.ProtocolData)
		if err != nil {
			return nil, err
		}
		paramsJSON, err := marshalJSON(fn.Parameters)
		if err != nil {
			return nil, err
		}
		responseJSON, err := marshalJSON(fn.Response)
		if err != nil {
			return nil, err
		}

		if !s.hasOwnerColumns {
			_, err = s.db.ExecContext(ctx, `
				INSERT INTO functions (id, app_id, name, description, tags, visibility, active,
					protocol, protocol_data, parameters, response, embedding, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			`, fn.ID, fn.AppID, fn.Name, fn.Description, pq.Array(fn.Tags), fn.Visibility,
				fn.Active, fn.Protocol, protocolJSON, paramsJSON, responseJSON,
				pgvector.NewVector(fn.Embedding), fn.CreatedAt, fn.UpdatedAt)
		} else {
			_, err = s.db.ExecContext(ctx, `
				INSERT INTO functions (id, app_id, name, description, tags, visibility, active,
					protocol, protocol_data, parameters, response, owner_key_id, embedding,
					created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			`, fn.ID, fn.AppID, fn.Name, fn.Description, pq.Array(fn.Tags), fn.Visibility,
				fn.Active, fn.Protocol, protocolJSON, paramsJSON, responseJSON,
				nullUUID(fn.OwnerKeyID), pgvector.NewVector(fn.Embedding), fn.CreatedAt, fn.UpdatedAt)
		}
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("function %s: %w", fn.Name, ErrDuplicate)
			}
			return nil, err
		}
		created = append(created, fn)
	}
	return created, nil
}

func (s *Store) UpdateFunction(ctx context.Context, fn function.Function) (function.Function, error) {
	fn.UpdatedAt = time.Now().UTC()

	protocolJSON, err := marshalJSON(fn.ProtocolData)
	if err != nil {
		return function.Function{}, err
	}
	paramsJSON, err := marshalJSON(fn.Parameters)
	if err != nil {
		return function.Function{}, err
	}
	responseJSON, err := marshalJSON(fn.Response)
	if err != nil {
		return function.Function{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE functions
		SET description = $2, tags = $3, visibility = $4, active = $5, protocol = $6,
			protocol_data = $7, parameters = $8, response = $9, embedding = $10, updated_at = $11
		WHERE id = $1
	`, fn.ID, fn.Description, pq.Array(fn.Tags), fn.Visibility, fn.Active, fn.Protocol,
		protocolJSON, paramsJSON, responseJSON, pgvector.NewVector(fn.Embedding), fn.UpdatedAt)
	if err != nil {
		return function.Function{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return function.Function{}, sql.ErrNoRows
	}
	return fn, nil
}

// GetFunction fetches all rows sharing the name and applies the three-tier
// ownership fallback: caller-owned, then the platform fallback owner, then
// the first remaining match in stable order.
func (s *Store) GetFunction(ctx context.Context, name string, opts storage.LookupOpts) (*function.Function, error) {
	matches, err := s.GetFunctionMatches(ctx, name, storage.LookupOpts{
		PublicOnly: opts.PublicOnly,
		ActiveOnly: opts.ActiveOnly,
	})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	if opts.OwnerKeyID != nil {
		for i := range matches {
			if matches[i].OwnerKeyID != nil && *matches[i].OwnerKeyID == *opts.OwnerKeyID {
				return &matches[i], nil
			}
		}
	}
	for i := range matches {
		if ownerEqual(matches[i].OwnerKeyID, s.platformKeyID) {
			return &matches[i], nil
		}
	}
	return &matches[0], nil
}

func ownerEqual(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Store) GetFunctionByID(ctx context.Context, id uuid.UUID) (*function.Function, error) {
	fn, err := scanFunction(s.db.QueryRowContext(ctx, s.functionSelect()+" WHERE functions.id = $1", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fn, nil
}

func (s *Store) GetFunctionMatches(ctx context.Context, name string, opts storage.LookupOpts) ([]function.Function, error) {
	args := []any{name}
	conds := []string{"functions.name = $1"}
	join := ""
	if opts.ActiveOnly || opts.PublicOnly {
		join = " JOIN apps ON functions.app_id = apps.id"
	}
	if opts.ActiveOnly {
		conds = append(conds, "apps.active", "functions.active")
	}
	if opts.PublicOnly {
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("apps.visibility = $%d", len(args)))
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("functions.visibility = $%d", len(args)))
	}
	query := fmt.Sprintf("%s%s WHERE %s ORDER BY functions.created_at, functions.id",
		s.functionSelect(), join, strings.Join(conds, " AND "))
	return s.queryFunctions(ctx, query, args...)
}

func (s *Store) GetFunctions(ctx context.Context, f storage.Filter) ([]function.Function, error) {
	args := []any{}
	conds := []string{"TRUE"}
	join := " JOIN apps ON functions.app_id = apps.id"

	if f.Names != nil {
		conds = append(conds, inClause("apps.name", f.Names, &args))
	}
	if f.PublicOnly {
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("apps.visibility = $%d", len(args)))
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("functions.visibility = $%d", len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "apps.active", "functions.active")
	}
	if f.OwnerKeyID != nil {
		if s.hasOwnerColumns {
			where, _ := s.ownerPredicate("functions", *f.OwnerKeyID, &args)
			conds = append(conds, where)
		} else {
			s.log.Warn("owner_key_id column missing; skipping ownership filter on function list")
		}
	}

	query := fmt.Sprintf("%s%s WHERE %s ORDER BY functions.name",
		s.functionSelect(), join, strings.Join(conds, " AND "))
	query += paginate(f.Limit, f.Offset, &args)
	return s.queryFunctions(ctx, query, args...)
}

func (s *Store) GetFunctionsByAppID(ctx context.Context, appID uuid.UUID) ([]function.Function, error) {
	query := s.functionSelect() + " WHERE functions.app_id = $1 ORDER BY functions.created_at, functions.id"
	return s.queryFunctions(ctx, query, appID)
}

func (s *Store) GetFunctionsByNames(ctx context.Context, names []string, opts storage.LookupOpts) ([]function.Function, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := []any{}
	conds := []string{inClause("functions.name", names, &args)}
	join := ""
	if opts.ActiveOnly || opts.PublicOnly {
		join = " JOIN apps ON functions.app_id = apps.id"
	}
	if opts.ActiveOnly {
		conds = append(conds, "apps.active", "functions.active")
	}
	if opts.PublicOnly {
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("apps.visibility = $%d", len(args)))
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("functions.visibility = $%d", len(args)))
	}
	query := fmt.Sprintf("%s%s WHERE %s ORDER BY functions.name",
		s.functionSelect(), join, strings.Join(conds, " AND "))
	return s.queryFunctions(ctx, query, args...)
}

func (s *Store) GetFunctionsByOwner(ctx context.Context, ownerKeyID uuid.UUID) ([]function.Function, error) {
	if !s.hasOwnerColumns {
		s.log.Warn("owner_key_id column missing; returning no owned functions")
		return nil, nil
	}
	query := s.functionSelect() + " WHERE functions.owner_key_id = $1 ORDER BY functions.created_at, functions.id"
	return s.queryFunctions(ctx, query, ownerKeyID)
}

func (s *Store) SearchFunctions(ctx context.Context, f storage.SearchFilter, intent []float32) ([]storage.ScoredFunction, error) {
	args := []any{}
	conds := []string{"TRUE"}

	if f.ActiveOnly {
		conds = append(conds, "apps.active", "functions.active")
	}
	if f.PublicOnly {
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("apps.visibility = $%d", len(args)))
		args = append(args, app.VisibilityPublic)
		conds = append(conds, fmt.Sprintf("functions.visibility = $%d", len(args)))
	}
	if f.FunctionNames != nil {
		conds = append(conds, inClause("functions.name", f.FunctionNames, &args))
	}
	if f.AppNames != nil {
		conds = append(conds, inClause("apps.name", f.AppNames, &args))
	}
	if f.ExcludeOwnerOwned {
		if s.hasOwnerColumns {
			conds = append(conds, "functions.owner_key_id IS NULL")
		} else {
			s.log.Warn("owner_key_id column missing; cannot exclude tenant-owned functions")
		}
	}

	score := "NULL::float8 AS similarity_score"
	orderBy := "functions.name, functions.id"
	if intent != nil {
		args = append(args, pgvector.NewVector(intent))
		score = fmt.Sprintf("functions.embedding <=> $%d AS similarity_score", len(args))
		orderBy = "similarity_score, functions.created_at, functions.id"
	}

	query := fmt.Sprintf(
		"SELECT "+functionColumns+", %s FROM functions JOIN apps ON functions.app_id = apps.id WHERE %s ORDER BY %s",
		s.ownerColumn("functions"), score, strings.Join(conds, " AND "), orderBy)
	query += paginate(f.Limit, f.Offset, &args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []storage.ScoredFunction
	for rows.Next() {
		fn, score, err := scanScoredFunction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, storage.ScoredFunction{Function: fn, Score: score})
	}
	return result, rows.Err()
}

func (s *Store) DeleteFunctionByID(ctx context.Context, id uuid.UUID, ownerKeyID uuid.UUID) (bool, error) {
	if !s.hasOwnerColumns {
		s.log.Warn("owner_key_id column missing; cannot verify function ownership for delete")
		return false, nil
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM functions WHERE id = $1 AND owner_key_id = $2
	`, id, ownerKeyID)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *Store) DeleteFunctionsByAppID(ctx context.Context, appID uuid.UUID, ownerKeyID *uuid.UUID) (int, error) {
	args := []any{appID}
	query := "DELETE FROM functions WHERE app_id = $1"
	if ownerKeyID != nil {
		if s.hasOwnerColumns {
			args = append(args, *ownerKeyID)
			query += fmt.Sprintf(" AND owner_key_id = $%d", len(args))
		} else {
			s.log.Warn("owner_key_id column missing; deleting app functions without ownership filter")
		}
	}
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (s *Store) SetFunctionActiveStatus(ctx context.Context, name string, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE functions SET active = $2, updated_at = $3 WHERE name = $1
	`, name, active, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) SetFunctionVisibility(ctx context.Context, name string, visibility app.Visibility) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE functions SET visibility = $2, updated_at = $3 WHERE name = $1
	`, name, visibility, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) queryFunctions(ctx context.Context, query string, args ...any) ([]function.Function, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []function.Function
	for rows.Next() {
		fn, err := scanFunction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, fn)
	}
	return result, rows.Err()
}

func scanFunction(row scanner) (function.Function, error) {
	var (
		fn           function.Function
		tags         pq.StringArray
		protocolRaw  []byte
		paramsRaw    []byte
		responseRaw  []byte
		owner        uuid.NullUUID
		embedding    pgvector.Vector
	)
	err := row.Scan(&fn.ID, &fn.AppID, &fn.Name, &fn.Description, &tags, &fn.Visibility,
		&fn.Active, &fn.Protocol, &protocolRaw, &paramsRaw, &responseRaw, &owner,
		&embedding, &fn.CreatedAt, &fn.UpdatedAt)
	if err != nil {
		return function.Function{}, err
	}
	fn.Tags = tags
	fn.OwnerKeyID = fromNullUUID(owner)
	fn.Embedding = embedding.Slice()
	if len(protocolRaw) > 0 {
		_ = json.Unmarshal(protocolRaw, &fn.ProtocolData)
	}
	if len(paramsRaw) > 0 {
		_ = json.Unmarshal(paramsRaw, &fn.Parameters)
	}
	if len(responseRaw) > 0 {
		_ = json.Unmarshal(responseRaw, &fn.Response)
	}
	return fn, nil
}

func scanScoredFunction(row scanner) (function.Function, *float64, error) {
	var (
		fn          function.Function
		tags        pq.StringArray
		protocolRaw []byte
		paramsRaw   []byte
		responseRaw []byte
		owner       uuid.NullUUID
		embedding   pgvector.Vector
		score       sql.NullFloat64
	)
	err := row.Scan(&fn.ID, &fn.AppID, &fn.Name, &fn.Description, &tags, &fn.Visibility,
		&fn.Active, &fn.Protocol, &protocolRaw, &paramsRaw, &responseRaw, &owner,
		&embedding, &fn.CreatedAt, &fn.UpdatedAt, &score)
	if err != nil {
		return function.Function{}, nil, err
	}
	fn.Tags = tags
	fn.OwnerKeyID = fromNullUUID(owner)
	fn.Embedding = embedding.Slice()
	if len(protocolRaw) > 0 {
		_ = json.Unmarshal(protocolRaw, &fn.ProtocolData)
	}
	if len(paramsRaw) > 0 {
		_ = json.Unmarshal(paramsRaw, &fn.Parameters)
	}
	if len(responseRaw) > 0 {
		_ = json.Unmarshal(responseRaw, &fn.Response)
	}
	if score.Valid {
		v := score.Float64
		return fn, &v, nil
	}
	return fn, nil, nil
}
