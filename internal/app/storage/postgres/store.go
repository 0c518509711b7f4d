// Package postgres implements the storage interfaces backed by PostgreSQL
// with the pgvector extension.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/acilabs/toolcatalog/internal/app/storage"
	"github.com/acilabs/toolcatalog/pkg/logger"
)

// uniqueViolation is the class 23 integrity error raised on duplicate keys.
const uniqueViolation = "23505"

// ErrDuplicate aliases the shared storage sentinel so callers of this
// package can match it without importing storage.
var ErrDuplicate = storage.ErrDuplicate

// dbtx is satisfied by *sql.DB and *sql.Tx so the same store methods work
// inside and outside an explicit transaction. The store never commits;
// transaction lifecycle belongs to the caller.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Options configure a Store.
type Options struct {
	// PlatformKeyID is the distinguished fallback owner used when resolving
	// bare-name lookups. Nil means system rows (null owner) are the only
	// fallback tier.
	PlatformKeyID *uuid.UUID
	Logger        *logger.Logger
}

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  dbtx
	sdb *sql.DB

	platformKeyID *uuid.UUID
	log           *logger.Logger

	// hasOwnerColumns records whether the forward-compatible owner_key_id
	// migration has been applied. When false, every ownership-dependent
	// operation degrades to unfiltered or empty behavior instead of failing.
	hasOwnerColumns bool
}

var _ storage.AppStore = (*Store)(nil)
var _ storage.FunctionStore = (*Store)(nil)
var _ storage.ConfigurationStore = (*Store)(nil)
var _ storage.Transactor = (*Store)(nil)

// New creates a Store using the provided database handle. Call
// DetectCapabilities before serving traffic so schema drift is discovered
// once at startup rather than per query.
func New(db *sql.DB, opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("postgres")
	}
	return &Store{
		db:              db,
		sdb:             db,
		platformKeyID:   opts.PlatformKeyID,
		log:             log,
		hasOwnerColumns: true,
	}
}

// WithTx returns a copy of the store bound to the given transaction. Writes
// issued through the copy are committed or rolled back by the caller.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	clone := *s
	clone.db = tx
	return &clone
}

// BeginTx opens a transaction on the underlying database.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	if s.sdb == nil {
		return nil, errors.New("store is not bound to a database handle")
	}
	return s.sdb.BeginTx(ctx, nil)
}

// InTransaction runs fn against a transaction-bound copy of the store,
// committing only when fn succeeds.
func (s *Store) InTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	sqlTx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	bound := s.WithTx(sqlTx)
	if err := fn(storage.Tx{Apps: bound, Functions: bound, Configurations: bound}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.log.WithError(rbErr).Warn("transaction rollback failed")
		}
		return err
	}
	return sqlTx.Commit()
}

// DetectCapabilities introspects the live schema once and records which
// optional columns exist. Rolling upgrades may serve traffic before the
// owner_key_id migration lands; the store must keep answering queries.
func (s *Store) DetectCapabilities(ctx context.Context) error {
	const q = `
		SELECT count(*)
		FROM information_schema.columns
		WHERE table_name IN ('apps', 'functions', 'app_configurations')
			AND column_name = 'owner_key_id'
	`
	var n int
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return fmt.Errorf("introspect schema: %w", err)
	}
	s.hasOwnerColumns = n >= 3
	if !s.hasOwnerColumns {
		s.log.Warn("owner_key_id columns not present; ownership filtering disabled")
	}
	return nil
}

// SetOwnerColumns overrides the capability flag. Intended for tests and for
// configuration-driven deployments that skip introspection.
func (s *Store) SetOwnerColumns(present bool) {
	s.hasOwnerColumns = present
}

// ownerColumn returns the select-list expression for the owner column,
// degrading to a NULL literal when the migration has not run.
func (s *Store) ownerColumn(table string) string {
	if s.hasOwnerColumns {
		return table + ".owner_key_id"
	}
	return "NULL::uuid"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}

// ownerPredicate builds the caller-or-fallback clause and the matching
// priority expression used to sort the caller's own row first. args must
// already hold len(args) placeholders; returned SQL references the next
// indices.
func (s *Store) ownerPredicate(table string, caller uuid.UUID, args *[]any) (where, orderBy string) {
	*args = append(*args, caller)
	callerIdx := len(*args)

	col := table + ".owner_key_id"
	if s.platformKeyID != nil {
		*args = append(*args, *s.platformKeyID)
		platformIdx := len(*args)
		where = fmt.Sprintf("(%s = $%d OR %s = $%d OR %s IS NULL)", col, callerIdx, col, platformIdx, col)
		orderBy = fmt.Sprintf(
			"CASE WHEN %s = $%d THEN 0 WHEN %s = $%d THEN 1 ELSE 2 END",
			col, callerIdx, col, platformIdx,
		)
		return where, orderBy
	}
	where = fmt.Sprintf("(%s = $%d OR %s IS NULL)", col, callerIdx, col)
	orderBy = fmt.Sprintf("CASE WHEN %s = $%d THEN 0 WHEN %s IS NULL THEN 1 ELSE 2 END", col, callerIdx, col)
	return where, orderBy
}

func inClause(column string, values []string, args *[]any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		*args = append(*args, v)
		placeholders[i] = fmt.Sprintf("$%d", len(*args))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
}
