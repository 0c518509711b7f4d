package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/acilabs/toolcatalog/internal/app/domain/configuration"
)

const configurationColumns = `id, project_id, app_id, app_name, security_scheme,
	security_scheme_overrides, all_functions_enabled, enabled_functions, enabled,
	%s, created_at, updated_at`

func (s *Store) configurationSelect() string {
	return fmt.Sprintf("SELECT "+configurationColumns+" FROM app_configurations",
		s.ownerColumn("app_configurations"))
}

func (s *Store) CreateConfiguration(ctx context.Context, cfg configuration.Configuration) (configuration.Configuration, error) {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	now := time.Now().UTC()
	cfg.CreatedAt = now
	cfg.UpdatedAt = now

	overridesJSON, err := marshalJSON(cfg.SecuritySchemeOverrides)
	if err != nil {
		return configuration.Configuration{}, err
	}

	if !s.hasOwnerColumns {
		if cfg.OwnerKeyID != nil {
			s.log.Warn("owner_key_id column missing; creating configuration without ownership")
		}
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO app_configurations (id, project_id, app_id, app_name, security_scheme,
				security_scheme_overrides, all_functions_enabled, enabled_functions, enabled,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, cfg.ID, cfg.ProjectID, cfg.AppID, cfg.AppName, cfg.SecurityScheme, overridesJSON,
			cfg.AllFunctionsEnabled, pq.Array(cfg.EnabledFunctions), cfg.Enabled,
			cfg.CreatedAt, cfg.UpdatedAt)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO app_configurations (id, project_id, app_id, app_name, security_scheme,
				security_scheme_overrides, all_functions_enabled, enabled_functions, enabled,
				owner_key_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, cfg.ID, cfg.ProjectID, cfg.AppID, cfg.AppName, cfg.SecurityScheme, overridesJSON,
			cfg.AllFunctionsEnabled, pq.Array(cfg.EnabledFunctions), cfg.Enabled,
			nullUUID(cfg.OwnerKeyID), cfg.CreatedAt, cfg.UpdatedAt)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return configuration.Configuration{}, fmt.Errorf("configuration for app %s: %w", cfg.AppName, ErrDuplicate)
		}
		return configuration.Configuration{}, err
	}
	return cfg, nil
}

func (s *Store) GetConfiguration(ctx context.Context, projectID uuid.UUID, appName string) (*configuration.Configuration, error) {
	row := s.db.QueryRowContext(ctx, s.configurationSelect()+`
		WHERE project_id = $1 AND app_name = $2
	`, projectID, appName)
	cfg, err := scanConfiguration(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) ConfigurationExists(ctx context.Context, projectID uuid.UUID, appName string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM app_configurations WHERE project_id = $1 AND app_name = $2
		)
	`, projectID, appName).Scan(&exists)
	return exists, err
}

func (s *Store) ListConfigurations(ctx context.Context, projectID uuid.UUID, limit, offset int) ([]configuration.Configuration, error) {
	args := []any{projectID}
	query := s.configurationSelect() + `
		WHERE project_id = $1 ORDER BY created_at, id`
	query += paginate(limit, offset, &args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []configuration.Configuration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	return result, rows.Err()
}

func (s *Store) UpdateConfiguration(ctx context.Context, cfg configuration.Configuration) (configuration.Configuration, error) {
	cfg.UpdatedAt = time.Now().UTC()

	overridesJSON, err := marshalJSON(cfg.SecuritySchemeOverrides)
	if err != nil {
		return configuration.Configuration{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_configurations
		SET security_scheme = $2, security_scheme_overrides = $3, all_functions_enabled = $4,
			enabled_functions = $5, enabled = $6, updated_at = $7
		WHERE id = $1
	`, cfg.ID, cfg.SecurityScheme, overridesJSON, cfg.AllFunctionsEnabled,
		pq.Array(cfg.EnabledFunctions), cfg.Enabled, cfg.UpdatedAt)
	if err != nil {
		return configuration.Configuration{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return configuration.Configuration{}, sql.ErrNoRows
	}
	return cfg, nil
}

func (s *Store) DeleteConfiguration(ctx context.Context, projectID uuid.UUID, appName string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_configurations WHERE project_id = $1 AND app_name = $2
	`, projectID, appName)
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (s *Store) DeleteConfigurationsByAppID(ctx context.Context, appID uuid.UUID) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_configurations WHERE app_id = $1
	`, appID)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func (s *Store) CreateCredential(ctx context.Context, cred configuration.Credential) (configuration.Credential, error) {
	if cred.ID == uuid.Nil {
		cred.ID = uuid.New()
	}
	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_credentials (id, configuration_id, app_id, security_scheme,
			encrypted_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, cred.ID, cred.ConfigurationID, cred.AppID, cred.SecurityScheme, cred.EncryptedData,
		cred.CreatedAt, cred.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return configuration.Credential{}, fmt.Errorf("credential for scheme %s: %w", cred.SecurityScheme, ErrDuplicate)
		}
		return configuration.Credential{}, err
	}
	return cred, nil
}

func (s *Store) ListCredentialsByConfiguration(ctx context.Context, configurationID uuid.UUID) ([]configuration.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, configuration_id, app_id, security_scheme, encrypted_data, created_at, updated_at
		FROM app_credentials WHERE configuration_id = $1 ORDER BY created_at, id
	`, configurationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []configuration.Credential
	for rows.Next() {
		var cred configuration.Credential
		if err := rows.Scan(&cred.ID, &cred.ConfigurationID, &cred.AppID, &cred.SecurityScheme,
			&cred.EncryptedData, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, cred)
	}
	return result, rows.Err()
}

func (s *Store) DeleteCredentialsByAppID(ctx context.Context, appID uuid.UUID) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM app_credentials WHERE app_id = $1
	`, appID)
	if err != nil {
		return 0, err
	}
	rows, _ := result.RowsAffected()
	return int(rows), nil
}

func scanConfiguration(row scanner) (configuration.Configuration, error) {
	var (
		cfg          configuration.Configuration
		overridesRaw []byte
		enabled      pq.StringArray
		owner        uuid.NullUUID
	)
	err := row.Scan(&cfg.ID, &cfg.ProjectID, &cfg.AppID, &cfg.AppName, &cfg.SecurityScheme,
		&overridesRaw, &cfg.AllFunctionsEnabled, &enabled, &cfg.Enabled, &owner,
		&cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return configuration.Configuration{}, err
	}
	cfg.EnabledFunctions = enabled
	cfg.OwnerKeyID = fromNullUUID(owner)
	if len(overridesRaw) > 0 {
		_ = json.Unmarshal(overridesRaw, &cfg.SecuritySchemeOverrides)
	}
	return cfg, nil
}
