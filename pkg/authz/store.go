package authz

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned by stores when a lookup matches nothing
var ErrNotFound = errors.New("authz: not found")

// AccountStore looks up local accounts. It never creates them.
type AccountStore interface {
	// GetAccountByExternalIDOrUsername returns the active account whose external subject id
	// or username matches. An empty username never matches.
	GetAccountByExternalIDOrUsername(ctx context.Context, externalSubjectID, username string) (*LocalAccount, error)

	// RoleIDForAccount re-reads an account's role using only columns every schema version has
	RoleIDForAccount(ctx context.Context, accountID int64) (int64, error)
}

// RoleStore reads role definitions
type RoleStore interface {
	GetRoleByID(ctx context.Context, roleID int64) (*Role, error)
}

// PermissionStore reads the role -> permission mapping
type PermissionStore interface {
	// ActivePermissionsForRole honours the mapping soft-delete marker and the permission active flag
	ActivePermissionsForRole(ctx context.Context, roleID int64) ([]string, error)

	// AllPermissionsForRole ignores both filters
	AllPermissionsForRole(ctx context.Context, roleID int64) ([]string, error)
}

// SQLStore implements AccountStore, RoleStore and PermissionStore on database/sql
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a store over an open database handle
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const accountByExternalIDOrUsernameQuery = `
	SELECT id, external_subject_id, username, rol_id, estado, persona_id
	FROM usuarios
	WHERE (external_subject_id = $1 OR username = $2)
	  AND UPPER(estado) = 'ACTIVO'
	ORDER BY CASE WHEN external_subject_id = $1 THEN 0 ELSE 1 END, id
	LIMIT 1
`

// accountByUsernameQuery only touches columns that predate the identity migration
const accountByUsernameQuery = `
	SELECT id, username, rol_id, estado
	FROM usuarios
	WHERE username = $1
	  AND UPPER(estado) = 'ACTIVO'
	ORDER BY id
	LIMIT 1
`

// GetAccountByExternalIDOrUsername implements AccountStore. When the external subject column
// does not exist yet, the lookup is retried by username alone.
func (s *SQLStore) GetAccountByExternalIDOrUsername(ctx context.Context, externalSubjectID, username string) (*LocalAccount, error) {
	var account LocalAccount
	var extID sql.NullString
	var roleID, personID sql.NullInt64
	var status string

	err := s.db.QueryRowContext(ctx, accountByExternalIDOrUsernameQuery,
		nullString(externalSubjectID),
		nullString(username),
	).Scan(
		&account.AccountID,
		&extID,
		&account.Username,
		&roleID,
		&status,
		&personID,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		classified := classifyStoreError("get account", err)
		if errors.Is(classified, ErrSchemaDrift) {
			return s.getAccountByUsername(ctx, username)
		}
		return nil, classified
	}

	if extID.Valid {
		v := extID.String
		account.ExternalSubjectID = &v
	}
	if roleID.Valid {
		account.RoleID = roleID.Int64
	}
	if personID.Valid {
		v := personID.Int64
		account.LinkedPersonID = &v
	}
	account.Status = ParseAccountStatus(status)

	return &account, nil
}

func (s *SQLStore) getAccountByUsername(ctx context.Context, username string) (*LocalAccount, error) {
	if username == "" {
		return nil, ErrNotFound
	}

	var account LocalAccount
	var roleID sql.NullInt64
	var status string

	err := s.db.QueryRowContext(ctx, accountByUsernameQuery, username).Scan(
		&account.AccountID,
		&account.Username,
		&roleID,
		&status,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyStoreError("get account by username", err)
	}

	if roleID.Valid {
		account.RoleID = roleID.Int64
	}
	account.Status = ParseAccountStatus(status)

	return &account, nil
}

// RoleIDForAccount implements AccountStore
func (s *SQLStore) RoleIDForAccount(ctx context.Context, accountID int64) (int64, error) {
	var roleID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT rol_id FROM usuarios WHERE id = $1`, accountID).Scan(&roleID)
	if err == sql.ErrNoRows || (err == nil && !roleID.Valid) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, classifyStoreError("get account role", err)
	}
	return roleID.Int64, nil
}

// GetRoleByID implements RoleStore
func (s *SQLStore) GetRoleByID(ctx context.Context, roleID int64) (*Role, error) {
	var role Role
	var name sql.NullString

	err := s.db.QueryRowContext(ctx, `SELECT id, codigo, nombre FROM roles WHERE id = $1`, roleID).Scan(
		&role.RoleID,
		&role.Code,
		&name,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyStoreError("get role", err)
	}
	role.Name = name.String

	return &role, nil
}

const activePermissionsQuery = `
	SELECT DISTINCT p.codigo
	FROM roles_permisos rp
	JOIN permisos p ON p.id = rp.permiso_id
	WHERE rp.rol_id = $1
	  AND rp.deleted_at IS NULL
	  AND p.activo = TRUE
	ORDER BY p.codigo
`

const allPermissionsQuery = `
	SELECT DISTINCT p.codigo
	FROM roles_permisos rp
	JOIN permisos p ON p.id = rp.permiso_id
	WHERE rp.rol_id = $1
	ORDER BY p.codigo
`

// ActivePermissionsForRole implements PermissionStore
func (s *SQLStore) ActivePermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	return s.queryCodes(ctx, "active permissions", activePermissionsQuery, roleID)
}

// AllPermissionsForRole implements PermissionStore
func (s *SQLStore) AllPermissionsForRole(ctx context.Context, roleID int64) ([]string, error) {
	return s.queryCodes(ctx, "all permissions", allPermissionsQuery, roleID)
}

func (s *SQLStore) queryCodes(ctx context.Context, op, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyStoreError(op, err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, classifyStoreError(op, err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyStoreError(op, err)
	}

	return codes, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

