package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var _ Directory = (*PGDirectory)(nil)

const directoryQueryTimeout = 2 * time.Second

// PGDirectory implements Directory over the shared users table.
type PGDirectory struct {
	db *sql.DB
}

func NewPGDirectory(db *sql.DB) *PGDirectory {
	return &PGDirectory{db: db}
}

const identityColumns = `id, email, name, role, status, permissions_version, created_at, updated_at`

func (d *PGDirectory) FindByID(ctx context.Context, id string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, directoryQueryTimeout)
	defer cancel()
	row := d.db.QueryRowContext(ctx,
		`select `+identityColumns+` from users where id=$1`, id)
	return scanIdentity(row)
}

func (d *PGDirectory) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, directoryQueryTimeout)
	defer cancel()
	row := d.db.QueryRowContext(ctx,
		`select `+identityColumns+` from users where email=$1`, normalizeEmail(email))
	return scanIdentity(row)
}

func (d *PGDirectory) PermissionsVersion(ctx context.Context, id string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, directoryQueryTimeout)
	defer cancel()
	var version int64
	err := d.db.QueryRowContext(ctx,
		`select permissions_version from users where id=$1`, id).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return version, nil
}

func (d *PGDirectory) Credentials(ctx context.Context, email string) (*Identity, string, error) {
	ctx, cancel := context.WithTimeout(ctx, directoryQueryTimeout)
	defer cancel()
	row := d.db.QueryRowContext(ctx,
		`select `+identityColumns+`, password_hash from users where email=$1`, normalizeEmail(email))

	var (
		id      Identity
		rawRole string
		hash    string
	)
	err := row.Scan(&id.ID, &id.Email, &id.Name, &rawRole, &id.Status,
		&id.PermissionsVersion, &id.CreatedAt, &id.UpdatedAt, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	role, err := ParseRole(rawRole)
	if err != nil {
		return nil, "", err
	}
	id.Role = role
	return &id, hash, nil
}

func scanIdentity(row *sql.Row) (*Identity, error) {
	var (
		id      Identity
		rawRole string
	)
	err := row.Scan(&id.ID, &id.Email, &id.Name, &rawRole, &id.Status,
		&id.PermissionsVersion, &id.CreatedAt, &id.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	role, err := ParseRole(rawRole)
	if err != nil {
		return nil, err
	}
	id.Role = role
	return &id, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
