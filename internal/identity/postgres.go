package identity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore is the durable Store backed by the shared database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if ok := asPqError(err, &pqErr); ok {
		return pqErr.Code == "23505"
	}
	return false
}

func asPqError(err error, target **pq.Error) bool {
	for err != nil {
		if pe, ok := err.(*pq.Error); ok {
			*target = pe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func (p *PostgresStore) CreateTenant(ctx context.Context, t *Tenant) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO tenants (id, code, name, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.Code, t.Name, t.Status, t.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	t := &Tenant{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, code, name, status, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Code, &t.Name, &t.Status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) GetTenantByCode(ctx context.Context, code string) (*Tenant, error) {
	t := &Tenant{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, code, name, status, created_at FROM tenants WHERE code = $1`, code).
		Scan(&t.ID, &t.Code, &t.Name, &t.Status, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant by code: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) CreateSite(ctx context.Context, s *Site) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO sites (id, tenant_id, site_code, name, publish_enabled, lock_enabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.TenantID, s.SiteCode, s.Name, s.PublishEnabled, s.LockEnabled, s.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) GetSite(ctx context.Context, tenantID, siteID string) (*Site, error) {
	s := &Site{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, site_code, name, publish_enabled, lock_enabled, created_at
		 FROM sites WHERE id = $1 AND tenant_id = $2`, siteID, tenantID).
		Scan(&s.ID, &s.TenantID, &s.SiteCode, &s.Name, &s.PublishEnabled, &s.LockEnabled, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get site: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var tenantID interface{}
	if u.TenantID != "" {
		tenantID = u.TenantID
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, tenant_id, is_platform, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.PasswordHash, tenantID, u.IsPlatform, u.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	for _, role := range u.Roles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES ($1, $2)`, u.ID, role); err != nil {
			return fmt.Errorf("insert role: %w", err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	return p.getUser(ctx, `WHERE u.id = $1`, id)
}

func (p *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return p.getUser(ctx, `WHERE u.email = $1`, NormalizeEmail(email))
}

func (p *PostgresStore) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	u := &User{}
	var tenantID sql.NullString
	err := p.db.QueryRowContext(ctx,
		`SELECT u.id, u.email, u.password_hash, u.tenant_id, u.is_platform, u.created_at
		 FROM users u `+where, arg).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &tenantID, &u.IsPlatform, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.TenantID = tenantID.String

	rows, err := p.db.QueryContext(ctx, `SELECT role FROM user_roles WHERE user_id = $1`, u.ID)
	if err != nil {
		return nil, fmt.Errorf("get roles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		u.Roles = append(u.Roles, role)
	}
	return u, rows.Err()
}
