package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Service is the tenant user/role directory.
type Service struct {
	pool *pgxpool.Pool
}

// NewService constructs a Service backed by the provided pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

// Actor loads the actor's roles and hierarchy level.
func (s *Service) Actor(ctx context.Context, tenantID, userID uuid.UUID) (Actor, error) {
	var superAdmin bool
	err := s.pool.QueryRow(ctx, `SELECT is_super_admin FROM users WHERE tenant_id=$1 AND id=$2 AND is_active`, tenantID, userID).Scan(&superAdmin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Actor{}, ErrNotFound
		}
		return Actor{}, fmt.Errorf("rbac: load user: %w", err)
	}
	rows, err := s.pool.Query(ctx, `SELECT r.slug, r.hierarchy_level
FROM user_roles ur
JOIN roles r ON r.id = ur.role_id AND r.tenant_id = ur.tenant_id
WHERE ur.tenant_id=$1 AND ur.user_id=$2`, tenantID, userID)
	if err != nil {
		return Actor{}, fmt.Errorf("rbac: load roles: %w", err)
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var slug string
		var level *int
		if err := rows.Scan(&slug, &level); err != nil {
			return Actor{}, err
		}
		grants = append(grants, Grant{Role: ParseRole(slug), Level: level})
	}
	if err := rows.Err(); err != nil {
		return Actor{}, err
	}
	return NewActor(tenantID, userID, grants, superAdmin), nil
}

// EffectivePermissions returns the distinct permissions granted through the user's roles.
func (s *Service) EffectivePermissions(ctx context.Context, tenantID, userID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT rp.permission
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
WHERE ur.tenant_id=$1 AND ur.user_id=$2
ORDER BY rp.permission`, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: load permissions: %w", err)
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, strings.ToLower(p))
	}
	return perms, rows.Err()
}
