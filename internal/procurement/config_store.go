package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atelier-erp/atelier/internal/platform/cache"
	"github.com/atelier-erp/atelier/internal/rbac"
)

// ApprovalConfigSource yields a tenant's thresholds, or nil when none are configured.
type ApprovalConfigSource interface {
	ApprovalConfig(ctx context.Context, tenantID uuid.UUID) (*ApprovalConfig, error)
}

// ConfigStore reads approval_configs through a redis cache.
type ConfigStore struct {
	pool  *pgxpool.Pool
	cache *cache.JSONCache
}

// NewConfigStore constructs the store. A nil cache reads straight from the database.
func NewConfigStore(pool *pgxpool.Pool, c *cache.JSONCache) *ConfigStore {
	return &ConfigStore{pool: pool, cache: c}
}

func (s *ConfigStore) key(tenantID uuid.UUID) string {
	return s.cache.Key("approval_config", tenantID.String())
}

// ApprovalConfig implements ApprovalConfigSource.
func (s *ConfigStore) ApprovalConfig(ctx context.Context, tenantID uuid.UUID) (*ApprovalConfig, error) {
	var cfg *ApprovalConfig
	err := s.cache.Fetch(ctx, s.key(tenantID), &cfg, func(ctx context.Context) (any, error) {
		return s.load(ctx, tenantID)
	})
	if err != nil {
		return nil, fmt.Errorf("procurement: approval config: %w", err)
	}
	return cfg, nil
}

func (s *ConfigStore) load(ctx context.Context, tenantID uuid.UUID) (*ApprovalConfig, error) {
	cfg := ApprovalConfig{TenantID: tenantID}
	var level2, level3 string
	err := s.pool.QueryRow(ctx, `SELECT level1_limit, level2_limit, COALESCE(level2_role, ''), COALESCE(level3_role, '')
FROM approval_configs WHERE tenant_id=$1`, tenantID).Scan(&cfg.Level1Limit, &cfg.Level2Limit, &level2, &level3)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cfg.Level2Role = rbac.ParseRole(level2)
	cfg.Level3Role = rbac.ParseRole(level3)
	return &cfg, nil
}

// SaveApprovalConfig upserts the tenant's thresholds and drops the cached copy.
func (s *ConfigStore) SaveApprovalConfig(ctx context.Context, cfg ApprovalConfig) error {
	if err := ValidateApprovalConfig(cfg); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO approval_configs (tenant_id, level1_limit, level2_limit, level2_role, level3_role, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), now())
ON CONFLICT (tenant_id) DO UPDATE SET level1_limit=EXCLUDED.level1_limit, level2_limit=EXCLUDED.level2_limit,
level2_role=EXCLUDED.level2_role, level3_role=EXCLUDED.level3_role, updated_at=EXCLUDED.updated_at`,
		cfg.TenantID, cfg.Level1Limit, cfg.Level2Limit, string(cfg.Level2Role), string(cfg.Level3Role))
	if err != nil {
		return fmt.Errorf("procurement: save approval config: %w", err)
	}
	return s.cache.Invalidate(ctx, s.key(cfg.TenantID))
}

// ValidateApprovalConfig checks limits are non-negative and ordered.
func ValidateApprovalConfig(cfg ApprovalConfig) error {
	if cfg.TenantID == uuid.Nil {
		return newError(CodeValidation, "tenant required")
	}
	if cfg.Level1Limit.IsNegative() || cfg.Level2Limit.IsNegative() {
		return newError(CodeValidation, "approval limits must not be negative")
	}
	if cfg.Level2Limit.IsPositive() && cfg.Level1Limit.GreaterThan(cfg.Level2Limit) {
		return newError(CodeValidation, "level1 limit must not exceed level2 limit")
	}
	return nil
}
