package procurement

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/atelier-erp/atelier/internal/rbac"
)

// approverRoles may approve or reject regardless of tenant configuration.
var approverRoles = []rbac.Role{rbac.RoleOwner, rbac.RoleAdmin, rbac.RoleManager, rbac.RoleDirector, rbac.RolePOApprover}

var amountPrinter = message.NewPrinter(language.English)

func formatAmount(v decimal.Decimal) string {
	return amountPrinter.Sprintf("%.2f", v.InexactFloat64())
}

// AuthorizeApproval decides whether actor may approve po. cfg may be nil, in which case
// only the role gate applies.
func AuthorizeApproval(actor rbac.Actor, po PurchaseOrder, cfg *ApprovalConfig) error {
	if err := guardSelfApproval(actor, po.CreatedBy); err != nil {
		return err
	}
	if err := checkThresholds(actor, po.Total, cfg); err != nil {
		return err
	}
	return checkApproverRole(actor, cfg)
}

// AuthorizeRejection applies the role gate only; any qualified approver may reject at any
// amount.
func AuthorizeRejection(actor rbac.Actor, cfg *ApprovalConfig) error {
	return checkApproverRole(actor, cfg)
}

func guardSelfApproval(actor rbac.Actor, creator uuid.UUID) error {
	if actor.ID != creator || isOwnerOrAdmin(actor) {
		return nil
	}
	return newError(CodeSelfApprovalForbidden, "creator cannot approve their own purchase order")
}

func checkThresholds(actor rbac.Actor, total decimal.Decimal, cfg *ApprovalConfig) error {
	if cfg == nil {
		return nil
	}
	switch {
	case cfg.Level2Limit.IsPositive() && total.GreaterThan(cfg.Level2Limit):
		required := firstRole(cfg.Level3Role, rbac.RoleAdmin)
		if isOwnerOrAdmin(actor) || actor.Has(cfg.Level3Role) {
			return nil
		}
		return insufficient(required, total, cfg.Level2Limit)
	case cfg.Level1Limit.IsPositive() && total.GreaterThan(cfg.Level1Limit):
		required := firstRole(cfg.Level2Role, cfg.Level3Role, rbac.RoleAdmin)
		if isOwnerOrAdmin(actor) || actor.Has(cfg.Level2Role, cfg.Level3Role) {
			return nil
		}
		return insufficient(required, total, cfg.Level1Limit)
	}
	return nil
}

func checkApproverRole(actor rbac.Actor, cfg *ApprovalConfig) error {
	if actor.IsOwner() || actor.Has(approverRoles...) {
		return nil
	}
	if cfg != nil && actor.Has(cfg.Level2Role, cfg.Level3Role) {
		return nil
	}
	return newError(CodeForbiddenRole, "actor holds no approver role")
}

func insufficient(required rbac.Role, total, limit decimal.Decimal) error {
	return &Error{
		Code:         CodeInsufficientApprovalLevel,
		Message:      amountPrinter.Sprintf("total %s exceeds approval limit %s, role %s required", formatAmount(total), formatAmount(limit), required),
		RequiredRole: required,
	}
}

func isOwnerOrAdmin(actor rbac.Actor) bool {
	return actor.IsOwner() || actor.Has(rbac.RoleAdmin)
}

func firstRole(roles ...rbac.Role) rbac.Role {
	for _, r := range roles {
		if r != "" {
			return r
		}
	}
	return ""
}
