package rbac

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Role is a tenant role slug. The approver roles below are known to the engine; any other
// slug is carried through unranked.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleDirector   Role = "director"
	RoleManager    Role = "manager"
	RolePOApprover Role = "po_approver"
)

// LevelUnranked is the hierarchy level of roles outside the known set.
const LevelUnranked = 100

var knownLevels = map[Role]int{
	RoleOwner:      0,
	RoleAdmin:      1,
	RoleDirector:   2,
	RoleManager:    3,
	RolePOApprover: 4,
}

// ParseRole normalises a slug.
func ParseRole(slug string) Role {
	return Role(strings.ToLower(strings.TrimSpace(slug)))
}

// Level returns the default hierarchy level; lower means more authority.
func (r Role) Level() int {
	if lvl, ok := knownLevels[r]; ok {
		return lvl
	}
	return LevelUnranked
}

// Known reports whether r is one of the engine's ranked roles.
func (r Role) Known() bool {
	_, ok := knownLevels[r]
	return ok
}

// Less orders roles by authority, then by slug.
func (r Role) Less(other Role) bool {
	if r.Level() != other.Level() {
		return r.Level() < other.Level()
	}
	return r < other
}

// Grant is a role assignment as stored in the directory. Level overrides the role's
// default rank when the tenant configured one.
type Grant struct {
	Role  Role
	Level *int
}

// Actor describes a user within a tenant.
type Actor struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Roles      []Role
	Level      int
	SuperAdmin bool
}

// NewActor folds grants into an Actor. Super admins and owners are level 0.
func NewActor(tenantID, id uuid.UUID, grants []Grant, superAdmin bool) Actor {
	roles := make([]Role, 0, len(grants))
	seen := make(map[Role]struct{}, len(grants))
	for _, g := range grants {
		if _, ok := seen[g.Role]; ok {
			continue
		}
		seen[g.Role] = struct{}{}
		roles = append(roles, g.Role)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].Less(roles[j]) })
	level := MinLevel(grants)
	if superAdmin {
		level = 0
	}
	return Actor{ID: id, TenantID: tenantID, Roles: roles, Level: level, SuperAdmin: superAdmin}
}

// MinLevel returns the lowest hierarchy level across grants.
func MinLevel(grants []Grant) int {
	level := LevelUnranked
	for _, g := range grants {
		lvl := g.Role.Level()
		if g.Role != RoleOwner && g.Level != nil {
			lvl = *g.Level
		}
		if lvl < level {
			level = lvl
		}
	}
	return level
}

// Has reports whether the actor holds any of roles.
func (a Actor) Has(roles ...Role) bool {
	for _, want := range roles {
		if want == "" {
			continue
		}
		for _, got := range a.Roles {
			if got == want {
				return true
			}
		}
	}
	return false
}

// IsOwner reports whether the actor holds the owner role or is a super admin. The
// hierarchy level plays no part: tenants may rank any role at 0.
func (a Actor) IsOwner() bool {
	return a.SuperAdmin || a.Has(RoleOwner)
}

// Principal describes the authenticated actor.
type Principal interface {
	GetID() uuid.UUID
	IsSuperUser() bool
}

// GetID implements Principal.
func (a Actor) GetID() uuid.UUID { return a.ID }

// IsSuperUser implements Principal.
func (a Actor) IsSuperUser() bool { return a.SuperAdmin }
