// Package service implements the administrative role operations on top
// of the source selector: role CRUD, matrix projection and cross-source
// migration. All writes go through full-state replace on the tenant's
// active source.
package service

import (
	"context"
	"sort"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/catalog"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
	"github.com/gatehouse-io/gatehouse/pkg/source"
	"github.com/gatehouse-io/gatehouse/pkg/tenant"
)

// ReferenceChecker reports whether a role is still referenced from
// outside the configuration engine (user assignments, client grants).
// A referenced role cannot be deleted.
type ReferenceChecker interface {
	InUse(ctx context.Context, tenantKey, roleKey string) (bool, error)
}

// NoReferences is the checker for deployments without an account store:
// every role is considered unreferenced.
type NoReferences struct{}

func (NoReferences) InUse(ctx context.Context, tenantKey, roleKey string) (bool, error) {
	return false, nil
}

// RoleDetails is one role together with its permission entries across
// all microservices.
type RoleDetails struct {
	Role        rbac.Role         `json:"role"`
	Permissions []rbac.Permission `json:"permissions"`
}

// RoleService orchestrates role administration for one tenant at a
// time. The tenant key is an explicit argument on every operation; the
// acting user rides on the context and stamps the audit fields.
type RoleService struct {
	selector *source.Selector
	catalog  catalog.Provider
	refs     ReferenceChecker
	log      *observability.Logger
	now      func() time.Time
}

func NewRoleService(selector *source.Selector, cat catalog.Provider, refs ReferenceChecker, log *observability.Logger) *RoleService {
	return &RoleService{
		selector: selector,
		catalog:  cat,
		refs:     refs,
		log:      log,
		now:      time.Now,
	}
}

// GetRoles returns the tenant's full role state.
func (s *RoleService) GetRoles(ctx context.Context, tenantKey string) (rbac.Roles, error) {
	tenantKey = tenant.Normalize(tenantKey)
	src, err := s.selector.Active(ctx, tenantKey)
	if err != nil {
		return nil, err
	}
	return src.GetRoles(ctx, tenantKey)
}

// GetRole returns one role with its permission entries.
func (s *RoleService) GetRole(ctx context.Context, tenantKey, roleKey string) (RoleDetails, error) {
	tenantKey = tenant.Normalize(tenantKey)
	src, err := s.selector.Active(ctx, tenantKey)
	if err != nil {
		return RoleDetails{}, err
	}

	roles, err := src.GetRoles(ctx, tenantKey)
	if err != nil {
		return RoleDetails{}, err
	}
	role, ok := roles[roleKey]
	if !ok {
		return RoleDetails{}, &rbac.NotFoundError{Kind: "role", Key: roleKey}
	}

	perms, err := src.GetPermissions(ctx, tenantKey)
	if err != nil {
		return RoleDetails{}, err
	}
	return RoleDetails{Role: role, Permissions: rolePermissions(perms, roleKey)}, nil
}

// AddRole creates a new role. With basedOnRoleKey set, the new role
// starts as a copy of the base role's permission entries; otherwise it
// starts empty. An existing role key is a conflict, not an upsert.
func (s *RoleService) AddRole(ctx context.Context, tenantKey string, role rbac.Role, basedOnRoleKey string) error {
	tenantKey = tenant.Normalize(tenantKey)
	src, err := s.selector.Active(ctx, tenantKey)
	if err != nil {
		return err
	}

	roles, err := src.GetRoles(ctx, tenantKey)
	if err != nil {
		return err
	}
	if _, exists := roles[role.Key]; exists {
		return &rbac.ConflictError{Reason: "role " + role.Key + " already exists"}
	}
	if basedOnRoleKey != "" {
		if _, ok := roles[basedOnRoleKey]; !ok {
			return &rbac.NotFoundError{Kind: "role", Key: basedOnRoleKey}
		}
	}

	stamp := s.now().UTC().Format(time.RFC3339)
	role.CreatedBy = tenant.UserFromContext(ctx)
	role.CreatedDate = stamp
	role.UpdatedBy = role.CreatedBy
	role.UpdatedDate = stamp
	roles[role.Key] = role

	// The role row must land before its permissions.
	if err := src.UpdateRoles(ctx, tenantKey, roles); err != nil {
		return err
	}

	if basedOnRoleKey != "" {
		perms, err := src.GetPermissions(ctx, tenantKey)
		if err != nil {
			return err
		}
		copied := rolePermissions(perms, basedOnRoleKey)
		if len(copied) > 0 {
			for i := range copied {
				copied[i].RoleKey = role.Key
			}
			if err := src.UpdatePermissions(ctx, tenantKey, replaceRolePermissions(perms, role.Key, copied)); err != nil {
				return err
			}
		}
	}

	s.log.WithFields(map[string]interface{}{
		"tenant": tenantKey,
		"role":   role.Key,
	}).Info("role created")
	return nil
}

// UpdateRole changes a role's description and, when permissions is
// non-nil, replaces the role's permission entries whole. A nil
// permissions slice leaves the existing entries untouched.
func (s *RoleService) UpdateRole(ctx context.Context, tenantKey string, role rbac.Role, permissions []rbac.Permission) error {
	tenantKey = tenant.Normalize(tenantKey)
	src, err := s.selector.Active(ctx, tenantKey)
	if err != nil {
		return err
	}

	roles, err := src.GetRoles(ctx, tenantKey)
	if err != nil {
		return err
	}
	existing, ok := roles[role.Key]
	if !ok {
		return &rbac.NotFoundError{Kind: "role", Key: role.Key}
	}

	existing.Description = role.Description
	existing.UpdatedBy = tenant.UserFromContext(ctx)
	existing.UpdatedDate = s.now().UTC().Format(time.RFC3339)
	roles[role.Key] = existing

	if err := src.UpdateRoles(ctx, tenantKey, roles); err != nil {
		return err
	}

	if permissions != nil {
		perms, err := src.GetPermissions(ctx, tenantKey)
		if err != nil {
			return err
		}
		for i := range permissions {
			permissions[i].RoleKey = role.Key
		}
		if err := src.UpdatePermissions(ctx, tenantKey, replaceRolePermissions(perms, role.Key, permissions)); err != nil {
			return err
		}
	}

	s.log.WithFields(map[string]interface{}{
		"tenant": tenantKey,
		"role":   role.Key,
	}).Info("role updated")
	return nil
}

// DeleteRole removes a role and every permission entry it owns. A role
// still referenced by accounts or clients is a conflict and nothing is
// changed.
func (s *RoleService) DeleteRole(ctx context.Context, tenantKey, roleKey string) error {
	tenantKey = tenant.Normalize(tenantKey)
	src, err := s.selector.Active(ctx, tenantKey)
	if err != nil {
		return err
	}

	roles, err := src.GetRoles(ctx, tenantKey)
	if err != nil {
		return err
	}
	if _, ok := roles[roleKey]; !ok {
		return &rbac.NotFoundError{Kind: "role", Key: roleKey}
	}

	inUse, err := s.refs.InUse(ctx, tenantKey, roleKey)
	if err != nil {
		return err
	}
	if inUse {
		return &rbac.ConflictError{Reason: "role " + roleKey + " is still assigned"}
	}

	// Permissions go first so the role row never dangles under them.
	perms, err := src.GetPermissions(ctx, tenantKey)
	if err != nil {
		return err
	}
	if err := src.UpdatePermissions(ctx, tenantKey, replaceRolePermissions(perms, roleKey, nil)); err != nil {
		return err
	}

	delete(roles, roleKey)
	if err := src.UpdateRoles(ctx, tenantKey, roles); err != nil {
		return err
	}

	s.log.WithFields(map[string]interface{}{
		"tenant": tenantKey,
		"role":   roleKey,
	}).Info("role deleted")
	return nil
}

// GetRoleMatrix projects the tenant's permission state onto the
// privilege catalog.
func (s *RoleService) GetRoleMatrix(ctx context.Context, tenantKey string) (rbac.RoleMatrix, error) {
	tenantKey = tenant.Normalize(tenantKey)
	src, err := s.selector.Active(ctx, tenantKey)
	if err != nil {
		return rbac.RoleMatrix{}, err
	}

	roles, err := src.GetRoles(ctx, tenantKey)
	if err != nil {
		return rbac.RoleMatrix{}, err
	}
	perms, err := src.GetPermissions(ctx, tenantKey)
	if err != nil {
		return rbac.RoleMatrix{}, err
	}
	privileges, err := s.catalog.Privileges(ctx)
	if err != nil {
		return rbac.RoleMatrix{}, err
	}
	return rbac.ToMatrix(roles, perms, privileges), nil
}

// UpdateRoleMatrix converts a submitted matrix into the desired
// permission state and writes it whole. Roles the matrix does not
// expose keep their current permissions untouched.
func (s *RoleService) UpdateRoleMatrix(ctx context.Context, tenantKey string, m rbac.RoleMatrix) error {
	tenantKey = tenant.Normalize(tenantKey)
	src, err := s.selector.Active(ctx, tenantKey)
	if err != nil {
		return err
	}

	current, err := src.GetPermissions(ctx, tenantKey)
	if err != nil {
		return err
	}
	if err := src.UpdatePermissions(ctx, tenantKey, rbac.FromMatrix(m, current)); err != nil {
		return err
	}

	s.log.WithField("tenant", tenantKey).Info("role matrix applied")
	return nil
}

// Migrate copies the tenant's state from its active source into every
// registered source.
func (s *RoleService) Migrate(ctx context.Context, tenantKey string) error {
	return s.selector.Migrate(ctx, tenant.Normalize(tenantKey))
}

// SeedRoleKey is the role written to a fresh tenant on startup.
const SeedRoleKey = "SUPER-ADMIN"

// SeedTenant provisions the default super-admin role for a tenant with
// no roles configured. A tenant that already has any role is left
// untouched. Seeding always goes through the default source so a
// database-mode tenant still gets its configuration documents.
func (s *RoleService) SeedTenant(ctx context.Context, tenantKey string) error {
	tenantKey = tenant.Normalize(tenantKey)
	src := s.selector.Default()

	roles, err := src.GetRoles(ctx, tenantKey)
	if err != nil {
		return err
	}
	if len(roles) > 0 {
		return nil
	}

	stamp := s.now().UTC().Format(time.RFC3339)
	if err := src.UpdateRoles(ctx, tenantKey, rbac.Roles{
		SeedRoleKey: {
			Key:         SeedRoleKey,
			Description: "Tenant administrator",
			CreatedBy:   tenant.UserFromContext(ctx),
			CreatedDate: stamp,
			UpdatedBy:   tenant.UserFromContext(ctx),
			UpdatedDate: stamp,
		},
	}); err != nil {
		return err
	}

	s.log.WithField("tenant", tenantKey).Info("tenant seeded with default role")
	return nil
}

// rolePermissions collects one role's permission entries across all
// microservices, in deterministic order.
func rolePermissions(perms rbac.Permissions, roleKey string) []rbac.Permission {
	var out []rbac.Permission
	for ms, byRole := range perms {
		for _, p := range byRole[roleKey] {
			p.MsName = ms
			p.RoleKey = roleKey
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MsName != out[j].MsName {
			return out[i].MsName < out[j].MsName
		}
		return out[i].PrivilegeKey < out[j].PrivilegeKey
	})
	return out
}

// replaceRolePermissions builds the desired full state in which one
// role's entries are exactly the given list and every other role is
// unchanged.
func replaceRolePermissions(current rbac.Permissions, roleKey string, entries []rbac.Permission) rbac.Permissions {
	desired := make(rbac.Permissions)
	for ms, byRole := range current {
		for rk, list := range byRole {
			if rk == roleKey {
				continue
			}
			msMap := desired[ms]
			if msMap == nil {
				msMap = make(map[string][]rbac.Permission)
				desired[ms] = msMap
			}
			msMap[rk] = append([]rbac.Permission(nil), list...)
		}
	}
	for _, p := range entries {
		p.RoleKey = roleKey
		msMap := desired[p.MsName]
		if msMap == nil {
			msMap = make(map[string][]rbac.Permission)
			desired[p.MsName] = msMap
		}
		msMap[roleKey] = append(msMap[roleKey], p)
	}
	return desired
}
