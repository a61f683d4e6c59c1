// Package database implements the relational configuration source: full
// tenant state reads from the role/permission tables and write-by-
// reconciliation inside a single transaction.
package database

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

const (
	selectRolesQuery = `
		SELECT id, role_key, description, created_by, created_date, updated_by, updated_date
		FROM rbac_roles
		WHERE tenant = $1
		ORDER BY role_key`

	insertRoleQuery = `
		INSERT INTO rbac_roles (tenant, role_key, description, created_by, created_date, updated_by, updated_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	updateRoleQuery = `
		UPDATE rbac_roles
		SET description = $1, created_by = $2, created_date = $3, updated_by = $4, updated_date = $5
		WHERE id = $6`

	deleteRoleQuery = `DELETE FROM rbac_roles WHERE id = $1`

	selectPermissionsQuery = `
		SELECT p.id, r.role_key, p.ms_name, p.privilege_key, p.disabled, p.env_condition, p.resource_condition, p.reaction_strategy
		FROM rbac_permissions p
		JOIN rbac_roles r ON r.id = p.role_id
		WHERE p.tenant = $1
		ORDER BY p.id`

	insertPermissionQuery = `
		INSERT INTO rbac_permissions (tenant, role_id, ms_name, privilege_key, disabled, env_condition, resource_condition, reaction_strategy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	updatePermissionQuery = `
		UPDATE rbac_permissions
		SET disabled = $1, env_condition = $2, resource_condition = $3, reaction_strategy = $4
		WHERE id = $5`

	deletePermissionQuery = `DELETE FROM rbac_permissions WHERE id = $1`

	deleteRolePermissionsQuery = `DELETE FROM rbac_permissions WHERE role_id = $1`
)

// Source serves tenant state from the relational tables. Writes diff the
// desired full state against the stored rows and apply the delta inside
// one transaction, updating shared rows in place so row identity
// survives a reconfiguration.
type Source struct {
	db      *sql.DB
	log     *observability.Logger
	metrics *observability.Metrics
}

func NewSource(db *sql.DB, log *observability.Logger, metrics *observability.Metrics) *Source {
	return &Source{db: db, log: log, metrics: metrics}
}

func (s *Source) Mode() rbac.Mode { return rbac.ModeDatabase }

// roleRow pairs a stored role with its row id.
type roleRow struct {
	id   int64
	role rbac.Role
}

// permRow pairs a stored permission with its row id.
type permRow struct {
	id   int64
	perm rbac.Permission
}

// GetRoles returns the tenant's full role state.
func (s *Source) GetRoles(ctx context.Context, tenantKey string) (_ rbac.Roles, err error) {
	defer s.observe("getRoles", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, selectRolesQuery, tenantKey)
	if err != nil {
		return nil, &rbac.SourceUnavailableError{Mode: rbac.ModeDatabase, Err: err}
	}
	defer rows.Close()

	roles := make(rbac.Roles)
	for rows.Next() {
		var r roleRow
		if err := rows.Scan(&r.id, &r.role.Key, &r.role.Description, &r.role.CreatedBy, &r.role.CreatedDate, &r.role.UpdatedBy, &r.role.UpdatedDate); err != nil {
			return nil, &rbac.SourceUnavailableError{Mode: rbac.ModeDatabase, Err: err}
		}
		roles[r.role.Key] = r.role
	}
	if err := rows.Err(); err != nil {
		return nil, &rbac.SourceUnavailableError{Mode: rbac.ModeDatabase, Err: err}
	}
	return roles, nil
}

// GetPermissions returns the tenant's full permission state in the
// nested msName -> roleKey -> permissions shape.
func (s *Source) GetPermissions(ctx context.Context, tenantKey string) (_ rbac.Permissions, err error) {
	defer s.observe("getPermissions", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, selectPermissionsQuery, tenantKey)
	if err != nil {
		return nil, &rbac.SourceUnavailableError{Mode: rbac.ModeDatabase, Err: err}
	}
	defer rows.Close()

	perms := make(rbac.Permissions)
	for rows.Next() {
		var p permRow
		if err := rows.Scan(&p.id, &p.perm.RoleKey, &p.perm.MsName, &p.perm.PrivilegeKey, &p.perm.Disabled, &p.perm.EnvCondition, &p.perm.ResourceCondition, &p.perm.ReactionStrategy); err != nil {
			return nil, &rbac.SourceUnavailableError{Mode: rbac.ModeDatabase, Err: err}
		}
		byRole := perms[p.perm.MsName]
		if byRole == nil {
			byRole = make(map[string][]rbac.Permission)
			perms[p.perm.MsName] = byRole
		}
		byRole[p.perm.RoleKey] = append(byRole[p.perm.RoleKey], p.perm)
	}
	if err := rows.Err(); err != nil {
		return nil, &rbac.SourceUnavailableError{Mode: rbac.ModeDatabase, Err: err}
	}
	return perms, nil
}

// UpdateRoles reconciles the stored role rows against the desired full
// state inside one transaction. Roles present in both keep their row id
// and are overwritten in place; removed roles take their permission rows
// with them.
func (s *Source) UpdateRoles(ctx context.Context, tenantKey string, desired rbac.Roles) (err error) {
	start := time.Now()
	defer s.observe("updateRoles", start, &err)
	defer func() {
		s.metrics.ReconcileDuration.WithLabelValues("role").Observe(time.Since(start).Seconds())
	}()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return &rbac.SourceUnavailableError{Mode: rbac.ModeDatabase, Err: err}
	}
	defer tx.Rollback()

	stored, err := loadRoleRows(ctx, tx, tenantKey)
	if err != nil {
		return s.reconcileFailed("role", err)
	}

	current := make(rbac.Roles, len(stored))
	for key, row := range stored {
		current[key] = row.role
	}
	delta := rbac.Reconcile(current, desired, rbac.RoleEqual)

	for _, key := range sortedKeys(delta.ToAdd) {
		role := delta.ToAdd[key]
		if _, err := tx.ExecContext(ctx, insertRoleQuery,
			tenantKey, key, role.Description, role.CreatedBy, role.CreatedDate, role.UpdatedBy, role.UpdatedDate,
		); err != nil {
			return s.reconcileFailed("role", err)
		}
	}
	for _, key := range sortedKeys(delta.ToUpdate) {
		role := delta.ToUpdate[key]
		if _, err := tx.ExecContext(ctx, updateRoleQuery,
			role.Description, role.CreatedBy, role.CreatedDate, role.UpdatedBy, role.UpdatedDate, stored[key].id,
		); err != nil {
			return s.reconcileFailed("role", err)
		}
	}
	for _, key := range sortedKeys(delta.ToDelete) {
		id := stored[key].id
		if _, err := tx.ExecContext(ctx, deleteRolePermissionsQuery, id); err != nil {
			return s.reconcileFailed("role", err)
		}
		if _, err := tx.ExecContext(ctx, deleteRoleQuery, id); err != nil {
			return s.reconcileFailed("role", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return s.reconcileFailed("role", err)
	}

	s.countDelta("role", len(delta.ToAdd), len(delta.ToUpdate), len(delta.ToDelete))
	return nil
}

// UpdatePermissions reconciles the stored permission rows against the
// desired full state inside one transaction. Every desired permission
// must reference an existing role; a dangling reference rolls the whole
// transaction back.
func (s *Source) UpdatePermissions(ctx context.Context, tenantKey string, desired rbac.Permissions) (err error) {
	start := time.Now()
	defer s.observe("updatePermissions", start, &err)
	defer func() {
		s.metrics.ReconcileDuration.WithLabelValues("permission").Observe(time.Since(start).Seconds())
	}()

	desiredByRole, err := rbac.FlattenPermissions(desired)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return &rbac.SourceUnavailableError{Mode: rbac.ModeDatabase, Err: err}
	}
	defer tx.Rollback()

	roles, err := loadRoleRows(ctx, tx, tenantKey)
	if err != nil {
		return s.reconcileFailed("permission", err)
	}
	for roleKey := range desiredByRole {
		if _, ok := roles[roleKey]; !ok {
			s.metrics.ReconcileFailuresTotal.WithLabelValues("permission", string(rbac.ModeDatabase)).Inc()
			return &rbac.IntegrityError{Reason: "permission references nonexistent role " + roleKey}
		}
	}

	currentByRole, err := loadPermRows(ctx, tx, tenantKey)
	if err != nil {
		return s.reconcileFailed("permission", err)
	}

	var added, updated, deleted int
	for _, roleKey := range unionRoleKeys(currentByRole, desiredByRole) {
		stored := currentByRole[roleKey]
		current := make(map[rbac.PermissionID]rbac.Permission, len(stored))
		for id, row := range stored {
			current[id] = row.perm
		}
		delta := rbac.Reconcile(current, desiredByRole[roleKey], rbac.PermissionEqual)

		for _, id := range sortedPermissionIDs(delta.ToAdd) {
			p := delta.ToAdd[id]
			if _, err := tx.ExecContext(ctx, insertPermissionQuery,
				tenantKey, roles[roleKey].id, p.MsName, p.PrivilegeKey, p.Disabled, p.EnvCondition, p.ResourceCondition, string(p.ReactionStrategy),
			); err != nil {
				return s.reconcileFailed("permission", err)
			}
		}
		for _, id := range sortedPermissionIDs(delta.ToUpdate) {
			p := delta.ToUpdate[id]
			if _, err := tx.ExecContext(ctx, updatePermissionQuery,
				p.Disabled, p.EnvCondition, p.ResourceCondition, string(p.ReactionStrategy), stored[id].id,
			); err != nil {
				return s.reconcileFailed("permission", err)
			}
		}
		for _, id := range sortedPermissionIDs(delta.ToDelete) {
			if _, err := tx.ExecContext(ctx, deletePermissionQuery, stored[id].id); err != nil {
				return s.reconcileFailed("permission", err)
			}
		}
		added += len(delta.ToAdd)
		updated += len(delta.ToUpdate)
		deleted += len(delta.ToDelete)
	}

	if err := tx.Commit(); err != nil {
		return s.reconcileFailed("permission", err)
	}

	s.countDelta("permission", added, updated, deleted)
	return nil
}

func loadRoleRows(ctx context.Context, tx *sql.Tx, tenantKey string) (map[string]roleRow, error) {
	rows, err := tx.QueryContext(ctx, selectRolesQuery, tenantKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stored := make(map[string]roleRow)
	for rows.Next() {
		var r roleRow
		if err := rows.Scan(&r.id, &r.role.Key, &r.role.Description, &r.role.CreatedBy, &r.role.CreatedDate, &r.role.UpdatedBy, &r.role.UpdatedDate); err != nil {
			return nil, err
		}
		stored[r.role.Key] = r
	}
	return stored, rows.Err()
}

func loadPermRows(ctx context.Context, tx *sql.Tx, tenantKey string) (map[string]map[rbac.PermissionID]permRow, error) {
	rows, err := tx.QueryContext(ctx, selectPermissionsQuery, tenantKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stored := make(map[string]map[rbac.PermissionID]permRow)
	for rows.Next() {
		var p permRow
		if err := rows.Scan(&p.id, &p.perm.RoleKey, &p.perm.MsName, &p.perm.PrivilegeKey, &p.perm.Disabled, &p.perm.EnvCondition, &p.perm.ResourceCondition, &p.perm.ReactionStrategy); err != nil {
			return nil, err
		}
		byID := stored[p.perm.RoleKey]
		if byID == nil {
			byID = make(map[rbac.PermissionID]permRow)
			stored[p.perm.RoleKey] = byID
		}
		byID[p.perm.ID()] = p
	}
	return stored, rows.Err()
}

func (s *Source) reconcileFailed(entity string, err error) error {
	s.metrics.ReconcileFailuresTotal.WithLabelValues(entity, string(rbac.ModeDatabase)).Inc()
	return &rbac.SourceUnavailableError{Mode: rbac.ModeDatabase, Err: err}
}

func (s *Source) countDelta(entity string, added, updated, deleted int) {
	s.metrics.ReconcileOpsTotal.WithLabelValues(entity, "add").Add(float64(added))
	s.metrics.ReconcileOpsTotal.WithLabelValues(entity, "update").Add(float64(updated))
	s.metrics.ReconcileOpsTotal.WithLabelValues(entity, "delete").Add(float64(deleted))
}

// observe records the duration and outcome of one source operation.
// err points at the named return so the deferred call sees the final
// value.
func (s *Source) observe(op string, start time.Time, err *error) {
	s.metrics.SourceOpDuration.WithLabelValues(string(rbac.ModeDatabase), op).Observe(time.Since(start).Seconds())
	result := "ok"
	if *err != nil {
		result = "error"
	}
	s.metrics.SourceOpsTotal.WithLabelValues(string(rbac.ModeDatabase), op, result).Inc()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedPermissionIDs(m map[rbac.PermissionID]rbac.Permission) []rbac.PermissionID {
	ids := make([]rbac.PermissionID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].MsName != ids[j].MsName {
			return ids[i].MsName < ids[j].MsName
		}
		return ids[i].PrivilegeKey < ids[j].PrivilegeKey
	})
	return ids
}

func unionRoleKeys(current map[string]map[rbac.PermissionID]permRow, desired map[string]map[rbac.PermissionID]rbac.Permission) []string {
	seen := make(map[string]bool, len(current)+len(desired))
	for k := range current {
		seen[k] = true
	}
	for k := range desired {
		seen[k] = true
	}
	return sortedKeys(seen)
}
