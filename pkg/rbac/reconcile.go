package rbac

// Delta is the result of diffing a desired full state against the
// current one: the minimal create/update/delete set that turns current
// into desired.
type Delta[K comparable, V any] struct {
	ToAdd    map[K]V
	ToUpdate map[K]V
	ToDelete map[K]V
}

// Empty reports whether applying the delta would be a no-op.
func (d Delta[K, V]) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// Reconcile computes the delta between current and desired full state.
// Identity is the map key; when an identity exists in both sets the
// desired value wins entirely, a full field-by-field overwrite rather
// than a per-field merge. Identities whose values already match (per equal) are
// left out of the delta, which makes repeated reconciliation of the same
// desired state produce no operations. A nil equal treats every shared
// identity as changed.
func Reconcile[K comparable, V any](current, desired map[K]V, equal func(cur, des V) bool) Delta[K, V] {
	d := Delta[K, V]{
		ToAdd:    make(map[K]V),
		ToUpdate: make(map[K]V),
		ToDelete: make(map[K]V),
	}

	for k, des := range desired {
		cur, ok := current[k]
		if !ok {
			d.ToAdd[k] = des
			continue
		}
		if equal == nil || !equal(cur, des) {
			d.ToUpdate[k] = des
		}
	}

	for k, cur := range current {
		if _, ok := desired[k]; !ok {
			d.ToDelete[k] = cur
		}
	}

	return d
}

// RoleEqual compares the mutable fields of two roles. Audit fields are
// part of the stored document, so they participate in the comparison.
func RoleEqual(cur, des Role) bool {
	return cur == des
}

// PermissionEqual compares the mutable fields of two permissions with
// the same identity.
func PermissionEqual(cur, des Permission) bool {
	return cur.Disabled == des.Disabled &&
		cur.EnvCondition == des.EnvCondition &&
		cur.ResourceCondition == des.ResourceCondition &&
		cur.ReactionStrategy == des.ReactionStrategy
}

// IndexPermissions builds the per-role identity index used by
// reconciliation: (msName, privilegeKey) -> permission. Duplicate
// identities within one role are a conflict in the desired state.
func IndexPermissions(perms []Permission) (map[PermissionID]Permission, error) {
	idx := make(map[PermissionID]Permission, len(perms))
	for _, p := range perms {
		id := p.ID()
		if _, dup := idx[id]; dup {
			return nil, &ConflictError{
				Reason: "duplicate permission " + id.MsName + "/" + id.PrivilegeKey + " for role " + p.RoleKey,
			}
		}
		idx[id] = p
	}
	return idx, nil
}

// FlattenPermissions regroups the nested msName -> roleKey -> permissions
// state into per-role identity indexes, tagging each permission with its
// owning msName and roleKey. The tags travel on the object itself so the
// diff never depends on map reference identity.
func FlattenPermissions(state Permissions) (map[string]map[PermissionID]Permission, error) {
	byRole := make(map[string]map[PermissionID]Permission)
	for ms, roles := range state {
		for roleKey, perms := range roles {
			idx := byRole[roleKey]
			if idx == nil {
				idx = make(map[PermissionID]Permission)
				byRole[roleKey] = idx
			}
			for _, p := range perms {
				p.MsName = ms
				p.RoleKey = roleKey
				if _, dup := idx[p.ID()]; dup {
					return nil, &ConflictError{
						Reason: "duplicate permission " + ms + "/" + p.PrivilegeKey + " for role " + roleKey,
					}
				}
				idx[p.ID()] = p
			}
		}
	}
	return byRole, nil
}

// GroupPermissions is the inverse of FlattenPermissions: it rebuilds the
// nested document shape from tagged permissions.
func GroupPermissions(byRole map[string]map[PermissionID]Permission) Permissions {
	out := make(Permissions)
	for roleKey, idx := range byRole {
		for _, p := range idx {
			ms := out[p.MsName]
			if ms == nil {
				ms = make(map[string][]Permission)
				out[p.MsName] = ms
			}
			ms[roleKey] = append(ms[roleKey], p)
		}
	}
	return out
}
