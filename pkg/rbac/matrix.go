package rbac

import "sort"

// ToMatrix projects the nested permission state into the flat
// administrative matrix. The row universe is the privilege catalog, not
// the existing permission rows, so a newly catalogued privilege surfaces
// immediately as a row granted to no role. A row's role set contains
// every role key holding an enabled permission with that identity. The
// top-level role list carries every configured role whether or not it
// appears in any row.
func ToMatrix(roles Roles, perms Permissions, catalog map[string][]Privilege) RoleMatrix {
	m := RoleMatrix{Roles: make([]string, 0, len(roles))}
	for key := range roles {
		m.Roles = append(m.Roles, key)
	}
	sort.Strings(m.Roles)

	msNames := make([]string, 0, len(catalog))
	for ms := range catalog {
		msNames = append(msNames, ms)
	}
	sort.Strings(msNames)

	for _, ms := range msNames {
		privs := append([]Privilege(nil), catalog[ms]...)
		sort.Slice(privs, func(i, j int) bool { return privs[i].Key < privs[j].Key })

		for _, priv := range privs {
			row := MatrixRow{
				MsName:       ms,
				PrivilegeKey: priv.Key,
				Description:  priv.Description,
				Roles:        []string{},
			}
			for roleKey, rolePerms := range perms[ms] {
				for _, p := range rolePerms {
					if p.PrivilegeKey == priv.Key && !p.Disabled {
						row.Roles = append(row.Roles, roleKey)
						break
					}
				}
			}
			sort.Strings(row.Roles)
			m.Permissions = append(m.Permissions, row)
		}
	}

	return m
}

// FromMatrix converts a submitted matrix back into the desired full
// permission state, relative to the current one:
//
//   - Roles absent from the matrix are hidden: their current permissions
//     pass through byte-for-byte, never deleted.
//   - Existing permissions whose identity matches no matrix row also
//     pass through untouched, even for visible roles. The row universe
//     is the privilege catalog, which is its own document and may lag;
//     a shrunken catalog must never delete permission state.
//   - A visible role listed in a row gets that permission enabled. An
//     existing permission keeps its conditions and strategy.
//   - A visible role missing from a row keeps any existing permission
//     with Disabled set. Disabling rather than removing preserves the
//     attached condition and strategy configuration.
//   - A row that grants nothing to a role that also had nothing creates
//     no placeholder permission.
func FromMatrix(m RoleMatrix, current Permissions) Permissions {
	desired := make(Permissions)

	put := func(p Permission) {
		ms := desired[p.MsName]
		if ms == nil {
			ms = make(map[string][]Permission)
			desired[p.MsName] = ms
		}
		ms[p.RoleKey] = append(ms[p.RoleKey], p)
	}

	rowIDs := make(map[PermissionID]bool, len(m.Permissions))
	for _, row := range m.Permissions {
		rowIDs[PermissionID{MsName: row.MsName, PrivilegeKey: row.PrivilegeKey}] = true
	}

	// Pass-throughs: hidden roles whole, and any permission the matrix
	// has no row for. Only row-covered permissions of visible roles are
	// rewritten below.
	for ms, byRole := range current {
		for roleKey, perms := range byRole {
			visible := m.HasRole(roleKey)
			for _, p := range perms {
				p.MsName = ms
				p.RoleKey = roleKey
				if visible && rowIDs[p.ID()] {
					continue
				}
				put(p)
			}
		}
	}

	lookup := func(ms, privilegeKey, roleKey string) (Permission, bool) {
		for _, p := range current[ms][roleKey] {
			if p.PrivilegeKey == privilegeKey {
				p.MsName = ms
				p.RoleKey = roleKey
				return p, true
			}
		}
		return Permission{}, false
	}

	for _, row := range m.Permissions {
		enabled := make(map[string]bool, len(row.Roles))
		for _, r := range row.Roles {
			enabled[r] = true
		}

		for _, roleKey := range m.Roles {
			existing, found := lookup(row.MsName, row.PrivilegeKey, roleKey)
			switch {
			case enabled[roleKey]:
				if !found {
					existing = Permission{
						MsName:       row.MsName,
						PrivilegeKey: row.PrivilegeKey,
						RoleKey:      roleKey,
					}
				}
				existing.Disabled = false
				put(existing)
			case found:
				existing.Disabled = true
				put(existing)
			}
			// Not enabled and nothing existed: no placeholder row.
		}
	}

	return desired
}
