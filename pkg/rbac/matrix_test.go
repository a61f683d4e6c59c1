package rbac

import (
	"testing"
)

func testCatalog() map[string][]Privilege {
	return map[string][]Privilege{
		"attachment": {
			{MsName: "attachment", Key: "ATTACHMENT.CREATE", Description: "Create attachment"},
			{MsName: "attachment", Key: "ATTACHMENT.DELETE", Description: "Delete attachment"},
		},
		"uaa": {
			{MsName: "uaa", Key: "USER.CREATE", Description: "Create user"},
		},
	}
}

func findRow(t *testing.T, m RoleMatrix, ms, key string) MatrixRow {
	t.Helper()
	for _, row := range m.Permissions {
		if row.MsName == ms && row.PrivilegeKey == key {
			return row
		}
	}
	t.Fatalf("matrix has no row %s/%s", ms, key)
	return MatrixRow{}
}

func TestToMatrix_CatalogDrivesRows(t *testing.T) {
	roles := Roles{
		"ROLE_ADMIN": {Key: "ROLE_ADMIN"},
		"ROLE_USER":  {Key: "ROLE_USER"},
	}

	// No permissions configured yet: every catalog privilege still gets
	// a row, granted to nobody.
	m := ToMatrix(roles, Permissions{}, testCatalog())

	if len(m.Permissions) != 3 {
		t.Fatalf("expected 3 rows from catalog, got %d", len(m.Permissions))
	}
	row := findRow(t, m, "attachment", "ATTACHMENT.CREATE")
	if len(row.Roles) != 0 {
		t.Errorf("unconfigured privilege should have empty role set, got %v", row.Roles)
	}
	if len(m.Roles) != 2 {
		t.Errorf("matrix must list all configured roles, got %v", m.Roles)
	}
}

func TestToMatrix_DisabledPermissionsExcluded(t *testing.T) {
	roles := Roles{"ROLE_ADMIN": {Key: "ROLE_ADMIN"}, "ROLE_USER": {Key: "ROLE_USER"}}
	perms := Permissions{
		"attachment": {
			"ROLE_ADMIN": {{PrivilegeKey: "ATTACHMENT.CREATE"}},
			"ROLE_USER":  {{PrivilegeKey: "ATTACHMENT.CREATE", Disabled: true}},
		},
	}

	m := ToMatrix(roles, perms, testCatalog())

	row := findRow(t, m, "attachment", "ATTACHMENT.CREATE")
	if len(row.Roles) != 1 || row.Roles[0] != "ROLE_ADMIN" {
		t.Errorf("expected only ROLE_ADMIN enabled, got %v", row.Roles)
	}
}

func TestFromMatrix_HiddenRolePreserved(t *testing.T) {
	current := Permissions{
		"attachment": {
			"ROLE_ADMIN": {{PrivilegeKey: "ATTACHMENT.CREATE"}},
			"ROLE_HIDDEN": {{
				PrivilegeKey:     "ATTACHMENT.CREATE",
				EnvCondition:     "#env == 'TEST'",
				ReactionStrategy: ReactionSkip,
			}},
		},
	}
	m := RoleMatrix{
		Roles: []string{"ROLE_ADMIN"},
		Permissions: []MatrixRow{
			{MsName: "attachment", PrivilegeKey: "ATTACHMENT.CREATE", Roles: []string{"ROLE_ADMIN"}},
		},
	}

	desired := FromMatrix(m, current)

	hidden := desired["attachment"]["ROLE_HIDDEN"]
	if len(hidden) != 1 {
		t.Fatalf("hidden role permissions dropped: %+v", desired)
	}
	if hidden[0].EnvCondition != "#env == 'TEST'" || hidden[0].ReactionStrategy != ReactionSkip {
		t.Errorf("hidden role permission mutated: %+v", hidden[0])
	}
}

func TestFromMatrix_DisableNotDelete(t *testing.T) {
	current := Permissions{
		"attachment": {
			"ROLE_USER": {{
				PrivilegeKey:      "ATTACHMENT.CREATE",
				ResourceCondition: "#resource.size < 100",
			}},
		},
	}
	// ROLE_USER is visible but no longer listed in the row.
	m := RoleMatrix{
		Roles: []string{"ROLE_USER"},
		Permissions: []MatrixRow{
			{MsName: "attachment", PrivilegeKey: "ATTACHMENT.CREATE", Roles: []string{}},
		},
	}

	desired := FromMatrix(m, current)

	perms := desired["attachment"]["ROLE_USER"]
	if len(perms) != 1 {
		t.Fatalf("permission was deleted instead of disabled: %+v", desired)
	}
	if !perms[0].Disabled {
		t.Error("expected disabled=true")
	}
	if perms[0].ResourceCondition != "#resource.size < 100" {
		t.Error("disabling dropped the attached condition")
	}
}

func TestFromMatrix_NoPlaceholderForEmptyNewRows(t *testing.T) {
	m := RoleMatrix{
		Roles: []string{"ROLE_USER"},
		Permissions: []MatrixRow{
			{MsName: "attachment", PrivilegeKey: "ATTACHMENT.DELETE", Roles: []string{}},
		},
	}

	desired := FromMatrix(m, Permissions{})
	if len(desired) != 0 {
		t.Errorf("expected no placeholder permissions, got %+v", desired)
	}
}

func TestFromMatrix_EnableKeepsExistingConditions(t *testing.T) {
	current := Permissions{
		"attachment": {
			"ROLE_USER": {{
				PrivilegeKey: "ATTACHMENT.CREATE",
				Disabled:     true,
				EnvCondition: "#env != 'PROD'",
			}},
		},
	}
	m := RoleMatrix{
		Roles: []string{"ROLE_USER"},
		Permissions: []MatrixRow{
			{MsName: "attachment", PrivilegeKey: "ATTACHMENT.CREATE", Roles: []string{"ROLE_USER"}},
		},
	}

	desired := FromMatrix(m, current)

	perms := desired["attachment"]["ROLE_USER"]
	if len(perms) != 1 {
		t.Fatalf("expected one permission, got %+v", perms)
	}
	if perms[0].Disabled {
		t.Error("re-enabled permission still disabled")
	}
	if perms[0].EnvCondition != "#env != 'PROD'" {
		t.Error("re-enabling dropped the existing condition")
	}
}

func TestFromMatrix_UncataloguedPermissionSurvives(t *testing.T) {
	// The catalog no longer lists ATTACHMENT.DELETE, so the matrix has
	// no row for it. The existing permission must ride through an
	// unmodified round trip untouched, conditions included.
	roles := Roles{"ROLE_ADMIN": {Key: "ROLE_ADMIN"}}
	perms := Permissions{
		"attachment": {
			"ROLE_ADMIN": {{
				PrivilegeKey: "ATTACHMENT.DELETE",
				EnvCondition: "#env == 'PROD'",
			}},
		},
	}
	catalog := map[string][]Privilege{
		"attachment": {{MsName: "attachment", Key: "ATTACHMENT.CREATE"}},
	}

	desired := FromMatrix(ToMatrix(roles, perms, catalog), perms)

	kept := desired["attachment"]["ROLE_ADMIN"]
	if len(kept) != 1 {
		t.Fatalf("permission without a matrix row was dropped: %+v", desired)
	}
	if kept[0].PrivilegeKey != "ATTACHMENT.DELETE" || kept[0].Disabled {
		t.Errorf("pass-through mutated the permission: %+v", kept[0])
	}
	if kept[0].EnvCondition != "#env == 'PROD'" {
		t.Errorf("pass-through dropped the condition: %+v", kept[0])
	}
}

func TestMatrix_RoundTrip(t *testing.T) {
	roles := Roles{"ROLE_ADMIN": {Key: "ROLE_ADMIN"}, "ROLE_USER": {Key: "ROLE_USER"}}
	perms := Permissions{
		"attachment": {
			"ROLE_ADMIN": {
				{PrivilegeKey: "ATTACHMENT.CREATE", EnvCondition: "#env == 'PROD'"},
				{PrivilegeKey: "ATTACHMENT.DELETE", Disabled: true, ReactionStrategy: ReactionException},
			},
			"ROLE_USER": {
				{PrivilegeKey: "ATTACHMENT.CREATE", Disabled: true},
			},
		},
		"uaa": {
			"ROLE_ADMIN": {{PrivilegeKey: "USER.CREATE"}},
		},
	}

	m := ToMatrix(roles, perms, testCatalog())
	back := FromMatrix(m, perms)

	want, err := FlattenPermissions(perms)
	if err != nil {
		t.Fatalf("flatten current: %v", err)
	}
	got, err := FlattenPermissions(back)
	if err != nil {
		t.Fatalf("flatten round-tripped: %v", err)
	}

	if len(got) != len(want) {
		t.Fatalf("round trip changed role count: got %d want %d", len(got), len(want))
	}
	for roleKey, wantIdx := range want {
		gotIdx := got[roleKey]
		if len(gotIdx) != len(wantIdx) {
			t.Fatalf("role %s: got %d permissions, want %d", roleKey, len(gotIdx), len(wantIdx))
		}
		for id, wantPerm := range wantIdx {
			gotPerm, ok := gotIdx[id]
			if !ok {
				t.Fatalf("role %s lost permission %v", roleKey, id)
			}
			if !PermissionEqual(gotPerm, wantPerm) {
				t.Errorf("role %s permission %v changed: got %+v want %+v", roleKey, id, gotPerm, wantPerm)
			}
		}
	}
}

// The end-to-end example: an unconfigured catalog privilege surfaces as
// an empty row, and granting it through the matrix materializes exactly
// one enabled permission.
func TestMatrix_GrantNewPrivilege(t *testing.T) {
	roles := Roles{"ROLE_ADMIN": {Key: "ROLE_ADMIN"}, "ROLE_USER": {Key: "ROLE_USER"}}
	catalog := map[string][]Privilege{
		"attachment": {{MsName: "attachment", Key: "ATTACHMENT.CREATE"}},
	}

	m := ToMatrix(roles, Permissions{}, catalog)
	if len(m.Permissions) != 1 || len(m.Permissions[0].Roles) != 0 {
		t.Fatalf("unexpected initial matrix: %+v", m)
	}

	m.Permissions[0].Roles = []string{"ROLE_ADMIN"}
	desired := FromMatrix(m, Permissions{})

	perms := desired["attachment"]["ROLE_ADMIN"]
	if len(perms) != 1 {
		t.Fatalf("expected one permission for ROLE_ADMIN, got %+v", desired)
	}
	if perms[0].PrivilegeKey != "ATTACHMENT.CREATE" || perms[0].Disabled {
		t.Errorf("unexpected permission: %+v", perms[0])
	}
	if _, ok := desired["attachment"]["ROLE_USER"]; ok {
		t.Error("ROLE_USER got a placeholder permission")
	}
}
