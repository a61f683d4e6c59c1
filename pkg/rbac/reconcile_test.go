package rbac

import (
	"testing"
)

func TestReconcile_PartitionsDelta(t *testing.T) {
	current := Roles{
		"ROLE_ADMIN": {Key: "ROLE_ADMIN", Description: "admin"},
		"ROLE_USER":  {Key: "ROLE_USER", Description: "user"},
		"ROLE_OLD":   {Key: "ROLE_OLD", Description: "gone"},
	}
	desired := Roles{
		"ROLE_ADMIN": {Key: "ROLE_ADMIN", Description: "admin"},
		"ROLE_USER":  {Key: "ROLE_USER", Description: "renamed description"},
		"ROLE_NEW":   {Key: "ROLE_NEW", Description: "new"},
	}

	d := Reconcile(current, desired, RoleEqual)

	if len(d.ToAdd) != 1 {
		t.Fatalf("expected 1 add, got %d", len(d.ToAdd))
	}
	if _, ok := d.ToAdd["ROLE_NEW"]; !ok {
		t.Error("expected ROLE_NEW in ToAdd")
	}
	if len(d.ToUpdate) != 1 {
		t.Fatalf("expected 1 update, got %d", len(d.ToUpdate))
	}
	if got := d.ToUpdate["ROLE_USER"].Description; got != "renamed description" {
		t.Errorf("update carries stale description: %q", got)
	}
	if len(d.ToDelete) != 1 {
		t.Fatalf("expected 1 delete, got %d", len(d.ToDelete))
	}
	if _, ok := d.ToDelete["ROLE_OLD"]; !ok {
		t.Error("expected ROLE_OLD in ToDelete")
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	state := Roles{
		"ROLE_A": {Key: "ROLE_A", Description: "a"},
		"ROLE_B": {Key: "ROLE_B", Description: "b"},
	}

	d := Reconcile(state, state, RoleEqual)
	if !d.Empty() {
		t.Errorf("reconciling identical state produced operations: +%d ~%d -%d",
			len(d.ToAdd), len(d.ToUpdate), len(d.ToDelete))
	}
}

func TestReconcile_DesiredWinsEntirely(t *testing.T) {
	current := map[PermissionID]Permission{
		{MsName: "uaa", PrivilegeKey: "USER.CREATE"}: {
			MsName:       "uaa",
			PrivilegeKey: "USER.CREATE",
			Disabled:     false,
			EnvCondition: "#env == 'PROD'",
		},
	}
	desired := map[PermissionID]Permission{
		{MsName: "uaa", PrivilegeKey: "USER.CREATE"}: {
			MsName:       "uaa",
			PrivilegeKey: "USER.CREATE",
			Disabled:     true,
		},
	}

	d := Reconcile(current, desired, PermissionEqual)
	if len(d.ToUpdate) != 1 {
		t.Fatalf("expected 1 update, got %d", len(d.ToUpdate))
	}
	up := d.ToUpdate[PermissionID{MsName: "uaa", PrivilegeKey: "USER.CREATE"}]
	if !up.Disabled {
		t.Error("desired disabled flag was not taken")
	}
	if up.EnvCondition != "" {
		t.Error("per-field merge happened; desired must win entirely")
	}
}

func TestReconcile_NilEqualMarksAllSharedAsUpdates(t *testing.T) {
	state := Roles{"ROLE_A": {Key: "ROLE_A"}}
	d := Reconcile(state, state, nil)
	if len(d.ToUpdate) != 1 {
		t.Errorf("expected shared identity in ToUpdate with nil equal, got %d", len(d.ToUpdate))
	}
}

func TestIndexPermissions_RejectsDuplicates(t *testing.T) {
	perms := []Permission{
		{MsName: "entity", PrivilegeKey: "ATTACHMENT.CREATE", RoleKey: "ROLE_ADMIN"},
		{MsName: "entity", PrivilegeKey: "ATTACHMENT.CREATE", RoleKey: "ROLE_ADMIN", Disabled: true},
	}

	_, err := IndexPermissions(perms)
	if err == nil {
		t.Fatal("expected conflict error for duplicate identity")
	}
	if _, ok := err.(*ConflictError); !ok {
		t.Errorf("expected *ConflictError, got %T", err)
	}
}

func TestFlattenPermissions_TagsOwnership(t *testing.T) {
	state := Permissions{
		"entity": {
			"ROLE_ADMIN": {
				{PrivilegeKey: "ATTACHMENT.CREATE"},
				{PrivilegeKey: "ATTACHMENT.DELETE", Disabled: true},
			},
		},
		"uaa": {
			"ROLE_ADMIN": {
				{PrivilegeKey: "USER.CREATE"},
			},
		},
	}

	byRole, err := FlattenPermissions(state)
	if err != nil {
		t.Fatalf("FlattenPermissions failed: %v", err)
	}

	idx := byRole["ROLE_ADMIN"]
	if len(idx) != 3 {
		t.Fatalf("expected 3 permissions for ROLE_ADMIN, got %d", len(idx))
	}
	p, ok := idx[PermissionID{MsName: "entity", PrivilegeKey: "ATTACHMENT.DELETE"}]
	if !ok {
		t.Fatal("missing entity/ATTACHMENT.DELETE")
	}
	if p.MsName != "entity" || p.RoleKey != "ROLE_ADMIN" {
		t.Errorf("ownership tags not set: msName=%q roleKey=%q", p.MsName, p.RoleKey)
	}
	if !p.Disabled {
		t.Error("disabled flag lost in flattening")
	}
}

func TestGroupPermissions_InvertsFlatten(t *testing.T) {
	state := Permissions{
		"entity": {
			"ROLE_ADMIN": {{PrivilegeKey: "ATTACHMENT.CREATE", MsName: "entity", RoleKey: "ROLE_ADMIN"}},
			"ROLE_USER":  {{PrivilegeKey: "ATTACHMENT.CREATE", MsName: "entity", RoleKey: "ROLE_USER", Disabled: true}},
		},
	}

	byRole, err := FlattenPermissions(state)
	if err != nil {
		t.Fatalf("FlattenPermissions failed: %v", err)
	}
	back := GroupPermissions(byRole)

	if len(back["entity"]["ROLE_ADMIN"]) != 1 || len(back["entity"]["ROLE_USER"]) != 1 {
		t.Fatalf("round trip lost permissions: %+v", back)
	}
	if !back["entity"]["ROLE_USER"][0].Disabled {
		t.Error("disabled flag lost in round trip")
	}
}
