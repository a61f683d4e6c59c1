package rbac

// Mode identifies which configuration backend serves a tenant's
// role/permission state.
type Mode string

const (
	// ModeConfigService serves state from the push-distributed
	// per-tenant configuration documents. This is the default.
	ModeConfigService Mode = "CONFIGURATION_SERVICE"

	// ModeDatabase serves state from the relational role/permission
	// tables.
	ModeDatabase Mode = "DATABASE"
)

// ParseMode maps a string onto a known Mode.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeConfigService, ModeDatabase:
		return Mode(s), true
	}
	return "", false
}

// ReactionStrategy tells the authorization layer what to do when a
// permission's guard condition cannot be evaluated. The configuration
// engine stores and transports it unchanged.
type ReactionStrategy string

const (
	ReactionSkip      ReactionStrategy = "SKIP"
	ReactionException ReactionStrategy = "EXCEPTION"
)

// Role is a named bundle of permissions, unique per tenant by Key.
// The key is immutable once created; a rename is a delete plus create.
type Role struct {
	Key         string `json:"roleKey" yaml:"-"`
	Description string `json:"description" yaml:"description"`
	CreatedBy   string `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	CreatedDate string `json:"createdDate,omitempty" yaml:"createdDate,omitempty"`
	UpdatedBy   string `json:"updatedBy,omitempty" yaml:"updatedBy,omitempty"`
	UpdatedDate string `json:"updatedDate,omitempty" yaml:"updatedDate,omitempty"`
}

// Privilege is an atomic capability owned by a microservice. Privileges
// are catalog-defined and read-only within this engine; identity is the
// (MsName, Key) pair.
type Privilege struct {
	MsName      string   `json:"msName" yaml:"-"`
	Key         string   `json:"privilegeKey" yaml:"key"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Resources   []string `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Permission grants (or explicitly disables) a privilege for a role.
// Identity is the (MsName, PrivilegeKey, RoleKey) triple; at most one
// permission exists per triple per tenant. MsName and RoleKey are not
// part of the persisted document body (the document nests permissions
// under msName and roleKey), so they are carried as explicit tags on the
// in-flight object instead.
type Permission struct {
	MsName            string           `json:"msName" yaml:"-"`
	PrivilegeKey      string           `json:"privilegeKey" yaml:"privilegeKey"`
	RoleKey           string           `json:"roleKey" yaml:"-"`
	Disabled          bool             `json:"disabled" yaml:"disabled"`
	EnvCondition      string           `json:"envCondition,omitempty" yaml:"envCondition,omitempty"`
	ResourceCondition string           `json:"resourceCondition,omitempty" yaml:"resourceCondition,omitempty"`
	ReactionStrategy  ReactionStrategy `json:"reactionStrategy,omitempty" yaml:"reactionStrategy,omitempty"`
}

// PermissionID identifies a permission within one role's set.
type PermissionID struct {
	MsName       string
	PrivilegeKey string
}

// ID returns the permission's identity within its role.
func (p Permission) ID() PermissionID {
	return PermissionID{MsName: p.MsName, PrivilegeKey: p.PrivilegeKey}
}

// Roles is the full role state of one tenant, keyed by role key.
type Roles = map[string]Role

// Permissions is the full permission state of one tenant, grouped as
// msName -> roleKey -> permissions.
type Permissions = map[string]map[string][]Permission

// MatrixRow is one privilege row of the administrative role matrix:
// the set of roles for which the privilege is enabled.
type MatrixRow struct {
	MsName       string   `json:"msName"`
	PrivilegeKey string   `json:"privilegeKey"`
	Description  string   `json:"description,omitempty"`
	Roles        []string `json:"roles"`
}

// RoleMatrix is a transient, request-scoped projection of the permission
// set as privilege rows against role columns. It is never persisted;
// it is derived from role/permission/privilege reads and converted back
// into a permission delta on update.
type RoleMatrix struct {
	Roles       []string    `json:"roles"`
	Permissions []MatrixRow `json:"permissions"`
}

// HasRole reports whether the matrix exposes the given role. Roles not
// exposed by a matrix are hidden and must be preserved untouched by
// updates derived from it.
func (m RoleMatrix) HasRole(key string) bool {
	for _, r := range m.Roles {
		if r == key {
			return true
		}
	}
	return false
}

// ClonePermissions deep-copies a tenant permission state so callers can
// mutate the result without affecting shared caches.
func ClonePermissions(src Permissions) Permissions {
	if src == nil {
		return Permissions{}
	}
	out := make(Permissions, len(src))
	for ms, byRole := range src {
		roleCopy := make(map[string][]Permission, len(byRole))
		for role, perms := range byRole {
			permsCopy := make([]Permission, len(perms))
			copy(permsCopy, perms)
			roleCopy[role] = permsCopy
		}
		out[ms] = roleCopy
	}
	return out
}

// CloneRoles copies a tenant role state.
func CloneRoles(src Roles) Roles {
	out := make(Roles, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
