package configservice

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// The persisted document shapes. Keys that are structural in the
// document (role key, msName) are not part of the body and get tagged
// onto the parsed objects instead.

// ParseRolesDocument parses the roles document:
// roleKey -> {description, createdBy, createdDate, updatedBy, updatedDate}.
func ParseRolesDocument(content []byte) (rbac.Roles, error) {
	var doc map[string]rbac.Role
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("malformed roles document: %w", err)
	}
	roles := make(rbac.Roles, len(doc))
	for key, role := range doc {
		role.Key = key
		roles[key] = role
	}
	return roles, nil
}

// MarshalRolesDocument serializes the full role state. An empty state
// becomes the YAML empty document marker, which readers treat as "no
// document".
func MarshalRolesDocument(roles rbac.Roles) ([]byte, error) {
	if len(roles) == 0 {
		return []byte("---\n"), nil
	}
	doc := make(map[string]rbac.Role, len(roles))
	for key, role := range roles {
		doc[key] = role
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize roles document: %w", err)
	}
	return out, nil
}

// ParsePermissionsDocument parses the permissions document:
// msName -> roleKey -> list of permission bodies.
func ParsePermissionsDocument(content []byte) (rbac.Permissions, error) {
	var doc map[string]map[string][]rbac.Permission
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("malformed permissions document: %w", err)
	}
	perms := make(rbac.Permissions, len(doc))
	for ms, byRole := range doc {
		tagged := make(map[string][]rbac.Permission, len(byRole))
		for roleKey, list := range byRole {
			taggedList := make([]rbac.Permission, len(list))
			for i, p := range list {
				p.MsName = ms
				p.RoleKey = roleKey
				taggedList[i] = p
			}
			tagged[roleKey] = taggedList
		}
		perms[ms] = tagged
	}
	return perms, nil
}

// MarshalPermissionsDocument serializes the full permission state.
func MarshalPermissionsDocument(perms rbac.Permissions) ([]byte, error) {
	if len(perms) == 0 {
		return []byte("---\n"), nil
	}
	out, err := yaml.Marshal(perms)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize permissions document: %w", err)
	}
	return out, nil
}
