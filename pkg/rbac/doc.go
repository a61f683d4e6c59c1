// Package rbac defines the tenant RBAC configuration model and the
// backend-independent algorithms that operate on it.
//
// # Model
//
// All state is partitioned by tenant, an opaque uppercase key. Within a
// tenant:
//
//   - Role: a named permission bundle, identified by its key. Keys are
//     immutable; renaming a role is a delete plus a create.
//   - Privilege: a catalog-defined capability owned by a microservice,
//     identified by (msName, key). The catalog is read-only here.
//   - Permission: a per-role grant or explicit disable of a privilege,
//     identified by (msName, privilegeKey, roleKey), carrying optional
//     guard conditions and a reaction strategy that this engine stores
//     and transports unchanged.
//
// There is no field-level patch at the storage layer. Every mutation is
// a full-state replace: compute the desired state, diff it against the
// current one with Reconcile, apply the delta.
//
// # Reconciliation
//
// Reconcile is a pure three-way diff over identity-keyed maps. The
// desired side wins entirely on identity collision; values that already
// match are dropped from the delta so reconciling the same state twice
// is a no-op. FlattenPermissions tags each permission with its owning
// msName and roleKey during projection, so identity never depends on
// object references inside nested maps.
//
// # Role matrix
//
// ToMatrix and FromMatrix convert between the nested permission state
// and the flat privilege-row-by-role-column view used by administrative
// UIs. The conversion preserves hidden roles and disables rather than
// deletes revoked permissions; see the function docs for the exact
// rules.
package rbac
