package configservice

import (
	"context"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/distrib"
	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// DefaultRolesPathTemplate and DefaultPermissionsPathTemplate are the
// standard document locations in the distribution tree.
const (
	DefaultRolesPathTemplate       = "/config/tenants/{tenantName}/roles.yml"
	DefaultPermissionsPathTemplate = "/config/tenants/{tenantName}/permissions.yml"
)

// Source serves tenant state from the watcher caches and writes by
// pushing full documents to the distribution backend. The write round
// trip is asynchronous: the push eventually produces a refresh on every
// node, so a read issued immediately after a write may still see the
// previous state until the notification lands.
type Source struct {
	client  distrib.Client
	roles   *Watcher[rbac.Roles]
	perms   *Watcher[rbac.Permissions]
	log     *observability.Logger
	metrics *observability.Metrics
}

func NewSource(client distrib.Client, rolesTemplate, permsTemplate string, log *observability.Logger, metrics *observability.Metrics) *Source {
	return &Source{
		client:  client,
		roles:   NewWatcher(rolesTemplate, "roles", ParseRolesDocument, log, metrics),
		perms:   NewWatcher(permsTemplate, "permissions", ParsePermissionsDocument, log, metrics),
		log:     log,
		metrics: metrics,
	}
}

// Listeners exposes the source's watchers for hub registration.
func (s *Source) Listeners() []distrib.Listener {
	return []distrib.Listener{s.roles, s.perms}
}

func (s *Source) Mode() rbac.Mode { return rbac.ModeConfigService }

// GetRoles returns the cached role state, or an empty map for a tenant
// with no configuration yet. Results are copies; callers may mutate
// them freely.
func (s *Source) GetRoles(ctx context.Context, tenant string) (_ rbac.Roles, err error) {
	defer s.observe("getRoles", time.Now(), &err)
	cached, ok := s.roles.Get(tenant)
	if !ok {
		return rbac.Roles{}, nil
	}
	return rbac.CloneRoles(cached), nil
}

// GetPermissions returns the cached permission state, or an empty map
// for an unconfigured tenant. Dangling role references are tolerated
// here: the file backend is eventually consistent and the roles
// document may arrive after the permissions document.
func (s *Source) GetPermissions(ctx context.Context, tenant string) (_ rbac.Permissions, err error) {
	defer s.observe("getPermissions", time.Now(), &err)
	cached, ok := s.perms.Get(tenant)
	if !ok {
		return rbac.Permissions{}, nil
	}
	return rbac.ClonePermissions(cached), nil
}

// UpdateRoles pushes the full desired role state as one document.
func (s *Source) UpdateRoles(ctx context.Context, tenant string, desired rbac.Roles) (err error) {
	defer s.observe("updateRoles", time.Now(), &err)
	content, err := MarshalRolesDocument(desired)
	if err != nil {
		return err
	}
	return s.push(ctx, tenant, s.roles.Path(tenant), "roles", content)
}

// UpdatePermissions pushes the full desired permission state as one
// document. The state is validated before anything leaves the process:
// a role listing the same privilege twice is a conflict, not a
// document to distribute.
func (s *Source) UpdatePermissions(ctx context.Context, tenant string, desired rbac.Permissions) (err error) {
	defer s.observe("updatePermissions", time.Now(), &err)
	if _, err := rbac.FlattenPermissions(desired); err != nil {
		return err
	}
	content, err := MarshalPermissionsDocument(desired)
	if err != nil {
		return err
	}
	return s.push(ctx, tenant, s.perms.Path(tenant), "permissions", content)
}

func (s *Source) push(ctx context.Context, tenant, path, document string, content []byte) error {
	if err := s.client.UpdateConfig(ctx, tenant, path, content); err != nil {
		s.metrics.ConfigPushesTotal.WithLabelValues(document, "error").Inc()
		return &rbac.SourceUnavailableError{Mode: rbac.ModeConfigService, Err: err}
	}
	s.metrics.ConfigPushesTotal.WithLabelValues(document, "ok").Inc()
	s.log.WithFields(map[string]interface{}{
		"tenant": tenant,
		"path":   path,
	}).Info("configuration document pushed")
	return nil
}

// observe records the duration and outcome of one source operation.
// err points at the named return so the deferred call sees the final
// value.
func (s *Source) observe(op string, start time.Time, err *error) {
	s.metrics.SourceOpDuration.WithLabelValues(string(rbac.ModeConfigService), op).Observe(time.Since(start).Seconds())
	result := "ok"
	if *err != nil {
		result = "error"
	}
	s.metrics.SourceOpsTotal.WithLabelValues(string(rbac.ModeConfigService), op, result).Inc()
}
