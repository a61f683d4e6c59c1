// Package source defines the pluggable configuration-source contract and
// the per-tenant selector that routes between backends.
package source

import (
	"context"
	"fmt"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// Source is one backend holding a tenant's full role/permission state.
// Reads return the complete state; writes are full-state replaces that
// diff against current state internally.
type Source interface {
	Mode() rbac.Mode
	GetRoles(ctx context.Context, tenant string) (rbac.Roles, error)
	GetPermissions(ctx context.Context, tenant string) (rbac.Permissions, error)
	UpdateRoles(ctx context.Context, tenant string, desired rbac.Roles) error
	UpdatePermissions(ctx context.Context, tenant string, desired rbac.Permissions) error
}

// ModeProvider supplies the configured source mode for a tenant.
// ok=false means "no opinion" and selects the default.
type ModeProvider interface {
	ModeFor(ctx context.Context, tenant string) (mode rbac.Mode, ok bool, err error)
}

// StaticModeProvider holds a fixed tenant-to-mode table.
type StaticModeProvider map[string]rbac.Mode

func (p StaticModeProvider) ModeFor(ctx context.Context, tenant string) (rbac.Mode, bool, error) {
	mode, ok := p[tenant]
	return mode, ok, nil
}

// Selector routes operations to the active source per tenant. The
// config-service source is the default and must always be registered;
// selection never falls back to another backend on failure.
type Selector struct {
	sources  []Source
	byMode   map[rbac.Mode]Source
	provider ModeProvider
	log      *observability.Logger
	metrics  *observability.Metrics
}

// NewSelector registers sources in order. Registration order is
// significant: Migrate fans writes out in that order.
func NewSelector(provider ModeProvider, log *observability.Logger, metrics *observability.Metrics, sources ...Source) (*Selector, error) {
	s := &Selector{
		byMode:   make(map[rbac.Mode]Source, len(sources)),
		provider: provider,
		log:      log,
		metrics:  metrics,
	}
	for _, src := range sources {
		if _, dup := s.byMode[src.Mode()]; dup {
			return nil, fmt.Errorf("duplicate configuration source for mode %s", src.Mode())
		}
		s.byMode[src.Mode()] = src
		s.sources = append(s.sources, src)
	}
	if _, ok := s.byMode[rbac.ModeConfigService]; !ok {
		return nil, fmt.Errorf("default source %s must be registered", rbac.ModeConfigService)
	}
	return s, nil
}

// Active resolves the tenant's source. A provider without an opinion
// selects the config-service source; a provider naming an unregistered
// mode is a NotFoundError, not a silent fallback.
func (s *Selector) Active(ctx context.Context, tenant string) (Source, error) {
	mode, ok, err := s.provider.ModeFor(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve source mode for tenant %s: %w", tenant, err)
	}
	if !ok {
		mode = rbac.ModeConfigService
	}
	src, ok := s.byMode[mode]
	if !ok {
		return nil, &rbac.NotFoundError{Kind: "mode", Key: string(mode)}
	}
	return src, nil
}

// Default always returns the config-service source regardless of the
// provider, for operations that must not be redirected to the database
// variant (system bootstrap in particular).
func (s *Selector) Default() Source {
	return s.byMode[rbac.ModeConfigService]
}

// Registered returns the sources in registration order.
func (s *Selector) Registered() []Source {
	return s.sources
}

// Migrate copies the tenant's state from the active source into every
// registered source in registration order. Used when switching a tenant
// between backends; writing to the already-active source is an
// idempotent no-op by full-state-replace semantics.
func (s *Selector) Migrate(ctx context.Context, tenant string) error {
	active, err := s.Active(ctx, tenant)
	if err != nil {
		return err
	}

	roles, err := active.GetRoles(ctx, tenant)
	if err != nil {
		s.metrics.MigrationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("migrate: failed to read roles for tenant %s: %w", tenant, err)
	}
	perms, err := active.GetPermissions(ctx, tenant)
	if err != nil {
		s.metrics.MigrationsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("migrate: failed to read permissions for tenant %s: %w", tenant, err)
	}

	for _, target := range s.sources {
		if err := target.UpdateRoles(ctx, tenant, roles); err != nil {
			s.metrics.MigrationsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("migrate: failed to write roles to %s for tenant %s: %w", target.Mode(), tenant, err)
		}
		if err := target.UpdatePermissions(ctx, tenant, perms); err != nil {
			s.metrics.MigrationsTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("migrate: failed to write permissions to %s for tenant %s: %w", target.Mode(), tenant, err)
		}
	}

	s.metrics.MigrationsTotal.WithLabelValues("ok").Inc()
	s.log.WithFields(map[string]interface{}{
		"tenant": tenant,
		"from":   string(active.Mode()),
	}).Info("tenant state migrated across sources")
	return nil
}
