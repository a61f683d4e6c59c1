// Package config loads the engine configuration from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
	"github.com/gatehouse-io/gatehouse/pkg/tenant"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Distrib       DistribConfig
	Database      DatabaseConfig
	Engine        EngineConfig
	Observability ObservabilityConfig
}

// ServerConfig holds the health/metrics HTTP server configuration.
type ServerConfig struct {
	Host            string
	HealthPort      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DistribConfig selects and configures the configuration distribution
// backend.
type DistribConfig struct {
	// Type is "file" or "redis".
	Type string

	// Filesystem backend
	FileRoot string

	// Redis backend
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// DatabaseConfig holds the relational source configuration. An empty
// PostgresURL disables the database source entirely.
type DatabaseConfig struct {
	PostgresURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrateOnStart  bool
}

// EngineConfig holds the domain settings: document locations, the
// static tenant-to-mode table and the resync schedule.
type EngineConfig struct {
	RolesPathTemplate       string
	PermissionsPathTemplate string
	PrivilegesPath          string

	// TenantModes overrides the source mode per tenant; unlisted
	// tenants use the config-service default.
	TenantModes map[string]rbac.Mode

	// ResyncSchedule is a cron expression for the periodic full resync
	// of the distribution tree. Empty disables it.
	ResyncSchedule string

	// SeedTenants lists tenants that get the default super-admin role
	// written on startup when they have no roles configured yet.
	SeedTenants []string
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	tenantModes, err := parseTenantModes(getEnv("GATEHOUSE_TENANT_MODES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
			HealthPort:      getEnv("GATEHOUSE_HEALTH_PORT", "9090"),
			ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Distrib: DistribConfig{
			Type:          getEnv("GATEHOUSE_DISTRIB_TYPE", "file"),
			FileRoot:      getEnv("GATEHOUSE_CONFIG_ROOT", ""),
			RedisURL:      getEnv("GATEHOUSE_REDIS_URL", ""),
			RedisPassword: getEnv("GATEHOUSE_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("GATEHOUSE_REDIS_DB", 0),
		},
		Database: DatabaseConfig{
			PostgresURL:     getEnv("GATEHOUSE_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("GATEHOUSE_POSTGRES_MAX_CONNS", 10),
			MaxIdleConns:    getEnvInt("GATEHOUSE_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("GATEHOUSE_POSTGRES_CONN_LIFETIME", 30*time.Minute),
			MigrateOnStart:  getEnvBool("GATEHOUSE_POSTGRES_MIGRATE", true),
		},
		Engine: EngineConfig{
			RolesPathTemplate:       getEnv("GATEHOUSE_ROLES_PATH", "/config/tenants/{tenantName}/roles.yml"),
			PermissionsPathTemplate: getEnv("GATEHOUSE_PERMISSIONS_PATH", "/config/tenants/{tenantName}/permissions.yml"),
			PrivilegesPath:          getEnv("GATEHOUSE_PRIVILEGES_PATH", "/config/privileges.yml"),
			TenantModes:             tenantModes,
			ResyncSchedule:          getEnv("GATEHOUSE_RESYNC_SCHEDULE", "@every 10m"),
			SeedTenants:             parseTenantList(getEnv("GATEHOUSE_SEED_TENANTS", "")),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}

	switch c.Distrib.Type {
	case "file":
		if c.Distrib.FileRoot == "" {
			return fmt.Errorf("config root is required for the file distribution backend")
		}
	case "redis":
		if c.Distrib.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis distribution backend")
		}
	default:
		return fmt.Errorf("invalid distribution backend type: %s (must be file or redis)", c.Distrib.Type)
	}

	for tenantKey, mode := range c.Engine.TenantModes {
		if mode == rbac.ModeDatabase && c.Database.PostgresURL == "" {
			return fmt.Errorf("tenant %s uses the database source but no postgres URL is configured", tenantKey)
		}
	}

	if !strings.Contains(c.Engine.RolesPathTemplate, "{tenantName}") {
		return fmt.Errorf("roles path template must contain {tenantName}")
	}
	if !strings.Contains(c.Engine.PermissionsPathTemplate, "{tenantName}") {
		return fmt.Errorf("permissions path template must contain {tenantName}")
	}

	return nil
}

// parseTenantModes parses "TENANT=MODE,TENANT=MODE" into the per-tenant
// mode table.
func parseTenantModes(raw string) (map[string]rbac.Mode, error) {
	modes := make(map[string]rbac.Mode)
	if raw == "" {
		return modes, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid tenant mode entry %q (expected TENANT=MODE)", pair)
		}
		mode, ok := rbac.ParseMode(strings.TrimSpace(value))
		if !ok {
			return nil, fmt.Errorf("unknown source mode %q for tenant %s", value, name)
		}
		modes[tenant.Normalize(name)] = mode
	}
	return modes, nil
}

// parseTenantList parses a comma-separated tenant list into normalized
// keys.
func parseTenantList(raw string) []string {
	var tenants []string
	for _, name := range strings.Split(raw, ",") {
		if key := tenant.Normalize(name); key != "" {
			tenants = append(tenants, key)
		}
	}
	return tenants
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
