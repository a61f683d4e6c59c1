package config

import (
	"strings"
	"testing"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GATEHOUSE_CONFIG_ROOT", "/var/lib/gatehouse")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Distrib.Type != "file" {
		t.Errorf("expected file backend by default, got %s", cfg.Distrib.Type)
	}
	if cfg.Server.HealthPort != "9090" {
		t.Errorf("unexpected default health port: %s", cfg.Server.HealthPort)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("unexpected default shutdown timeout: %v", cfg.Server.ShutdownTimeout)
	}
	if !strings.Contains(cfg.Engine.RolesPathTemplate, "{tenantName}") {
		t.Errorf("unexpected default roles path: %s", cfg.Engine.RolesPathTemplate)
	}
	if len(cfg.Engine.TenantModes) != 0 {
		t.Errorf("expected no tenant mode overrides by default: %v", cfg.Engine.TenantModes)
	}
}

func TestLoadConfigRequiresBackendSettings(t *testing.T) {
	t.Setenv("GATEHOUSE_DISTRIB_TYPE", "file")
	t.Setenv("GATEHOUSE_CONFIG_ROOT", "")
	if _, err := LoadConfig(); err == nil {
		t.Error("file backend without a config root must fail validation")
	}

	t.Setenv("GATEHOUSE_DISTRIB_TYPE", "redis")
	if _, err := LoadConfig(); err == nil {
		t.Error("redis backend without a URL must fail validation")
	}

	t.Setenv("GATEHOUSE_DISTRIB_TYPE", "s3")
	if _, err := LoadConfig(); err == nil {
		t.Error("unknown backend type must fail validation")
	}
}

func TestLoadConfigTenantModes(t *testing.T) {
	t.Setenv("GATEHOUSE_CONFIG_ROOT", "/var/lib/gatehouse")
	t.Setenv("GATEHOUSE_POSTGRES_URL", "postgres://localhost/gatehouse")
	t.Setenv("GATEHOUSE_TENANT_MODES", "demo=DATABASE, LEGACY=CONFIGURATION_SERVICE")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Engine.TenantModes["DEMO"] != rbac.ModeDatabase {
		t.Errorf("tenant name not normalized: %v", cfg.Engine.TenantModes)
	}
	if cfg.Engine.TenantModes["LEGACY"] != rbac.ModeConfigService {
		t.Errorf("mode not parsed: %v", cfg.Engine.TenantModes)
	}
}

func TestLoadConfigRejectsBadTenantModes(t *testing.T) {
	t.Setenv("GATEHOUSE_CONFIG_ROOT", "/var/lib/gatehouse")

	t.Setenv("GATEHOUSE_TENANT_MODES", "DEMO=SPREADSHEET")
	if _, err := LoadConfig(); err == nil {
		t.Error("unknown mode must fail")
	}

	t.Setenv("GATEHOUSE_TENANT_MODES", "DEMO")
	if _, err := LoadConfig(); err == nil {
		t.Error("entry without '=' must fail")
	}
}

func TestLoadConfigDatabaseModeNeedsPostgres(t *testing.T) {
	t.Setenv("GATEHOUSE_CONFIG_ROOT", "/var/lib/gatehouse")
	t.Setenv("GATEHOUSE_TENANT_MODES", "DEMO=DATABASE")
	t.Setenv("GATEHOUSE_POSTGRES_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Error("a DATABASE tenant without a postgres URL must fail validation")
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("GATEHOUSE_TEST_STR", "value")
	if got := getEnv("GATEHOUSE_TEST_STR", "default"); got != "value" {
		t.Errorf("getEnv = %q", got)
	}
	if got := getEnv("GATEHOUSE_TEST_MISSING", "default"); got != "default" {
		t.Errorf("getEnv default = %q", got)
	}

	t.Setenv("GATEHOUSE_TEST_BOOL", "TRUE")
	if !getEnvBool("GATEHOUSE_TEST_BOOL", false) {
		t.Error("getEnvBool should be case-insensitive")
	}

	t.Setenv("GATEHOUSE_TEST_INT", "42")
	if got := getEnvInt("GATEHOUSE_TEST_INT", 0); got != 42 {
		t.Errorf("getEnvInt = %d", got)
	}
	t.Setenv("GATEHOUSE_TEST_INT", "not-a-number")
	if got := getEnvInt("GATEHOUSE_TEST_INT", 7); got != 7 {
		t.Errorf("getEnvInt fallback = %d", got)
	}

	t.Setenv("GATEHOUSE_TEST_DUR", "90s")
	if got := getEnvDuration("GATEHOUSE_TEST_DUR", 0); got != 90*time.Second {
		t.Errorf("getEnvDuration = %v", got)
	}
}
