// Package config provides application configuration management from environment variables.
//
// All settings carry the GATEHOUSE_ prefix. The only required setting is
// the one backing the selected distribution backend: GATEHOUSE_CONFIG_ROOT
// for the file backend (the default) or GATEHOUSE_REDIS_URL for redis.
// The relational source activates when GATEHOUSE_POSTGRES_URL is set, and
// per-tenant source overrides are listed in GATEHOUSE_TENANT_MODES as
// comma-separated TENANT=MODE pairs.
package config
