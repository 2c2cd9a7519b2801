// Package config loads and validates Custody Core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults,
// and finally overridden by CUSTODY_* environment variables. Secrets
// (JWT signing key, broker credentials, InfluxDB token) should always be
// supplied through the environment in production.
package config
