// Package config loads the gateway's YAML configuration and the TOML account
// manifest. YAML values support ${VAR} environment expansion; durations are
// written as strings ("30s") and parsed on load.
package config
