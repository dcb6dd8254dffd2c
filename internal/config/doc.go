// Package config loads runtime configuration for the sealctl CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//     Only process-wide tunables (network timeouts, default bundle format)
//     live in the JSON file; everything else is flag-only.
//  3. Command-line flags (see parseFlags), which override earlier values.
//     Flags may also arrive indirectly through --extra-args, a
//     comma-joined token list reinjected as if passed directly.
//
// # JSON schema
//
//	{
//	  "connect_timeout": "30s",
//	  "read_timeout": "5m",
//	  "write_timeout": "10m",
//	  "bundle_format_version": 2
//	}
//
// Primary API
//
//   - type Config               — every operator and process setting for one run
//   - func LoadConfig() *Config — builds Config from defaults, JSON, then flags
package config
