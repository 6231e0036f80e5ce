// Package config loads patchbay's configuration.
//
// Sources are applied in order, each overriding the last:
//
//  1. Built-in defaults (Default)
//  2. A TOML file (LoadFile)
//  3. PATCHBAY_* environment variables (ApplyEnv)
//  4. Command-line flags, applied by the caller
//
// Validate checks the merged result. Watcher reloads the file when it changes
// on disk; only keys marked live in the documentation take effect without a
// restart.
package config
