// Package config provides centralized configuration management for the
// stake-agent runtime: the JSON daemon configuration plus pointers to the
// YAML chain and token definition files. Signing keys and API keys are only
// referenced by environment variable name and never stored in files.
package config
