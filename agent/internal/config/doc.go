// Package config loads and watches the agent configuration file.
//
// Load(path) applies defaults (5s poll, 256-reading buffer, QoS 1, the
// public HiveMQ broker), parses the YAML and validates source types,
// attribute names and auth modes. Secrets are read from the environment
// variables named by the *_env keys.
//
// Watch(ctx, path, onChange) reloads the file on change; the agent uses it
// to adjust the log level at runtime.
package config
