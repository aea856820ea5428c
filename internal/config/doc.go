// Package config loads service settings from defaults, an optional YAML file,
// a .env file and TASKQUEUE_* environment variables, and validates the result
// before any component is built from it.
package config
