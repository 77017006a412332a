// Package config loads, normalizes, and validates mdapi configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MDAPI_SESSION_ID. The Config type centralizes every knob the runner and CLI
// need, so connection settings, data directories, and pass pacing are
// discovered in one place.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
