// Package config loads, normalizes, and validates Murmur configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// MURMUR_ANON_KEY. The Config type centralizes every knob the CLI needs,
// allowing backend credentials, bucket names, and local directories to be
// discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
