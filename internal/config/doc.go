// Package config loads, normalizes, and validates audiojoin configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// AUDIOJOIN_QUEUE_ENABLED. The output format table is typed and validated
// once at load so the conversion engine never sees an unknown codec, a
// missing mime type, or a default bitrate outside the allowed set.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
