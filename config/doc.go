// Package config loads photoshow configuration.
//
// Values are resolved in this order, later sources winning:
//
//   - built-in defaults
//   - configuration file layers, in the order they were added (JSON, YAML
//     or TOML, chosen by extension)
//   - environment variables prefixed with PHOTOSHOW_, where the dotted key
//     becomes upper case with underscores: cache.backend is read from
//     PHOTOSHOW_CACHE_BACKEND
//
// Example:
//
//	loader := config.NewLoader()
//	loader.AddLayer("photoshow.yaml")
//	loader.EnableValidation(true)
//	cfg, err := loader.Load()
//
// The typed Config converts into the option structs of each component, so
// the composition root never reads raw keys.
package config
