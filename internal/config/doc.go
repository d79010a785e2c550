// Package config loads the curation configuration from JSON, YAML or TOML and
// resolves defaults such as the record store location, the promotion
// threshold and the heuristic/advisory blend weights.
package config
