// Package config handles YAML configuration loading with environment variable
// substitution.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation, which is the recommended way to supply credentials. See
// configs/feedd.example.yaml for the full schema.
package config
