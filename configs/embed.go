// Package configs embeds the configuration template written by
// `cpid config init`.
//
// Configuration hierarchy (see internal/config Load()):
//  1. Hardcoded defaults (internal/config NewConfig())
//  2. User config ($XDG_CONFIG_HOME/cpid/config.yaml)
//  3. Environment variables (CPID_*)
//  4. Command-line flags
package configs

import _ "embed"

// UserConfigTemplate is the commented template for the user config file.
//
//go:embed config.example.yaml
var UserConfigTemplate string
