// Package configs provides the embedded configuration template for kbrobot.
//
// The template is embedded at build time with //go:embed so it ships in
// every distribution. 'kbrobot config init' writes it to the user config
// path (~/.config/kbrobot/config.yaml).
//
// Configuration hierarchy (see internal/config Load()):
//  1. Hardcoded defaults (internal/config NewConfig())
//  2. User config (~/.config/kbrobot/config.yaml)
//  3. Local config (kbrobot.yaml in the working directory)
//  4. Environment variables (KBROBOT_*)
package configs

import _ "embed"

// ConfigTemplate is the annotated default configuration file.
//
//go:embed config.example.yaml
var ConfigTemplate string
