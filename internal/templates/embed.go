// Package templates resolves workflow step templates from yaml definitions,
// with embedded defaults and filesystem overrides.
package templates

import "embed"

//go:embed steps/*.yaml
var embeddedFS embed.FS
