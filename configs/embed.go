package configs

import "embed"

// ModelDefaults contains the shipped static model lists, one file per
// provider.
//
//go:embed models/*.yaml
var ModelDefaults embed.FS
