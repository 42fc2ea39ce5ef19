// Package scenarios embeds the bundled Pixelmon TCG test suite. Top-level
// files are scenarios; common/ holds the subflows they share.
package scenarios

import "embed"

// FS holds the suite rooted at this directory.
//
//go:embed *.yaml common/*.yaml
var FS embed.FS
