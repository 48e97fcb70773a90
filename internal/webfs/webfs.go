// Package webfs embeds the console's page templates and the static script
// and stylesheet that drive uploads in the browser.
package webfs

import "embed"

//go:embed all:static all:templates
var FS embed.FS
