package webassets

import "embed"

// FS contains the portal shell templates and stylesheet.
//
//go:embed templates/*.html static/portal.css
var FS embed.FS
