package web

import "embed"

// staticFiles holds the desktop and mobile pages.
//
//go:embed static/*.html
var staticFiles embed.FS
