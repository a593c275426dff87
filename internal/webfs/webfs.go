// Package webfs embeds the dashboard and settings templates together with the
// script and stylesheet served under /static/.
package webfs

import "embed"

// FS holds templates/*.html and static/*
//
//go:embed all:static all:templates
var FS embed.FS
