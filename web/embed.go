// Package web embeds the UI assets so the server ships as a single binary.
package web

import "embed"

// TemplatesFS holds the page and partial templates.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS holds the stylesheet and htmx glue script.
//
//go:embed static/*
var StaticFS embed.FS
