package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

// DetectContentType guesses a mime type from the file extension.
// Returns "" when nothing matches, so callers can tell a guess from a default.
func DetectContentType(name string) string {
	if isTextLike(name) {
		return "text/plain; charset=utf-8"
	}
	return mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
}

func isTextLike(name string) bool {
	return strings.HasSuffix(name, ".yaml") ||
		strings.HasSuffix(name, ".yml") ||
		strings.HasSuffix(name, ".toml") ||
		strings.HasSuffix(name, ".md")
}
