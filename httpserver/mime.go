package httpserver

import (
	"mime"
	"path/filepath"
	"strings"
)

// staticMIME overrides mime.TypeByExtension for the extensions the
// original collaborator hard-codes (original_source/include/http/Http.hpp),
// since mime.TypeByExtension's results depend on the host's installed
// MIME database and can't be relied on to match across environments.
var staticMIME = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".js":   "application/javascript",
	".json": "application/json",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".txt":  "text/plain",
}

const defaultMIME = "application/octet-stream"

// contentType resolves the MIME type for path by extension: the static
// table takes priority, falling back to mime.TypeByExtension, falling
// back to application/octet-stream for anything unrecognized.
func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := staticMIME[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		if i := strings.IndexByte(ct, ';'); i >= 0 {
			ct = ct[:i]
		}
		return ct
	}
	return defaultMIME
}

// acceptMatches reports whether contentType satisfies the client's
// Accept header: an exact match, a wildcard subtype ("text/*"), or the
// full wildcard ("*/*") all satisfy it. An empty/absent Accept header
// is treated as accepting anything.
func acceptMatches(accept, contentType string) bool {
	accept = strings.TrimSpace(accept)
	if accept == "" {
		return true
	}
	wantType, wantSub, ok := splitType(contentType)
	if !ok {
		return false
	}
	for _, part := range strings.Split(accept, ",") {
		part = strings.TrimSpace(part)
		if i := strings.IndexByte(part, ';'); i >= 0 {
			part = strings.TrimSpace(part[:i])
		}
		if part == "*/*" {
			return true
		}
		gotType, gotSub, ok := splitType(part)
		if !ok {
			continue
		}
		if gotType == wantType && (gotSub == "*" || gotSub == wantSub) {
			return true
		}
	}
	return false
}

func splitType(ct string) (typ, sub string, ok bool) {
	i := strings.IndexByte(ct, '/')
	if i < 0 {
		return "", "", false
	}
	return ct[:i], ct[i+1:], true
}
