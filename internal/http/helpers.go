package http

import (
	"strings"
	"time"
)

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	result := strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
	return result
}

// exportFilename names an XLSX export after the selection, e.g.
// "rollup_org-fin_default_20260114.xlsx".
func exportFilename(path, version string, now time.Time) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == '/':
			return '-'
		}
		return -1
	}, path)
	if slug == "" {
		slug = "all"
	}
	if version == "" {
		version = "default"
	}
	return "rollup_" + slug + "_" + sanitizeFilenamePart(version) + "_" + now.Format("20060102") + ".xlsx"
}

func sanitizeFilenamePart(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '/' || r == '\\' || r < 32 {
			return '_'
		}
		return r
	}, s)
}
