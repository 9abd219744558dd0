package webhook

import (
	"regexp"

	"github.com/tidwall/gjson"
)

var templateVar = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\[\]]+)\s*\}\}`)

// renderPrompt substitutes every "{{dot.path}}" placeholder in tmpl with
// the matching value from payload, via a gjson dot-path lookup. An unknown
// path renders as an empty string rather than failing the whole render.
func renderPrompt(tmpl string, payload []byte) string {
	return templateVar.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := templateVar.FindStringSubmatch(match)[1]
		return gjson.GetBytes(payload, path).String()
	})
}

// resolveSessionKey extracts the dot-path keyPath from payload, used to
// look up an existing conversation key for this delivery.
func resolveSessionKey(keyPath string, payload []byte) (string, bool) {
	if keyPath == "" {
		return "", false
	}
	res := gjson.GetBytes(payload, keyPath)
	if !res.Exists() {
		return "", false
	}
	return res.String(), true
}

// matchesFilters reports whether every dot-path->expected pair in filters
// resolves against payload.
func matchesFilters(filters map[string]string, payload []byte) bool {
	for path, expected := range filters {
		if gjson.GetBytes(payload, path).String() != expected {
			return false
		}
	}
	return true
}
