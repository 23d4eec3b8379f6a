// Package delivery renders outbound payloads, performs the HTTP dispatch,
// and drives the durable retry queue.
package delivery

import (
	"regexp"
	"strings"
)

// Render builds the outbound request body from a user-authored template.
//
// The keyword is stripped from the code first (case-insensitive), a safety
// net for codes extracted by older versions that captured the keyword along
// with the token. %code% and %phone% are then substituted, and single
// quotes are normalized to double quotes so templates written with the
// common quoting mistake still produce valid JSON.
//
// Rendering is best-effort: placeholders that do not appear are simply not
// substituted, and unknown placeholders pass through as-is.
func Render(tmpl, keyword, code, phone string) string {
	code = stripKeyword(code, keyword)

	out := strings.ReplaceAll(tmpl, "%code%", code)
	out = strings.ReplaceAll(out, "%phone%", phone)
	return strings.ReplaceAll(out, "'", `"`)
}

func stripKeyword(code, keyword string) string {
	if keyword == "" {
		return strings.TrimSpace(code)
	}
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(keyword))
	if err != nil {
		return strings.TrimSpace(code)
	}
	return strings.TrimSpace(re.ReplaceAllString(code, ""))
}
