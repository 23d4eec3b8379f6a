// Package extract pulls verification codes out of message text.
package extract

import (
	"regexp"
	"strings"
)

// Extract finds the verification code in body, identified by a
// case-insensitive keyword.
//
// The code is the contiguous alphanumeric token immediately following the
// keyword, with optional whitespace between. When the keyword occurs but no
// token follows, the whole body is returned; some senders format the entire
// message as the code. When the keyword does not occur at all, ok is false
// and the message should be ignored.
//
// Extract is pure: same inputs, same result, no side effects.
func Extract(body, keyword string) (code string, ok bool) {
	if keyword == "" {
		return "", false
	}
	if !strings.Contains(strings.ToLower(body), strings.ToLower(keyword)) {
		return "", false
	}

	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(keyword) + `\s*([a-zA-Z0-9]+)`)
	if err != nil {
		return "", false
	}

	if m := re.FindStringSubmatch(body); m != nil {
		return m[1], true
	}

	// Keyword present with no trailing token: treat the full body as the
	// code to preserve free-form OTP formats.
	return body, true
}
