package util

import (
	"regexp"
	"strings"
)

var (
	phoneJunk   = regexp.MustCompile(`[\s\-\(\)\.]+`)
	mobilePhone = regexp.MustCompile(`^\+905\d{9}$`)
)

// NormalizePhone strips separators and rewrites Turkish mobile numbers into
// +905XXXXXXXXX form. Input it cannot recognise is returned stripped but otherwise
// untouched.
func NormalizePhone(raw string) string {
	s := phoneJunk.ReplaceAllString(strings.TrimSpace(raw), "")

	switch {
	case strings.HasPrefix(s, "0090"):
		s = "+" + s[2:]
	case strings.HasPrefix(s, "90") && len(s) == 12:
		s = "+" + s
	case strings.HasPrefix(s, "05") && len(s) == 11:
		s = "+90" + s[1:]
	case strings.HasPrefix(s, "5") && len(s) == 10:
		s = "+90" + s
	}

	return s
}

// ValidPhone reports whether raw is a Turkish mobile number once normalized.
func ValidPhone(raw string) bool {
	return mobilePhone.MatchString(NormalizePhone(raw))
}
