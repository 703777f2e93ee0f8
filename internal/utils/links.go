package utils

import (
	"net/url"
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// ExtractURLs returns every http(s) URL embedded in text.
func ExtractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// HasBlockedLink reports whether any URL in text points at a host on
// the destination blocklist. This is a rendering guard only; the raw
// text stays in the store untouched.
func HasBlockedLink(text string, blockedDomains []string) bool {
	if len(blockedDomains) == 0 {
		return false
	}
	for _, raw := range ExtractURLs(text) {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.ToLower(u.Hostname())
		for _, d := range blockedDomains {
			d = strings.ToLower(d)
			if host == d || strings.HasSuffix(host, "."+d) {
				return true
			}
		}
	}
	return false
}
