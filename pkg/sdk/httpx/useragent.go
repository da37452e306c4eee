package httpx

import (
	"regexp"
	"strings"
)

type uaRule struct {
	name string
	re   *regexp.Regexp
}

// Checked in order; the first match wins. Chrome-based browsers carry
// "Chrome/" and "Safari/" too, so they are tested before both.
var browserRules = []uaRule{
	{"Firefox", regexp.MustCompile(`Firefox/`)},
	{"Edge", regexp.MustCompile(`Edg/`)},
	{"Opera", regexp.MustCompile(`OPR/|Opera`)},
	{"Chrome", regexp.MustCompile(`Chrome/`)},
	{"Safari", regexp.MustCompile(`Safari/`)},
}

var osRules = []uaRule{
	{"Android", regexp.MustCompile(`Android`)},
	{"iOS", regexp.MustCompile(`iPhone|iPad|iPod`)},
	{"Windows", regexp.MustCompile(`Windows`)},
	{"macOS", regexp.MustCompile(`Mac OS X|Macintosh`)},
	{"Linux", regexp.MustCompile(`Linux`)},
}

var botPattern = regexp.MustCompile(`(?i)bot|crawl|spider|slurp|headless|preview`)

// ParseUserAgent reports the browser and OS family of ua, using the same
// rules as the tracker script. Unknown families are "Other"; an empty ua
// yields empty strings.
func ParseUserAgent(ua string) (browser, os string) {
	if strings.TrimSpace(ua) == "" {
		return "", ""
	}
	return match(browserRules, ua), match(osRules, ua)
}

// IsBot reports whether ua looks like a crawler or link previewer.
func IsBot(ua string) bool {
	return botPattern.MatchString(ua)
}

func match(rules []uaRule, ua string) string {
	for _, r := range rules {
		if r.re.MatchString(ua) {
			return r.name
		}
	}
	return "Other"
}
