package security

import "regexp"

type secretPattern struct {
	name       string
	regex      *regexp.Regexp
	redactWith string
}

var secretPatterns = []secretPattern{
	{"Flutterwave Secret Key", regexp.MustCompile(`FLWSECK(?:_TEST)?-[0-9a-zA-Z]{12,}(?:-X)?`), "FLWSECK-****"},
	{"Flutterwave Public Key", regexp.MustCompile(`FLWPUBK(?:_TEST)?-[0-9a-zA-Z]{12,}(?:-X)?`), "FLWPUBK-****"},
	{"JWT Token", regexp.MustCompile(`eyJ[a-zA-Z0-9\-_]+\.eyJ[a-zA-Z0-9\-_]+\.[a-zA-Z0-9\-_]+`), "eyJ****"},
	{"Bearer Header", regexp.MustCompile(`(?i)bearer\s+[0-9a-zA-Z\-_.]{16,}`), "Bearer ****"},
	{"Generic Secret", regexp.MustCompile(`(?i)(secret|password|passwd|api[_-]?key)(['"]?\s*[:=]\s*['"]?)[^\s'"]{8,}`), "${1}${2}****"},
	{"Database URL", regexp.MustCompile(`(?i)(postgres|mysql|mongodb|redis)://[^\s'"]+:[^\s'"]+@[^\s'"]+`), "${1}://****"},
}

// Redact replaces anything that looks like a credential
func Redact(input string) string {
	out := input
	for _, p := range secretPatterns {
		out = p.regex.ReplaceAllString(out, p.redactWith)
	}
	return out
}

// ContainsSecret reports the names of the credential kinds found in input
func ContainsSecret(input string) []string {
	var found []string
	for _, p := range secretPatterns {
		if p.regex.MatchString(input) {
			found = append(found, p.name)
		}
	}
	return found
}
