package router

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	tagPattern        = regexp.MustCompile(`(?s)<[^<>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Sanitize strips markup and invisible format characters from a chat line.
// Text between tags survives, so "<script>hi</script>" becomes "hi".
func Sanitize(message string) string {
	out, _, err := transform.String(transform.Chain(runes.Remove(runes.In(unicode.Cf)), norm.NFC), message)
	if err != nil {
		out = message
	}
	out = tagPattern.ReplaceAllString(out, "")
	out = whitespacePattern.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}
