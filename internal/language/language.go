// Package language normalizes and compares language identifiers as they
// appear in media stream metadata: two-letter and three-letter ISO-639 codes,
// region-qualified tags ("en-US") and the various spellings of "undefined".
package language

import (
	"strings"

	"golang.org/x/text/language"
)

// bibliographicCodes maps ISO-639-2/B codes, which media containers commonly
// carry, to the ISO-639-1 codes x/text cannot derive from them.
var bibliographicCodes = map[string]string{
	"alb": "sq", "arm": "hy", "baq": "eu", "bur": "my", "chi": "zh",
	"cze": "cs", "dut": "nl", "fre": "fr", "geo": "ka", "ger": "de",
	"gre": "el", "ice": "is", "mac": "mk", "may": "ms", "per": "fa",
	"rum": "ro", "slo": "sk", "tib": "bo", "wel": "cy",
}

// Normalize reduces a language identifier to its base ISO-639 code:
// lowercased, region and script subtags stripped. Identifiers that cannot be
// parsed are lowercased and truncated at the first subtag separator.
// Undefined identifiers normalize to the empty string.
func Normalize(lang string) string {
	lang = strings.TrimSpace(strings.ToLower(lang))
	if IsUndefined(lang) {
		return ""
	}

	if iso1, ok := bibliographicCodes[lang]; ok {
		return iso1
	}

	if tag, err := language.Parse(lang); err == nil {
		if base, conf := tag.Base(); conf != language.No {
			return base.String()
		}
	}

	// Unparseable tag: strip subtags by hand
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		return lang[:i]
	}
	return lang
}

// IsUndefined reports whether the identifier carries no language information
func IsUndefined(lang string) bool {
	switch strings.TrimSpace(strings.ToLower(lang)) {
	case "", "und", "undefined", "unknown":
		return true
	}
	return false
}

// Equal compares two language identifiers after normalization. Undefined
// identifiers compare equal to each other but never to a concrete language.
func Equal(a, b string) bool {
	ua, ub := IsUndefined(a), IsUndefined(b)
	if ua || ub {
		return ua && ub
	}
	return Normalize(a) == Normalize(b)
}
