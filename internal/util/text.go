package util

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// NormalizeText lower-cases s, replaces punctuation with spaces and
// collapses runs of whitespace.
func NormalizeText(s string) string {
	s = strings.ToValidUTF8(s, "")
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokenize splits normalized text into words. Han characters carry no word
// boundaries, so a run of them is kept as a single token.
func Tokenize(s string) []string {
	return strings.Fields(NormalizeText(s))
}

// ContainsHan reports whether s contains at least one Han character.
func ContainsHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// TokenSet returns the distinct tokens of all inputs.
func TokenSet(inputs ...string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, in := range inputs {
		for _, tok := range Tokenize(in) {
			out[tok] = struct{}{}
		}
	}
	return out
}

// stopWords never identify a task on their own.
var stopWords = map[string]struct{}{
	"and": {}, "for": {}, "the": {}, "with": {}, "into": {}, "from": {},
	"onto": {}, "your": {}, "this": {}, "that": {}, "how": {}, "what": {},
	"und": {}, "mit": {}, "der": {}, "die": {}, "das": {}, "ein": {}, "eine": {},
}

// MatchTerms returns the sorted, distinct stemmed terms of all inputs that
// are fit for free-text matching. Stop words and words shorter than three
// letters are dropped. Han runs are always kept.
func MatchTerms(inputs ...string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, in := range inputs {
		for _, tok := range Tokenize(in) {
			if !ContainsHan(tok) {
				if utf8.RuneCountInString(tok) < 3 {
					continue
				}
				if _, ok := stopWords[tok]; ok {
					continue
				}
			}
			tok = Stem(tok)
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	slices.Sort(out)
	return out
}

// Stem strips common English inflections so that "drilling", "drills" and
// "drill" compare equal. Tokens with non-ASCII letters are returned as is.
func Stem(tok string) string {
	for _, r := range tok {
		if r > unicode.MaxASCII {
			return tok
		}
	}
	switch {
	case len(tok) > 5 && strings.HasSuffix(tok, "ing"):
		tok = undouble(tok[:len(tok)-3])
	case len(tok) > 4 && strings.HasSuffix(tok, "ed"):
		tok = undouble(tok[:len(tok)-2])
	case len(tok) > 4 && strings.HasSuffix(tok, "es") && strings.ContainsAny(tok[len(tok)-3:len(tok)-2], "sxz"):
		tok = tok[:len(tok)-2]
	case len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss"):
		tok = tok[:len(tok)-1]
	}
	return tok
}

// undouble drops a doubled final consonant ("cutt" -> "cut") but keeps
// doubled l and s ("drill", "press").
func undouble(tok string) string {
	n := len(tok)
	if n >= 3 && tok[n-1] == tok[n-2] && !strings.ContainsRune("aeioulsz", rune(tok[n-1])) {
		return tok[:n-1]
	}
	return tok
}
