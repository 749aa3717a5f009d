package differ

import (
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

const (
	voicedMark        = '\u3099'
	semiVoicedMark    = '\u309A'
	halfVoicedMark    = '\uFF9E'
	halfSemiVoiceMark = '\uFF9F'
)

// CanonicalKana folds a kana reading into its half-width katakana form.
// The input is NFKC normalized first, so half-width and full-width readings
// of the same name canonicalize identically. Voiced katakana are split into
// base and sound mark ("ガ" becomes "ｶﾞ").
func CanonicalKana(s string) string {
	if s == "" {
		return s
	}
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !isKatakana(r) {
			b.WriteRune(r)
			continue
		}
		for _, d := range norm.NFD.String(string(r)) {
			switch d {
			case voicedMark:
				b.WriteRune(halfVoicedMark)
			case semiVoicedMark:
				b.WriteRune(halfSemiVoiceMark)
			default:
				b.WriteString(width.Narrow.String(string(d)))
			}
		}
	}
	return b.String()
}

func isKatakana(r rune) bool {
	return r >= '\u30A0' && r <= '\u30FF'
}

// DefaultSuffixSynonyms are branch suffixes that name the same kind of office.
var DefaultSuffixSynonyms = [][]string{{"支店", "支所", "出張所"}}

type suffixSet struct {
	groups [][]string
	all    []string
}

func newSuffixSet(groups [][]string) suffixSet {
	s := suffixSet{groups: groups}
	for _, g := range groups {
		s.all = append(s.all, g...)
	}
	return s
}

// split separates a known suffix from name. The base is trimmed.
func (s suffixSet) split(name string) (base, suffix string) {
	for _, suf := range s.all {
		if strings.HasSuffix(name, suf) {
			return strings.TrimSpace(strings.TrimSuffix(name, suf)), suf
		}
	}
	return strings.TrimSpace(name), ""
}

// equivalent reports whether two suffixes are equal or in the same group.
func (s suffixSet) equivalent(a, b string) bool {
	if a == b {
		return true
	}
	for _, g := range s.groups {
		var hasA, hasB bool
		for _, suf := range g {
			hasA = hasA || suf == a
			hasB = hasB || suf == b
		}
		if hasA && hasB {
			return true
		}
	}
	return false
}

// sameBranchName compares branch names modulo suffix synonyms. A missing
// suffix on either side matches any suffix.
func (s suffixSet) sameBranchName(a, b string) bool {
	baseA, sufA := s.split(a)
	baseB, sufB := s.split(b)
	if baseA != baseB {
		return false
	}
	return sufA == "" || sufB == "" || s.equivalent(sufA, sufB)
}
