package differ

// Option is a functional option for configuring Differ.
type Option func(*differ)

// WithIgnoredFields sets monitored fields to ignore during comparison.
func WithIgnoredFields(fields ...string) Option {
	return func(d *differ) {
		for _, field := range fields {
			d.ignoreFields[field] = true
		}
	}
}

// WithSuffixSynonyms replaces the groups of branch suffixes treated as equal.
func WithSuffixSynonyms(groups ...[]string) Option {
	return func(d *differ) {
		d.suffixes = newSuffixSet(groups)
	}
}

// WithKanaCanonicalization enables/disables half-width folding of kana fields.
func WithKanaCanonicalization(enabled bool) Option {
	return func(d *differ) {
		d.canonicalKana = enabled
	}
}
