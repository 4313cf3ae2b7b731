package session

import "strings"

// Escape doubles any backtick inside an identifier so it can be safely
// embedded between backticks. MySQL identifiers may contain arbitrary
// characters, including backticks and non-ASCII runes.
func Escape(name string) string {
	return strings.ReplaceAll(name, "`", "``")
}

// Quote wraps an identifier in backticks, escaping embedded backticks.
func Quote(name string) string {
	return "`" + Escape(name) + "`"
}

// QuoteList quotes every identifier and joins them with ", ".
func QuoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = Quote(n)
	}
	return strings.Join(quoted, ", ")
}

// QuotePrefixed quotes every identifier with a quoted table prefix,
// e.g. `NEW`.`id`, `NEW`.`name`.
func QuotePrefixed(prefix string, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = Quote(prefix) + "." + Quote(n)
	}
	return strings.Join(quoted, ", ")
}
