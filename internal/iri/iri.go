// Package iri validates Internationalized Resource Identifiers (RFC 3987).
//
// The matcher is compiled from the IRI production of the RFC's ABNF, the
// same approach the reference rfc3987 matcher takes. Only absolute IRIs
// match; relative references are rejected.
package iri

import "regexp"

const (
	scheme = `[A-Za-z][A-Za-z0-9+.\-]*`

	// iunreserved = ALPHA / DIGIT / "-" / "." / "_" / "~" / ucschar
	iunreserved = `A-Za-z0-9\-._~` + ucschar
	ucschar     = `\x{A0}-\x{D7FF}\x{F900}-\x{FDCF}\x{FDF0}-\x{FFEF}` +
		`\x{10000}-\x{1FFFD}\x{20000}-\x{2FFFD}\x{30000}-\x{3FFFD}` +
		`\x{40000}-\x{4FFFD}\x{50000}-\x{5FFFD}\x{60000}-\x{6FFFD}` +
		`\x{70000}-\x{7FFFD}\x{80000}-\x{8FFFD}\x{90000}-\x{9FFFD}` +
		`\x{A0000}-\x{AFFFD}\x{B0000}-\x{BFFFD}\x{C0000}-\x{CFFFD}` +
		`\x{D0000}-\x{DFFFD}\x{E1000}-\x{EFFFD}`
	iprivate = `\x{E000}-\x{F8FF}\x{F0000}-\x{FFFFD}\x{100000}-\x{10FFFD}`

	pctEncoded = `%[0-9A-Fa-f]{2}`
	subDelims  = `!$&'()*+,;=`

	// ipchar = iunreserved / pct-encoded / sub-delims / ":" / "@"
	ipchar = `(?:[` + iunreserved + subDelims + `:@]|` + pctEncoded + `)`

	iuserinfo = `(?:[` + iunreserved + subDelims + `:]|` + pctEncoded + `)*`
	iregName  = `(?:[` + iunreserved + subDelims + `]|` + pctEncoded + `)*`
	ipLiteral = `\[(?:[0-9A-Fa-f:.]+|v[0-9A-Fa-f]+\.[` + iunreserved + subDelims + `:]+)\]`
	ihost     = `(?:` + ipLiteral + `|` + iregName + `)`

	iauthority = `(?:` + iuserinfo + `@)?` + ihost + `(?::[0-9]*)?`

	ipathAbempty  = `(?:/` + ipchar + `*)*`
	ipathAbsolute = `/(?:` + ipchar + `+(?:/` + ipchar + `*)*)?`
	ipathRootless = ipchar + `+(?:/` + ipchar + `*)*`

	ihierPart = `(?://` + iauthority + ipathAbempty +
		`|` + ipathAbsolute +
		`|` + ipathRootless +
		`|)`

	iquery    = `(?:[` + iunreserved + subDelims + `:@/?` + iprivate + `]|` + pctEncoded + `)*`
	ifragment = `(?:[` + iunreserved + subDelims + `:@/?]|` + pctEncoded + `)*`
)

var iriRE = regexp.MustCompile(
	`^` + scheme + `:` + ihierPart + `(?:\?` + iquery + `)?(?:#` + ifragment + `)?$`,
)

// Valid reports whether s matches the IRI production of RFC 3987.
func Valid(s string) bool {
	return s != "" && iriRE.MatchString(s)
}
