package models

import "strings"

// GlobalEntity is the reserved entity key for endpoint calls that carry no
// symbol, such as economic indicator series.
const GlobalEntity = "global"

// NormalizeSymbol canonicalizes an external symbol before it is used as a
// storage key or request parameter.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// IsNAToken reports whether a symbol value is a placeholder artifact left
// behind by upstream exports rather than a real identifier.
func IsNAToken(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "<na>", "nan", "none", "null":
		return true
	}
	return false
}
