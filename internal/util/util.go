// Package util provides small string helpers shared by the import and
// export paths.
package util

import "strings"

// TrimQuotes removes leading and trailing double quotes. Some telematics
// gateways quote numeric fields twice.
func TrimQuotes(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}

// SafeFileName replaces characters that are awkward in file names with
// underscores.
func SafeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', ':', '/', '\\', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
}
