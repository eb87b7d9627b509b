// Package config loads the labelreader YAML configuration shared by every
// subcommand.
package config

import (
	"os"
	"regexp"
)

// placeholder matches ${NAME} and ${NAME:-fallback}.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${NAME} and ${NAME:-fallback} placeholders from the
// process environment. An unset or empty variable takes its fallback, or
// the empty string when it has none; missing secrets surface in Validate
// or when the client that needs them is built.
func ExpandEnv(input string) string {
	return expand(input, os.LookupEnv)
}

func expand(input string, lookup func(string) (string, bool)) string {
	matches := placeholder.FindAllStringSubmatchIndex(input, -1)
	if len(matches) == 0 {
		return input
	}

	out := make([]byte, 0, len(input))
	last := 0
	for _, m := range matches {
		out = append(out, input[last:m[0]]...)
		last = m[1]

		if value, ok := lookup(input[m[2]:m[3]]); ok && value != "" {
			out = append(out, value...)
			continue
		}
		if m[6] >= 0 {
			out = append(out, input[m[6]:m[7]]...)
		}
	}
	out = append(out, input[last:]...)
	return string(out)
}
