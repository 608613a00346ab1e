// Package naming derives database identifiers from Go names.
package naming

import "strings"

// SnakeCase converts a CamelCase type name to the snake_case table name
// convention. Runs of uppercase letters followed by a lowercase letter or
// digit split before the last letter of the run, so acronyms stay intact:
//
//	FOOBar     -> foo_bar
//	BazBar     -> baz_bar
//	RubberDuck -> rubber_duck
//	HTTPServer -> http_server
func SnakeCase(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)

	runes := []rune(name)
	for i := 0; i < len(runes); {
		if !isUpper(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}

		// Collect the full run of uppercase letters.
		j := i
		for j < len(runes) && isUpper(runes[j]) {
			j++
		}

		// A run followed by a lowercase letter or digit contributes its last
		// letter to the next word.
		if j < len(runes) && isWordTail(runes[j]) {
			if j-i > 1 {
				b.WriteByte('_')
				b.WriteString(string(runes[i : j-1]))
				b.WriteByte('_')
				b.WriteRune(runes[j-1])
			} else {
				b.WriteByte('_')
				b.WriteRune(runes[i])
			}
		} else {
			b.WriteByte('_')
			b.WriteString(string(runes[i:j]))
		}
		i = j
	}

	return strings.ToLower(strings.TrimPrefix(b.String(), "_"))
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }

func isWordTail(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}
