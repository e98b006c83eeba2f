package converter

import (
	"fmt"
	"sort"
	"strings"
)

// parseParams parses a `{key="value" other=bare}` directive parameter block.
// The surrounding braces are optional. Attribute order is not significant.
func parseParams(s string) (map[string]string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")

	params := map[string]string{}
	i := 0
	for i < len(s) {
		// skip whitespace between pairs
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			break
		}

		eq := strings.IndexByte(s[i:], '=')
		if eq <= 0 {
			return nil, fmt.Errorf("malformed parameter at %q", s[i:])
		}
		key := strings.TrimSpace(s[i : i+eq])
		if key == "" || strings.ContainsAny(key, " \t{}\"") {
			return nil, fmt.Errorf("malformed parameter key %q", key)
		}
		i += eq + 1

		var value string
		if i < len(s) && s[i] == '"' {
			i++
			var b strings.Builder
			closed := false
			for i < len(s) {
				c := s[i]
				if c == '\\' && i+1 < len(s) {
					b.WriteByte(s[i+1])
					i += 2
					continue
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				b.WriteByte(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quoted value for %q", key)
			}
			value = b.String()
		} else {
			end := strings.IndexByte(s[i:], ' ')
			if end < 0 {
				end = len(s) - i
			}
			value = s[i : i+end]
			i += end
		}

		params[key] = value
	}

	return params, nil
}

// orderedKeys returns present parameter keys canonically ordered: known
// keys first in spec order, unknown keys after in lexicographic order.
func orderedKeys(spec *macroSpec, params map[string]string) []string {
	var keys []string
	seen := map[string]bool{}
	if spec != nil {
		for _, k := range spec.Params {
			if _, ok := params[k]; ok {
				keys = append(keys, k)
				seen[k] = true
			}
		}
	}
	var rest []string
	for k := range params {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// renderParams renders parameters canonically, values always quoted.
// Returns "" when params is empty.
func renderParams(spec *macroSpec, params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := orderedKeys(spec, params)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(strings.ReplaceAll(strings.ReplaceAll(params[k], `\`, `\\`), `"`, `\"`))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
