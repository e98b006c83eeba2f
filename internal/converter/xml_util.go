package converter

import (
	"fmt"
	"strings"
)

// Storage format is XHTML-ish but not namespace-well-formed XML, so the
// element scanning here is a small hand tokenizer rather than encoding/xml.

// tagAttrs extracts the attributes of the opening tag starting at s[0] == '<'.
// Returns the attribute map, the offset just past the opening tag, and
// whether the tag was self-closing.
func tagAttrs(s string) (map[string]string, int, bool, error) {
	end := strings.IndexByte(s, '>')
	if end < 0 {
		return nil, 0, false, fmt.Errorf("unterminated tag %q", truncate(s, 40))
	}

	tag := s[1:end]
	selfClosing := strings.HasSuffix(strings.TrimSpace(tag), "/")
	if selfClosing {
		tag = strings.TrimSuffix(strings.TrimSpace(tag), "/")
	}

	attrs := map[string]string{}
	// skip the tag name
	rest := tag
	if sp := strings.IndexAny(rest, " \t\n"); sp >= 0 {
		rest = rest[sp:]
	} else {
		rest = ""
	}

	for {
		rest = strings.TrimLeft(rest, " \t\n")
		if rest == "" {
			break
		}
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			return nil, 0, false, fmt.Errorf("malformed attribute in %q", truncate(tag, 40))
		}
		name := strings.TrimSpace(rest[:eq])
		rest = strings.TrimLeft(rest[eq+1:], " \t\n")
		if len(rest) < 2 || rest[0] != '"' {
			return nil, 0, false, fmt.Errorf("unquoted attribute %q", name)
		}
		close := strings.IndexByte(rest[1:], '"')
		if close < 0 {
			return nil, 0, false, fmt.Errorf("unterminated attribute %q", name)
		}
		attrs[name] = unescapeEntities(rest[1 : 1+close])
		rest = rest[close+2:]
	}

	return attrs, end + 1, selfClosing, nil
}

// findElement locates the full extent of the element whose opening tag
// starts at s[start]. Nesting of the same tag is respected. Returns the end
// offset (exclusive) of the closing tag.
func findElement(s string, start int, tagName string) (int, error) {
	open := "<" + tagName
	close := "</" + tagName + ">"

	_, bodyOff, selfClosing, err := tagAttrs(s[start:])
	if err != nil {
		return 0, err
	}
	if selfClosing {
		return start + bodyOff, nil
	}

	depth := 1
	i := start + bodyOff
	for i < len(s) {
		nextOpen := indexTag(s, i, open)
		nextClose := strings.Index(s[i:], close)
		if nextClose < 0 {
			return 0, fmt.Errorf("missing closing tag </%s>", tagName)
		}
		nextClose += i

		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			i = nextOpen + len(open)
			continue
		}

		depth--
		i = nextClose + len(close)
		if depth == 0 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("missing closing tag </%s>", tagName)
}

// indexTag finds the next occurrence of open (e.g. "<ac:image") at or after
// i that is a real tag boundary, i.e. followed by whitespace, '>', or '/'.
func indexTag(s string, i int, open string) int {
	for {
		idx := strings.Index(s[i:], open)
		if idx < 0 {
			return -1
		}
		idx += i
		after := idx + len(open)
		if after >= len(s) {
			return -1
		}
		switch s[after] {
		case ' ', '\t', '\n', '>', '/':
			return idx
		}
		i = after
	}
}

// innerBody returns the content between the opening tag starting at s[0]
// and its matching closing tag. Empty for self-closing tags.
func innerBody(s, tagName string) (string, error) {
	_, bodyOff, selfClosing, err := tagAttrs(s)
	if err != nil {
		return "", err
	}
	if selfClosing {
		return "", nil
	}
	end, err := findElement(s, 0, tagName)
	if err != nil {
		return "", err
	}
	close := "</" + tagName + ">"
	return s[bodyOff : end-len(close)], nil
}

func escapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

func escapeAttr(s string) string {
	return strings.ReplaceAll(escapeText(s), `"`, "&quot;")
}

func unescapeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	r := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
		"&nbsp;", " ",
		"&amp;", "&", // keep last so double-escapes survive one level
	)
	return r.Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
