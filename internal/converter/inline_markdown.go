package converter

import (
	"strings"
)

// Inline Markdown to storage markup: emphasis, code spans, images, links,
// attachment references. One line at a time; newlines are handled by the
// paragraph renderer.

func (c *conv) inlineToStorage(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		ch := s[i]
		switch {
		case ch == '\\' && i+1 < len(s):
			b.WriteString(escapeText(string(s[i+1])))
			i += 2

		case ch == '`':
			end := indexUnescaped(s, i+1, '`')
			if end < 0 {
				b.WriteString(escapeText(string(ch)))
				i++
				break
			}
			b.WriteString("<code>" + escapeText(s[i+1:end]) + "</code>")
			i = end + 1

		case ch == '*' || ch == '_':
			double := i+1 < len(s) && s[i+1] == ch
			marker := string(ch)
			if double {
				marker += marker
			}
			end := indexMarker(s, i+len(marker), marker)
			if end < 0 {
				b.WriteString(escapeText(string(ch)))
				i++
				break
			}
			inner := c.inlineToStorage(s[i+len(marker) : end])
			if double {
				b.WriteString("<strong>" + inner + "</strong>")
			} else {
				b.WriteString("<em>" + inner + "</em>")
			}
			i = end + len(marker)

		case ch == '!' && i+1 < len(s) && s[i+1] == '[':
			img, next, ok := c.imageToStorage(s, i)
			if !ok {
				b.WriteString(escapeText(string(ch)))
				i++
				break
			}
			b.WriteString(img)
			i = next

		case ch == '[':
			link, next, ok := c.linkToStorage(s, i)
			if !ok {
				b.WriteString(escapeText(string(ch)))
				i++
				break
			}
			b.WriteString(link)
			i = next

		default:
			j := i
			for j < len(s) && !strings.ContainsRune("\\`*_![", rune(s[j])) {
				j++
			}
			b.WriteString(escapeText(s[i:j]))
			i = j
		}
	}
	return b.String()
}

// imageToStorage parses ![alt](target){params} starting at s[i] == '!'.
func (c *conv) imageToStorage(s string, i int) (string, int, bool) {
	alt, target, params, next, ok := c.parseLinkSyntax(s, i+1)
	if !ok {
		return "", 0, false
	}

	var b strings.Builder
	b.WriteString("<ac:image")
	if alt != "" {
		b.WriteString(` ac:alt="` + escapeAttr(mdUnescape(alt)) + `"`)
	}
	if w := params["width"]; w != "" {
		b.WriteString(` ac:width="` + escapeAttr(w) + `"`)
	}
	if h := params["height"]; h != "" {
		b.WriteString(` ac:height="` + escapeAttr(h) + `"`)
	}
	b.WriteString(">")

	if filename, isAttachment := c.attachmentName(target); isAttachment {
		c.addRef(filename)
		b.WriteString(`<ri:attachment ri:filename="` + escapeAttr(filename) + `"/>`)
	} else {
		b.WriteString(`<ri:url ri:value="` + escapeAttr(target) + `"/>`)
	}
	b.WriteString("</ac:image>")
	return b.String(), next, true
}

// linkToStorage parses [label](target) starting at s[i] == '['. Attachment
// paths become file-link markup, page: targets become page links, anything
// else a plain anchor.
func (c *conv) linkToStorage(s string, i int) (string, int, bool) {
	label, target, _, next, ok := c.parseLinkSyntax(s, i)
	if !ok {
		return "", 0, false
	}

	if filename, isAttachment := c.attachmentName(target); isAttachment {
		c.addRef(filename)
		return `<ac:link><ri:attachment ri:filename="` + escapeAttr(filename) + `"/>` +
			`<ac:plain-text-link-body><![CDATA[` + mdUnescape(label) + `]]></ac:plain-text-link-body></ac:link>`, next, true
	}

	if title, ok := strings.CutPrefix(target, "page:"); ok {
		return `<ac:link><ri:page ri:content-title="` + escapeAttr(title) + `"/>` +
			`<ac:plain-text-link-body><![CDATA[` + mdUnescape(label) + `]]></ac:plain-text-link-body></ac:link>`, next, true
	}

	return `<a href="` + escapeAttr(target) + `">` + c.inlineToStorage(label) + `</a>`, next, true
}

// parseLinkSyntax parses [label](target){params} starting at s[i] == '['.
// The brace block is optional.
func (c *conv) parseLinkSyntax(s string, i int) (label, target string, params map[string]string, next int, ok bool) {
	if i >= len(s) || s[i] != '[' {
		return "", "", nil, 0, false
	}
	closeBracket := indexUnescaped(s, i+1, ']')
	if closeBracket < 0 || closeBracket+1 >= len(s) || s[closeBracket+1] != '(' {
		return "", "", nil, 0, false
	}
	closeParen := indexUnescaped(s, closeBracket+2, ')')
	if closeParen < 0 {
		return "", "", nil, 0, false
	}

	label = s[i+1 : closeBracket]
	target = s[closeBracket+2 : closeParen]
	next = closeParen + 1
	params = map[string]string{}

	if next < len(s) && s[next] == '{' {
		closeBrace := strings.IndexByte(s[next:], '}')
		if closeBrace >= 0 {
			parsed, err := parseParams(s[next : next+closeBrace+1])
			if err == nil {
				params = parsed
				next += closeBrace + 1
			}
		}
	}
	return label, target, params, next, true
}

// indexUnescaped finds the next occurrence of ch at or after i that is not
// preceded by a backslash.
func indexUnescaped(s string, i int, ch byte) int {
	for j := i; j < len(s); j++ {
		if s[j] == '\\' {
			j++
			continue
		}
		if s[j] == ch {
			return j
		}
	}
	return -1
}

// indexMarker finds the next occurrence of an emphasis marker at or after i,
// skipping escaped characters.
func indexMarker(s string, i int, marker string) int {
	for j := i; j+len(marker) <= len(s); j++ {
		if s[j] == '\\' {
			j++
			continue
		}
		if s[j:j+len(marker)] == marker {
			return j
		}
	}
	return -1
}

// mdUnescape strips backslash escapes, leaving the literal characters.
func mdUnescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
