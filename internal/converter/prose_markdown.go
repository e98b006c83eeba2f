package converter

import (
	"regexp"
	"strconv"
	"strings"
)

// Markdown to storage format. Inverse of prose_storage.go over the
// canonical forms ToLocal produces, tolerant of hand-written input.

var (
	containerRe = regexp.MustCompile(`^:::([a-z][a-z0-9-]*)\s*(\{.*\})?\s*$`)
	leafRe      = regexp.MustCompile(`^::([a-z][a-z0-9-]*)\s*(\{.*\})?\s*$`)
	headingRe   = regexp.MustCompile(`^(#{1,6}) (.*)$`)
	listItemRe  = regexp.MustCompile(`^(\s*)(-|\*|\d+\.) (.*)$`)
	soloImageRe = regexp.MustCompile(`^!\[[^\]]*\]\([^)]*\)(\{[^}]*\})?$`)
)

// markdownToStorage converts a Markdown body (or a rich macro body) to
// storage format. Directive and fence blocks are handled here; everything
// else is prose.
func (c *conv) markdownToStorage(md string) string {
	lines := strings.Split(md, "\n")
	var out strings.Builder
	var prose []string

	flush := func() {
		if len(prose) > 0 {
			out.WriteString(c.proseToStorage(strings.Join(prose, "\n")))
			prose = prose[:0]
		}
	}

	i := 0
	for i < len(lines) {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "```"):
			flush()
			content, next := collectUntil(lines, i+1, "```")
			out.WriteString(c.codeFenceToStorage(strings.TrimPrefix(line, "```"), content))
			i = next

		case line == ":::"+rawDirective:
			flush()
			content, next := collectUntil(lines, i+1, ":::")
			// passthrough: original remote markup, byte for byte
			out.WriteString(strings.Join(content, "\n"))
			i = next

		case containerRe.MatchString(line):
			flush()
			m := containerRe.FindStringSubmatch(line)
			body, next := collectContainer(lines, i+1)
			out.WriteString(c.containerToStorage(m[1], m[2], body))
			i = next

		case leafRe.MatchString(line):
			flush()
			m := leafRe.FindStringSubmatch(line)
			out.WriteString(c.leafToStorage(line, m[1], m[2]))
			i++

		default:
			prose = append(prose, line)
			i++
		}
	}
	flush()
	return out.String()
}

// collectUntil gathers lines until the exact terminator, returning the body
// and the index just past it.
func collectUntil(lines []string, start int, terminator string) ([]string, int) {
	for j := start; j < len(lines); j++ {
		if lines[j] == terminator {
			return lines[start:j], j + 1
		}
	}
	return lines[start:], len(lines)
}

// collectContainer gathers a container directive body, respecting nested
// containers, up to the matching bare ::: line.
func collectContainer(lines []string, start int) ([]string, int) {
	depth := 1
	for j := start; j < len(lines); j++ {
		switch {
		case lines[j] == ":::":
			depth--
			if depth == 0 {
				return lines[start:j], j + 1
			}
		case containerRe.MatchString(lines[j]):
			depth++
		}
	}
	return lines[start:], len(lines)
}

func (c *conv) codeFenceToStorage(info string, content []string) string {
	info = strings.TrimSpace(info)
	params := map[string]string{}

	paramStr := ""
	if strings.HasPrefix(info, "{") {
		paramStr = info
	} else if idx := strings.IndexByte(info, ' '); idx >= 0 {
		params["language"] = info[:idx]
		paramStr = strings.TrimSpace(info[idx+1:])
	} else if info != "" {
		params["language"] = info
	}

	if paramStr != "" {
		parsed, err := parseParams(paramStr)
		if err != nil {
			c.warnErr(&ConversionError{Macro: "code", Detail: err.Error()})
		} else {
			for k, v := range parsed {
				params[k] = v
			}
		}
	}

	return renderMacroStorage(macroByName["code"], params, strings.Join(content, "\n"), "")
}

func (c *conv) containerToStorage(directive, paramStr string, body []string) string {
	spec, ok := macroByDirective[directive]
	if !ok || spec.Body != bodyRich {
		c.warnErr(&ConversionError{Macro: directive, Detail: "unknown or bodiless container directive"})
		return c.proseToStorage(":::" + directive + paramStr + "\n" + strings.Join(body, "\n") + "\n:::")
	}

	params, err := parseParams(paramStr)
	if err != nil {
		c.warnErr(&ConversionError{Macro: directive, Detail: err.Error()})
		return c.proseToStorage(":::" + directive + paramStr + "\n" + strings.Join(body, "\n") + "\n:::")
	}

	rich := c.markdownToStorage(strings.Join(body, "\n"))
	return renderMacroStorage(spec, params, "", rich)
}

func (c *conv) leafToStorage(line, directive, paramStr string) string {
	spec, ok := macroByDirective[directive]
	if !ok || spec.Body != bodyNone {
		c.warnErr(&ConversionError{Macro: directive, Detail: "unknown leaf directive"})
		return c.proseToStorage(line)
	}

	params, err := parseParams(paramStr)
	if err != nil {
		c.warnErr(&ConversionError{Macro: directive, Detail: err.Error()})
		return c.proseToStorage(line)
	}

	return renderMacroStorage(spec, params, "", "")
}

// renderMacroStorage emits the canonical storage form of a macro.
func renderMacroStorage(spec *macroSpec, params map[string]string, plain, rich string) string {
	var b strings.Builder
	b.WriteString(`<ac:structured-macro ac:name="` + spec.Name + `" ac:schema-version="1">`)
	for _, k := range orderedKeys(spec, params) {
		b.WriteString(`<ac:parameter ac:name="` + escapeAttr(k) + `">` + escapeText(params[k]) + `</ac:parameter>`)
	}
	switch spec.Body {
	case bodyPlain:
		b.WriteString(`<ac:plain-text-body><![CDATA[` + plain + `]]></ac:plain-text-body>`)
	case bodyRich:
		b.WriteString(`<ac:rich-text-body>` + rich + `</ac:rich-text-body>`)
	}
	b.WriteString(`</ac:structured-macro>`)
	return b.String()
}

// proseToStorage converts a chunk of prose Markdown into XHTML blocks.
func (c *conv) proseToStorage(md string) string {
	lines := strings.Split(md, "\n")
	var b strings.Builder

	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.TrimSpace(line) == "":
			i++

		case headingRe.MatchString(line):
			m := headingRe.FindStringSubmatch(line)
			level := strconv.Itoa(len(m[1]))
			b.WriteString("<h" + level + ">" + c.inlineToStorage(m[2]) + "</h" + level + ">")
			i++

		case line == "---":
			b.WriteString("<hr/>")
			i++

		case strings.HasPrefix(line, ">"):
			var quoted []string
			for i < len(lines) && strings.HasPrefix(lines[i], ">") {
				quoted = append(quoted, strings.TrimPrefix(strings.TrimPrefix(lines[i], ">"), " "))
				i++
			}
			b.WriteString("<blockquote>" + c.markdownToStorage(strings.Join(quoted, "\n")) + "</blockquote>")

		case listItemRe.MatchString(line):
			var items []string
			for i < len(lines) && listItemRe.MatchString(lines[i]) {
				items = append(items, lines[i])
				i++
			}
			list, _ := c.listToStorage(outdentList(items), 0)
			b.WriteString(list)

		default:
			var para []string
			for i < len(lines) && !proseBoundary(lines[i]) {
				para = append(para, lines[i])
				i++
			}
			b.WriteString(c.paragraphToStorage(para))
		}
	}
	return b.String()
}

func proseBoundary(line string) bool {
	return strings.TrimSpace(line) == "" ||
		headingRe.MatchString(line) ||
		line == "---" ||
		strings.HasPrefix(line, ">") ||
		listItemRe.MatchString(line)
}

func (c *conv) paragraphToStorage(para []string) string {
	if len(para) == 1 && soloImageRe.MatchString(para[0]) {
		// a lone image is a block-level element, not a paragraph
		return c.inlineToStorage(para[0])
	}
	parts := make([]string, len(para))
	for i, line := range para {
		parts[i] = c.inlineToStorage(line)
	}
	return "<p>" + strings.Join(parts, "<br/>") + "</p>"
}

// outdentList strips the common leading indentation so a list whose first
// item is indented still renders from depth zero. Relative nesting between
// items is preserved.
func outdentList(items []string) []string {
	minIndent := -1
	for _, item := range items {
		m := listItemRe.FindStringSubmatch(item)
		if m == nil {
			return items
		}
		if minIndent < 0 || len(m[1]) < minIndent {
			minIndent = len(m[1])
		}
	}
	if minIndent <= 0 {
		return items
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item[minIndent:]
	}
	return out
}

// listToStorage renders consecutive list item lines (possibly nested by
// two-space indentation) and returns the markup plus lines consumed.
func (c *conv) listToStorage(items []string, depth int) (string, int) {
	indent := strings.Repeat("  ", depth)
	ordered := false
	if m := listItemRe.FindStringSubmatch(items[0]); m != nil {
		ordered = m[2] != "-" && m[2] != "*"
	}

	tag := "ul"
	if ordered {
		tag = "ol"
	}

	var b strings.Builder
	b.WriteString("<" + tag + ">")
	i := 0
	for i < len(items) {
		m := listItemRe.FindStringSubmatch(items[i])
		if m == nil {
			break
		}
		if len(m[1]) < len(indent) {
			break
		}
		if len(m[1]) > len(indent) {
			// deeper level belongs to the previous item; handled below
			break
		}

		content := c.inlineToStorage(m[3])
		i++

		// gather a nested sublist
		var sub string
		if i < len(items) {
			if sm := listItemRe.FindStringSubmatch(items[i]); sm != nil && len(sm[1]) > len(indent) {
				var consumed int
				sub, consumed = c.listToStorage(items[i:], depth+1)
				i += consumed
			}
		}

		b.WriteString("<li>" + content + sub + "</li>")
	}
	b.WriteString("</" + tag + ">")
	return b.String(), i
}
