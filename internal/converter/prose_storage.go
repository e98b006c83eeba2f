package converter

import (
	"fmt"
	"strconv"
	"strings"
)

// Storage-format prose to Markdown. Covers the XHTML subset the renderer in
// prose_markdown.go produces; anything else is preserved as raw passthrough.

var headingTags = map[string]int{
	"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6,
}

// proseToMarkdown converts an XHTML prose fragment into Markdown blocks.
func (c *conv) proseToMarkdown(s string) []string {
	var blocks []string
	i := 0
	for i < len(s) {
		rest := strings.TrimLeft(s[i:], " \t\n")
		i = len(s) - len(rest)
		if rest == "" {
			break
		}

		if s[i] != '<' || isInlineStart(s, i) {
			// bare inline content up to the next block-level tag
			end := nextBlockTag(s, i)
			blocks = append(blocks, c.inlineToMarkdown(s[i:end]))
			i = end
			continue
		}

		name := tagNameAt(s, i)
		switch {
		case headingTags[name] > 0:
			end, err := findElement(s, i, name)
			if err != nil {
				blocks = append(blocks, c.rawProse(s[i:], err))
				return blocks
			}
			inner, _ := innerBody(s[i:end], name)
			blocks = append(blocks, strings.Repeat("#", headingTags[name])+" "+c.inlineToMarkdown(inner))
			i = end

		case name == "p":
			end, err := findElement(s, i, "p")
			if err != nil {
				blocks = append(blocks, c.rawProse(s[i:], err))
				return blocks
			}
			inner, _ := innerBody(s[i:end], "p")
			blocks = append(blocks, c.inlineToMarkdown(inner))
			i = end

		case name == "ul" || name == "ol":
			end, err := findElement(s, i, name)
			if err != nil {
				blocks = append(blocks, c.rawProse(s[i:], err))
				return blocks
			}
			list, lerr := c.listToMarkdown(s[i:end], name == "ol", 0)
			if lerr != nil {
				blocks = append(blocks, c.rawProse(s[i:end], lerr))
			} else {
				blocks = append(blocks, list)
			}
			i = end

		case name == "blockquote":
			end, err := findElement(s, i, "blockquote")
			if err != nil {
				blocks = append(blocks, c.rawProse(s[i:], err))
				return blocks
			}
			inner, _ := innerBody(s[i:end], "blockquote")
			quoted := c.storageToMarkdown(inner)
			blocks = append(blocks, quoteLines(quoted))
			i = end

		case name == "hr":
			end, err := findElement(s, i, "hr")
			if err != nil {
				blocks = append(blocks, c.rawProse(s[i:], err))
				return blocks
			}
			blocks = append(blocks, "---")
			i = end

		case name == imageTag:
			end, err := findElement(s, i, imageTag)
			if err != nil {
				blocks = append(blocks, c.rawProse(s[i:], err))
				return blocks
			}
			img, ierr := c.imageToMarkdown(s[i:end])
			if ierr != nil {
				c.warnErr(&ConversionError{Macro: imageTag, Detail: ierr.Error()})
				blocks = append(blocks, rawBlock(s[i:end]))
			} else {
				blocks = append(blocks, img)
			}
			i = end

		default:
			// unknown block element; preserve verbatim
			end, err := findElement(s, i, name)
			if err != nil {
				blocks = append(blocks, c.rawProse(s[i:], err))
				return blocks
			}
			blocks = append(blocks, rawBlock(s[i:end]))
			i = end
		}
	}
	return blocks
}

func (c *conv) rawProse(s string, err error) string {
	c.warnErr(&ConversionError{Detail: err.Error()})
	return rawBlock(strings.TrimSpace(s))
}

// listToMarkdown renders a <ul> or <ol> element at the given nesting depth.
func (c *conv) listToMarkdown(elem string, ordered bool, depth int) (string, error) {
	tag := "ul"
	if ordered {
		tag = "ol"
	}
	inner, err := innerBody(elem, tag)
	if err != nil {
		return "", err
	}

	indent := strings.Repeat("  ", depth)
	var lines []string
	num := 0
	i := 0
	for i < len(inner) {
		rest := strings.TrimLeft(inner[i:], " \t\n")
		i = len(inner) - len(rest)
		if rest == "" {
			break
		}
		if tagNameAt(inner, i) != "li" {
			return "", fmt.Errorf("unexpected list content %q", truncate(rest, 30))
		}
		end, err := findElement(inner, i, "li")
		if err != nil {
			return "", err
		}
		item, _ := innerBody(inner[i:end], "li")
		i = end

		// a trailing nested list belongs to this item
		var sub string
		for _, subTag := range []string{"ul", "ol"} {
			if idx := indexTag(item, 0, "<"+subTag); idx >= 0 {
				subEnd, serr := findElement(item, idx, subTag)
				if serr == nil && strings.TrimSpace(item[subEnd:]) == "" {
					rendered, rerr := c.listToMarkdown(item[idx:subEnd], subTag == "ol", depth+1)
					if rerr != nil {
						return "", rerr
					}
					sub = rendered
					item = item[:idx]
					break
				}
			}
		}

		num++
		marker := "- "
		if ordered {
			marker = strconv.Itoa(num) + ". "
		}
		lines = append(lines, indent+marker+c.inlineToMarkdown(item))
		if sub != "" {
			lines = append(lines, sub)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// imageToMarkdown converts an <ac:image> element, registering the
// attachment reference when the image points at one.
func (c *conv) imageToMarkdown(elem string) (string, error) {
	attrs, _, _, err := tagAttrs(elem)
	if err != nil {
		return "", err
	}
	for k := range attrs {
		switch k {
		case "ac:width", "ac:height", "ac:alt":
		default:
			return "", fmt.Errorf("unsupported image attribute %s", k)
		}
	}

	inner, err := innerBody(elem, imageTag)
	if err != nil {
		return "", err
	}

	var target string
	switch {
	case indexTag(inner, 0, "<ri:attachment") >= 0:
		riAttrs, err := attrsOfFirst(inner, "ri:attachment")
		if err != nil {
			return "", err
		}
		filename := riAttrs["ri:filename"]
		if filename == "" {
			return "", fmt.Errorf("attachment image without ri:filename")
		}
		c.addRef(filename)
		target = c.attachmentPath(filename)
	case indexTag(inner, 0, "<ri:url") >= 0:
		riAttrs, err := attrsOfFirst(inner, "ri:url")
		if err != nil {
			return "", err
		}
		target = riAttrs["ri:value"]
	default:
		return "", fmt.Errorf("image without attachment or url resource")
	}

	md := "![" + mdEscape(attrs["ac:alt"]) + "](" + target + ")"
	sized := map[string]string{}
	if w := attrs["ac:width"]; w != "" {
		sized["width"] = w
	}
	if h := attrs["ac:height"]; h != "" {
		sized["height"] = h
	}
	if len(sized) > 0 {
		md += renderParams(&macroSpec{Params: []string{"width", "height"}}, sized)
	}
	return md, nil
}

// linkToMarkdown converts an <ac:link> element into a Markdown link,
// registering attachment references.
func (c *conv) linkToMarkdown(elem string) (string, error) {
	inner, err := innerBody(elem, linkTag)
	if err != nil {
		return "", err
	}

	var label string
	if idx := indexTag(inner, 0, "<"+linkBodyTag); idx >= 0 {
		end, err := findElement(inner, idx, linkBodyTag)
		if err != nil {
			return "", err
		}
		body, _ := innerBody(inner[idx:end], linkBodyTag)
		label = stripCDATA(body)
	}

	switch {
	case indexTag(inner, 0, "<ri:attachment") >= 0:
		riAttrs, err := attrsOfFirst(inner, "ri:attachment")
		if err != nil {
			return "", err
		}
		filename := riAttrs["ri:filename"]
		if filename == "" {
			return "", fmt.Errorf("attachment link without ri:filename")
		}
		c.addRef(filename)
		if label == "" {
			label = filename
		}
		return "[" + mdEscape(label) + "](" + c.attachmentPath(filename) + ")", nil

	case indexTag(inner, 0, "<ri:page") >= 0:
		riAttrs, err := attrsOfFirst(inner, "ri:page")
		if err != nil {
			return "", err
		}
		title := riAttrs["ri:content-title"]
		if title == "" {
			return "", fmt.Errorf("page link without ri:content-title")
		}
		if label == "" {
			label = title
		}
		return "[" + mdEscape(label) + "](page:" + title + ")", nil
	}

	return "", fmt.Errorf("link without attachment or page resource")
}

// attrsOfFirst parses the attributes of the first occurrence of tagName.
func attrsOfFirst(s, tagName string) (map[string]string, error) {
	idx := indexTag(s, 0, "<"+tagName)
	if idx < 0 {
		return nil, fmt.Errorf("missing <%s>", tagName)
	}
	attrs, _, _, err := tagAttrs(s[idx:])
	return attrs, err
}

// tagNameAt returns the tag name of the element opening at s[i] == '<'.
func tagNameAt(s string, i int) string {
	j := i + 1
	for j < len(s) {
		c := s[j]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == ':' || c == '-' {
			j++
			continue
		}
		break
	}
	return s[i+1 : j]
}

// blockTags are the tags that terminate a run of bare inline content.
var blockTags = []string{"h1", "h2", "h3", "h4", "h5", "h6", "p", "ul", "ol", "blockquote", "hr", "table", imageTag, macroTag}

func isBlockTag(name string) bool {
	for _, t := range blockTags {
		if t == name {
			return true
		}
	}
	return false
}

func isInlineStart(s string, i int) bool {
	if s[i] != '<' {
		return true
	}
	return !isBlockTag(tagNameAt(s, i))
}

// nextBlockTag finds the offset of the next block-level tag at or after i.
func nextBlockTag(s string, i int) int {
	for j := i; j < len(s); j++ {
		if s[j] != '<' {
			continue
		}
		if isBlockTag(tagNameAt(s, j)) {
			return j
		}
	}
	return len(s)
}

func quoteLines(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + l
		}
	}
	return strings.Join(lines, "\n")
}

// inlineToMarkdown converts inline XHTML content to Markdown inline syntax.
func (c *conv) inlineToMarkdown(s string) string {
	var b strings.Builder
	i := 0
	for i < len(s) {
		ch := s[i]
		if ch != '<' {
			// text run up to the next tag
			end := strings.IndexByte(s[i:], '<')
			if end < 0 {
				end = len(s) - i
			}
			b.WriteString(mdEscape(unescapeEntities(s[i : i+end])))
			i += end
			continue
		}

		name := tagNameAt(s, i)
		switch name {
		case "strong", "b":
			inner, end, err := c.inlineInner(s, i, name)
			if err != nil {
				return b.String() + mdEscape(s[i:])
			}
			b.WriteString("**" + c.inlineToMarkdown(inner) + "**")
			i = end
		case "em", "i":
			inner, end, err := c.inlineInner(s, i, name)
			if err != nil {
				return b.String() + mdEscape(s[i:])
			}
			b.WriteString("*" + c.inlineToMarkdown(inner) + "*")
			i = end
		case "code":
			inner, end, err := c.inlineInner(s, i, name)
			if err != nil {
				return b.String() + mdEscape(s[i:])
			}
			b.WriteString("`" + unescapeEntities(inner) + "`")
			i = end
		case "a":
			end, err := findElement(s, i, "a")
			if err != nil {
				return b.String() + mdEscape(s[i:])
			}
			attrs, _, _, aerr := tagAttrs(s[i:end])
			inner, _ := innerBody(s[i:end], "a")
			if aerr != nil {
				return b.String() + mdEscape(s[i:])
			}
			b.WriteString("[" + c.inlineToMarkdown(inner) + "](" + attrs["href"] + ")")
			i = end
		case "br":
			end, err := findElement(s, i, "br")
			if err != nil {
				return b.String() + mdEscape(s[i:])
			}
			b.WriteString("\n")
			i = end
		case imageTag:
			end, err := findElement(s, i, imageTag)
			if err != nil {
				return b.String() + mdEscape(s[i:])
			}
			img, ierr := c.imageToMarkdown(s[i:end])
			if ierr != nil {
				c.warnErr(&ConversionError{Macro: imageTag, Detail: ierr.Error()})
				b.WriteString(mdEscape(s[i:end]))
			} else {
				b.WriteString(img)
			}
			i = end
		case linkTag:
			end, err := findElement(s, i, linkTag)
			if err != nil {
				return b.String() + mdEscape(s[i:])
			}
			link, lerr := c.linkToMarkdown(s[i:end])
			if lerr != nil {
				c.warnErr(&ConversionError{Macro: linkTag, Detail: lerr.Error()})
				b.WriteString(mdEscape(s[i:end]))
			} else {
				b.WriteString(link)
			}
			i = end
		default:
			// unknown inline tag: keep its text form, escaped
			end := strings.IndexByte(s[i:], '>')
			if end < 0 {
				b.WriteString(mdEscape(s[i:]))
				return b.String()
			}
			b.WriteString(mdEscape(s[i : i+end+1]))
			i += end + 1
		}
	}
	return b.String()
}

func (c *conv) inlineInner(s string, i int, name string) (string, int, error) {
	end, err := findElement(s, i, name)
	if err != nil {
		return "", 0, err
	}
	inner, err := innerBody(s[i:end], name)
	if err != nil {
		return "", 0, err
	}
	return inner, end, nil
}

// mdEscape escapes characters that would otherwise be re-parsed as Markdown
// syntax, so text survives a round trip untouched.
func mdEscape(s string) string {
	var b strings.Builder
	atLineStart := true
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch ch {
		case '\\', '`', '*', '_', '[', ']':
			b.WriteByte('\\')
		case '#', '>', '-', ':':
			if atLineStart {
				b.WriteByte('\\')
			}
		}
		b.WriteByte(ch)
		atLineStart = ch == '\n'
	}
	return b.String()
}
