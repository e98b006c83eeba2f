// Package converter transforms between the remote store's storage format
// and Markdown with macro extensions. Both directions are pure functions:
// no network, no filesystem.
//
// The macro mapping is table-driven (macro_table.go). Content using
// unsupported or malformed remote markup is preserved verbatim inside a
// :::raw passthrough block so a later push reproduces the original bytes.
package converter

import (
	"strings"
)

const (
	macroTag     = "ac:structured-macro"
	paramTag     = "ac:parameter"
	plainBodyTag = "ac:plain-text-body"
	richBodyTag  = "ac:rich-text-body"
	imageTag     = "ac:image"
	linkTag      = "ac:link"
	linkBodyTag  = "ac:plain-text-link-body"

	rawDirective = "raw"
)

// ToLocal converts a storage-format body to Markdown. Attachment references
// found in image and file-link markup are collected into Result.Refs.
func ToLocal(storage string, opts Options) *Result {
	c := newConv(opts)
	md := c.storageToMarkdown(storage)
	return &Result{Content: md, Refs: c.refs, Warnings: c.warnings}
}

// ToRemote converts Markdown back to a storage-format body. Raw passthrough
// blocks are emitted byte-for-byte.
func ToRemote(markdown string, opts Options) *Result {
	c := newConv(opts)
	body := c.markdownToStorage(markdown)
	return &Result{Content: body, Refs: c.refs, Warnings: c.warnings}
}

// conv carries per-conversion state: collected attachment refs and warnings.
type conv struct {
	opts     Options
	refs     []string
	seen     map[string]bool
	warnings []Warning
}

func newConv(opts Options) *conv {
	return &conv{opts: opts, seen: map[string]bool{}}
}

func (c *conv) addRef(filename string) {
	if filename == "" || c.seen[filename] {
		return
	}
	c.seen[filename] = true
	c.refs = append(c.refs, filename)
}

func (c *conv) warnErr(err *ConversionError) {
	c.warnings = append(c.warnings, err.warning())
}

// attachmentPath renders the Markdown-relative path for an attachment.
func (c *conv) attachmentPath(filename string) string {
	if c.opts.AttachmentsDir == "" {
		return filename
	}
	return c.opts.AttachmentsDir + "/" + filename
}

// attachmentName reports whether path points into the page's attachments
// directory, returning the bare filename if so.
func (c *conv) attachmentName(path string) (string, bool) {
	if c.opts.AttachmentsDir == "" {
		return "", false
	}
	prefix := c.opts.AttachmentsDir + "/"
	if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" && !strings.Contains(rest, "/") {
		return rest, true
	}
	return "", false
}

// storageToMarkdown splits a storage body into top-level macro elements and
// the prose between them, converting each. Blocks join with blank lines.
func (c *conv) storageToMarkdown(storage string) string {
	var blocks []string
	i := 0
	for i < len(storage) {
		next := indexTag(storage, i, "<"+macroTag)
		if next < 0 {
			blocks = append(blocks, c.proseToMarkdown(storage[i:])...)
			break
		}
		if next > i {
			blocks = append(blocks, c.proseToMarkdown(storage[i:next])...)
		}

		end, err := findElement(storage, next, macroTag)
		if err != nil {
			// unparseable tail; keep it verbatim
			c.warnErr(&ConversionError{Macro: macroTag, Detail: err.Error()})
			blocks = append(blocks, rawBlock(storage[next:]))
			break
		}
		blocks = append(blocks, c.macroToMarkdown(storage[next:end]))
		i = end
	}
	return strings.Join(blocks, "\n\n")
}

// macroToMarkdown converts one <ac:structured-macro> element. Unknown
// macros become raw passthrough; malformed ones additionally warn.
func (c *conv) macroToMarkdown(elem string) string {
	attrs, _, _, err := tagAttrs(elem)
	if err != nil {
		c.warnErr(&ConversionError{Macro: macroTag, Detail: err.Error()})
		return rawBlock(elem)
	}

	name := attrs["ac:name"]
	spec, supported := macroByName[name]
	if !supported {
		return rawBlock(elem)
	}

	body, err := innerBody(elem, macroTag)
	if err != nil {
		c.warnErr(&ConversionError{Macro: name, Detail: err.Error()})
		return rawBlock(elem)
	}

	params, plain, rich, err := c.parseMacroBody(name, body)
	if err != nil {
		c.warnErr(&ConversionError{Macro: name, Detail: err.Error()})
		return rawBlock(elem)
	}

	switch spec.Body {
	case bodyPlain:
		// fenced code block
		lang := params["language"]
		delete(params, "language")
		info := lang
		if p := renderParams(spec, params); p != "" {
			if info != "" {
				info += " "
			}
			info += p
		}
		return "```" + info + "\n" + plain + "\n```"

	case bodyRich:
		open := ":::" + spec.Directive + renderParams(spec, params)
		inner := c.storageToMarkdown(rich)
		if inner == "" {
			return open + "\n:::"
		}
		return open + "\n" + inner + "\n:::"

	default:
		if plain != "" || rich != "" {
			c.warnErr(&ConversionError{Macro: name, Detail: "unexpected macro body"})
			return rawBlock(elem)
		}
		return "::" + spec.Directive + renderParams(spec, params)
	}
}

// parseMacroBody extracts ac:parameter children plus the plain or rich body
// of a macro element's inner content.
func (c *conv) parseMacroBody(name, inner string) (params map[string]string, plain, rich string, err error) {
	params = map[string]string{}
	i := 0
	for i < len(inner) {
		rest := strings.TrimLeft(inner[i:], " \t\n")
		i = len(inner) - len(rest)
		if rest == "" {
			break
		}

		switch {
		case strings.HasPrefix(rest, "<"+paramTag):
			end, ferr := findElement(inner, i, paramTag)
			if ferr != nil {
				return nil, "", "", ferr
			}
			elem := inner[i:end]
			attrs, bodyOff, selfClosing, aerr := tagAttrs(elem)
			if aerr != nil {
				return nil, "", "", aerr
			}
			key := attrs["ac:name"]
			if key == "" {
				return nil, "", "", &ConversionError{Macro: name, Detail: "parameter without ac:name"}
			}
			if selfClosing {
				params[key] = ""
			} else {
				params[key] = unescapeEntities(elem[bodyOff : len(elem)-len("</"+paramTag+">")])
			}
			i = end

		case strings.HasPrefix(rest, "<"+plainBodyTag):
			end, ferr := findElement(inner, i, plainBodyTag)
			if ferr != nil {
				return nil, "", "", ferr
			}
			body, berr := innerBody(inner[i:end], plainBodyTag)
			if berr != nil {
				return nil, "", "", berr
			}
			plain = stripCDATA(body)
			i = end

		case strings.HasPrefix(rest, "<"+richBodyTag):
			end, ferr := findElement(inner, i, richBodyTag)
			if ferr != nil {
				return nil, "", "", ferr
			}
			body, berr := innerBody(inner[i:end], richBodyTag)
			if berr != nil {
				return nil, "", "", berr
			}
			rich = body
			i = end

		default:
			return nil, "", "", &ConversionError{Macro: name, Detail: "unexpected content " + truncate(rest, 40)}
		}
	}
	return params, plain, rich, nil
}

func stripCDATA(s string) string {
	s = strings.TrimPrefix(s, "<![CDATA[")
	s = strings.TrimSuffix(s, "]]>")
	return s
}

func rawBlock(elem string) string {
	return ":::" + rawDirective + "\n" + elem + "\n:::"
}
