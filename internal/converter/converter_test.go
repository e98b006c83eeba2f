package converter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{AttachmentsDir: "welcome.attachments"}

// roundTrip pushes Markdown to storage and back, asserting byte equality.
func roundTrip(t *testing.T, markdown string) {
	t.Helper()
	remote := ToRemote(markdown, testOpts)
	require.Empty(t, remote.Warnings, "to remote warnings")
	local := ToLocal(remote.Content, testOpts)
	require.Empty(t, local.Warnings, "to local warnings")
	assert.Equal(t, markdown, local.Content, "storage was: %s", remote.Content)
}

func TestRoundTrip_Prose(t *testing.T) {
	cases := map[string]string{
		"heading":    "# Title\n\nSome paragraph text.",
		"emphasis":   "Text with **bold**, *italic* and `code` spans.",
		"link":       "See [the docs](https://example.com/docs) for more.",
		"multiline":  "First line\nsecond line of the same paragraph.",
		"quote":      "> Quoted wisdom\n> on two lines.",
		"rule":       "Above\n\n---\n\nBelow",
		"unordered":  "- one\n- two\n  - nested\n- three",
		"ordered":    "1. first\n2. second",
		"deep":       "## Section\n\n- item with **bold**\n  - child with [link](https://example.com)",
		"escapes":    "Literal \\*stars\\* and a \\`backtick\\`.",
		"everything": "# Doc\n\nIntro paragraph.\n\n- a\n- b\n\n> note\n\nClosing.",
	}
	for name, md := range cases {
		t.Run(name, func(t *testing.T) {
			roundTrip(t, md)
		})
	}
}

func TestRoundTrip_Macros(t *testing.T) {
	cases := map[string]string{
		"code":          "```go {title=\"main.go\"}\nfmt.Println(\"hi\")\n```",
		"code-plain":    "```\nno language here\n```",
		"status":        `::status{colour="Green" title="On Track"}`,
		"jira":          `::jira{key="PROJ-123"}`,
		"children":      `::children{depth="2"}`,
		"include":       `::include{page="Other Page" space="DOC"}`,
		"anchor":        `::anchor{name="top"}`,
		"panel":         ":::panel{title=\"Note\"}\nPanel body text.\n:::",
		"excerpt":       ":::excerpt\nReusable intro.\n:::",
		"empty-section": ":::section\n:::",
		"nested":        ":::section{border=\"true\"}\n:::column{width=\"50%\"}\nLeft side.\n:::\n\n:::column{width=\"50%\"}\nRight side.\n:::\n:::",
		"gallery":       `::gallery{columns="3"}`,
		"attachments":   `::attachments{patterns="*.png"}`,
		"media":         `::media{name="demo.mp4" width="640"}`,
		"pagetree":      `::pagetree{root="Home"}`,
	}
	for name, md := range cases {
		t.Run(name, func(t *testing.T) {
			roundTrip(t, md)
		})
	}
}

func TestRoundTrip_AttachmentImage(t *testing.T) {
	md := `![diagram](welcome.attachments/diagram.png){width="600"}`
	remote := ToRemote(md, testOpts)
	require.Empty(t, remote.Warnings)
	assert.Equal(t, []string{"diagram.png"}, remote.Refs)
	assert.Contains(t, remote.Content, `<ri:attachment ri:filename="diagram.png"/>`)
	assert.Contains(t, remote.Content, `ac:width="600"`)
	// block-level image is not wrapped in a paragraph
	assert.False(t, strings.HasPrefix(remote.Content, "<p>"))

	local := ToLocal(remote.Content, testOpts)
	require.Empty(t, local.Warnings)
	assert.Equal(t, md, local.Content)
	assert.Equal(t, []string{"diagram.png"}, local.Refs)
}

func TestRoundTrip_FileLink(t *testing.T) {
	md := "Download the [spec](welcome.attachments/spec.pdf) first."
	remote := ToRemote(md, testOpts)
	require.Empty(t, remote.Warnings)
	assert.Equal(t, []string{"spec.pdf"}, remote.Refs)
	assert.Contains(t, remote.Content, `<ac:link><ri:attachment ri:filename="spec.pdf"/>`)

	local := ToLocal(remote.Content, testOpts)
	assert.Equal(t, md, local.Content)
	assert.Equal(t, []string{"spec.pdf"}, local.Refs)
}

func TestRoundTrip_ExternalImageAndLink(t *testing.T) {
	roundTrip(t, "![logo](https://example.com/logo.png)")
	roundTrip(t, "An [external link](https://example.com).")
	// neither produces attachment refs
	res := ToRemote("![logo](https://example.com/logo.png)", testOpts)
	assert.Empty(t, res.Refs)
}

func TestRoundTrip_PageLink(t *testing.T) {
	roundTrip(t, "See [Setup Guide](page:Setup Guide).")
}

func TestToLocal_UnknownMacroPassthrough(t *testing.T) {
	storage := `<ac:structured-macro ac:name="fancy-toc" ac:schema-version="1"><ac:parameter ac:name="style">disc</ac:parameter></ac:structured-macro>`
	local := ToLocal(storage, testOpts)
	require.Empty(t, local.Warnings, "unknown macros are not errors")
	assert.Equal(t, ":::raw\n"+storage+"\n:::", local.Content)

	// push-back reproduces the original remote markup byte for byte
	remote := ToRemote(local.Content, testOpts)
	assert.Equal(t, storage, remote.Content)
}

func TestToLocal_MalformedMacroWarnsAndPreserves(t *testing.T) {
	// status is bodyless; a rich body is malformed
	storage := `<ac:structured-macro ac:name="status" ac:schema-version="1"><ac:rich-text-body><p>x</p></ac:rich-text-body></ac:structured-macro>`
	local := ToLocal(storage, testOpts)
	require.Len(t, local.Warnings, 1)
	assert.Equal(t, "status", local.Warnings[0].Macro)
	assert.Contains(t, local.Content, ":::raw")

	remote := ToRemote(local.Content, testOpts)
	assert.Equal(t, storage, remote.Content)
}

func TestToLocal_ParameterOrderInsignificant(t *testing.T) {
	a := `<ac:structured-macro ac:name="status" ac:schema-version="1"><ac:parameter ac:name="colour">Red</ac:parameter><ac:parameter ac:name="title">Blocked</ac:parameter></ac:structured-macro>`
	b := `<ac:structured-macro ac:name="status" ac:schema-version="1"><ac:parameter ac:name="title">Blocked</ac:parameter><ac:parameter ac:name="colour">Red</ac:parameter></ac:structured-macro>`
	assert.Equal(t, ToLocal(a, testOpts).Content, ToLocal(b, testOpts).Content)
}

func TestToLocal_UnknownParameterSurvives(t *testing.T) {
	storage := `<ac:structured-macro ac:name="status" ac:schema-version="1"><ac:parameter ac:name="colour">Red</ac:parameter><ac:parameter ac:name="zzz-custom">42</ac:parameter></ac:structured-macro>`
	local := ToLocal(storage, testOpts)
	require.Empty(t, local.Warnings)
	assert.Equal(t, `::status{colour="Red" zzz-custom="42"}`, local.Content)

	remote := ToRemote(local.Content, testOpts)
	assert.Contains(t, remote.Content, `<ac:parameter ac:name="zzz-custom">42</ac:parameter>`)
}

func TestToRemote_IndentedListKeepsItems(t *testing.T) {
	res := ToRemote("  - alpha\n  - beta", testOpts)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "<ul><li>alpha</li><li>beta</li></ul>", res.Content)

	// relative nesting below the indented base is preserved
	nested := ToRemote("  - alpha\n    - child\n  - beta", testOpts)
	assert.Equal(t, "<ul><li>alpha<ul><li>child</li></ul></li><li>beta</li></ul>", nested.Content)
}

func TestToRemote_UnknownDirectiveWarns(t *testing.T) {
	res := ToRemote("::frobnicate{x=\"1\"}", testOpts)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "frobnicate", res.Warnings[0].Macro)
	// content kept as literal text instead of dropped
	assert.Contains(t, res.Content, "frobnicate")
}

func TestToLocal_EntityEscapes(t *testing.T) {
	storage := `<p>Fish &amp; chips &lt;tasty&gt;</p>`
	local := ToLocal(storage, testOpts)
	assert.Equal(t, "Fish & chips <tasty>", local.Content)

	remote := ToRemote(local.Content, testOpts)
	assert.Equal(t, storage, remote.Content)
}

func TestToLocal_CodeCDATA(t *testing.T) {
	storage := `<ac:structured-macro ac:name="code" ac:schema-version="1"><ac:parameter ac:name="language">xml</ac:parameter><ac:plain-text-body><![CDATA[<b>not markup</b>]]></ac:plain-text-body></ac:structured-macro>`
	local := ToLocal(storage, testOpts)
	require.Empty(t, local.Warnings)
	assert.Equal(t, "```xml\n<b>not markup</b>\n```", local.Content)
}

func TestRefs_Deduplicated(t *testing.T) {
	md := "![a](welcome.attachments/x.png)\n\n![b](welcome.attachments/x.png)\n\n[x](welcome.attachments/y.pdf)"
	res := ToRemote(md, testOpts)
	assert.Equal(t, []string{"x.png", "y.pdf"}, res.Refs)
}

func TestToRemote_PureFunctionNoStateLeak(t *testing.T) {
	// two conversions with the same input are identical
	md := "# A\n\n::status{colour=\"Green\"}"
	first := ToRemote(md, testOpts)
	second := ToRemote(md, testOpts)
	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, first.Refs, second.Refs)
}

func TestSemanticEquivalence_ForeignFormatting(t *testing.T) {
	// whitespace between elements and attribute order differ from canonical
	storage := "<p>hello</p>\n  <ac:structured-macro ac:schema-version=\"1\" ac:name=\"status\">\n<ac:parameter ac:name=\"colour\">Green</ac:parameter>\n</ac:structured-macro>"
	local := ToLocal(storage, testOpts)
	require.Empty(t, local.Warnings)

	remote := ToRemote(local.Content, testOpts)
	// canonical form: same macro, same parameters
	assert.Contains(t, remote.Content, `<p>hello</p>`)
	assert.Contains(t, remote.Content, `ac:name="status"`)
	assert.Contains(t, remote.Content, `<ac:parameter ac:name="colour">Green</ac:parameter>`)
}
