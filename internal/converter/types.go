package converter

import "fmt"

// Options carries the per-page context a conversion needs. The converter
// itself performs no I/O; AttachmentsDir is only used to render and recognize
// relative attachment paths.
type Options struct {
	// AttachmentsDir is the page's sidecar directory name, e.g.
	// "welcome.attachments". Image and link paths under it are attachment
	// references.
	AttachmentsDir string
}

// Result is the outcome of one conversion direction.
type Result struct {
	// Content is the converted body: Markdown for ToLocal, storage format
	// for ToRemote.
	Content string

	// Refs lists attachment filenames referenced by the body, deduplicated,
	// in order of first appearance.
	Refs []string

	// Warnings collects recoverable conversion problems. The offending
	// block is preserved as opaque passthrough rather than dropped.
	Warnings []Warning
}

// Warning describes one recovered conversion problem.
type Warning struct {
	Macro  string
	Detail string
}

func (w Warning) String() string {
	if w.Macro == "" {
		return w.Detail
	}
	return fmt.Sprintf("macro %q: %s", w.Macro, w.Detail)
}

// ConversionError reports a malformed macro. It never aborts a page; callers
// downgrade it to a Warning and keep the block as passthrough.
type ConversionError struct {
	Macro  string
	Detail string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert macro %q: %s", e.Macro, e.Detail)
}

func (e *ConversionError) warning() Warning {
	return Warning{Macro: e.Macro, Detail: e.Detail}
}
