package converter

// bodyKind describes what a macro carries between its open and close tags.
type bodyKind int

const (
	bodyNone  bodyKind = iota // self-contained, parameters only
	bodyPlain                 // CDATA plain text (code)
	bodyRich                  // nested storage content
)

// macroSpec is one row of the bidirectional macro mapping table. Adding a
// macro means adding a row here; the transforms themselves are generic.
type macroSpec struct {
	// Name is the storage-format macro name (ac:name).
	Name string

	// Directive is the Markdown-side name. The code macro renders as a
	// fenced block instead; everything else uses a leaf directive
	// (::name{...}) for bodyNone or a container (:::name{...} ... :::)
	// for bodyRich.
	Directive string

	Body bodyKind

	// Params are the known parameter keys in canonical render order.
	// Unknown parameters survive round trips; they render after the known
	// ones in lexicographic order.
	Params []string
}

// macroTable drives conversion in both directions. Never special-case a
// macro type outside this table.
var macroTable = []macroSpec{
	{Name: "code", Directive: "code", Body: bodyPlain, Params: []string{"language", "title", "linenumbers", "collapse", "firstline"}},
	{Name: "status", Directive: "status", Body: bodyNone, Params: []string{"colour", "title", "subtle"}},
	{Name: "jira", Directive: "jira", Body: bodyNone, Params: []string{"key", "server", "serverId"}},
	{Name: "children", Directive: "children", Body: bodyNone, Params: []string{"depth", "all", "sort", "reverse", "page"}},
	{Name: "recently-updated", Directive: "recently-updated", Body: bodyNone, Params: []string{"max", "spaces", "types", "labels"}},
	{Name: "include", Directive: "include", Body: bodyNone, Params: []string{"page", "space"}},
	{Name: "panel", Directive: "panel", Body: bodyRich, Params: []string{"title", "borderStyle", "borderColor", "bgColor", "titleBGColor", "titleColor"}},
	{Name: "excerpt", Directive: "excerpt", Body: bodyRich, Params: []string{"name", "hidden", "atlassian-macro-output-type"}},
	{Name: "excerpt-include", Directive: "excerpt-include", Body: bodyNone, Params: []string{"page", "name", "nopanel"}},
	{Name: "anchor", Directive: "anchor", Body: bodyNone, Params: []string{"name"}},
	{Name: "section", Directive: "section", Body: bodyRich, Params: []string{"border"}},
	{Name: "column", Directive: "column", Body: bodyRich, Params: []string{"width"}},
	{Name: "pagetree", Directive: "pagetree", Body: bodyNone, Params: []string{"root", "startDepth", "searchBox", "expandCollapseAll"}},
	{Name: "contentbylabel", Directive: "contentbylabel", Body: bodyNone, Params: []string{"label", "spaces", "max", "showLabels", "showSpace"}},
	{Name: "gallery", Directive: "gallery", Body: bodyNone, Params: []string{"columns", "title", "include", "exclude", "sort"}},
	{Name: "attachments", Directive: "attachments", Body: bodyNone, Params: []string{"patterns", "sortBy", "sortOrder", "upload", "old"}},
	{Name: "multimedia", Directive: "media", Body: bodyNone, Params: []string{"name", "width", "height", "autostart"}},
}

var (
	macroByName      = map[string]*macroSpec{}
	macroByDirective = map[string]*macroSpec{}
)

func init() {
	for i := range macroTable {
		spec := &macroTable[i]
		macroByName[spec.Name] = spec
		macroByDirective[spec.Directive] = spec
	}
}
