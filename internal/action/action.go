package action

// Kind identifies the operation an action performs. The set is closed.
type Kind string

const (
	KindModify Kind = "modify"
	KindCreate Kind = "create"
	KindDelete Kind = "delete"
	KindShell  Kind = "shell"
	KindFetch  Kind = "fetch"
)

// Valid reports whether k is one of the recognized kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindModify, KindCreate, KindDelete, KindShell, KindFetch:
		return true
	}
	return false
}

// Action is a single proposed operation recovered from agent text.
//
// An Action is immutable once constructed; execution never mutates it, only
// removes it from the pending queue. Before and Content are pointers so a
// captured-but-empty fenced block ("" ) stays distinguishable from a block
// that was never captured (nil).
type Action struct {
	ID      string  `json:"id"`
	Kind    Kind    `json:"kind"`
	Path    string  `json:"path,omitempty"`
	Command string  `json:"command,omitempty"`
	URL     string  `json:"url,omitempty"`
	Before  *string `json:"before,omitempty"`
	Content *string `json:"content,omitempty"`
}

// BeforeText returns the captured before-snippet, or "" when absent.
func (a Action) BeforeText() string {
	if a.Before == nil {
		return ""
	}
	return *a.Before
}

// ContentText returns the captured content, or "" when absent.
func (a Action) ContentText() string {
	if a.Content == nil {
		return ""
	}
	return *a.Content
}

// MissingField names the first required field the action lacks, or "" when the
// action is executable. A Create without captured content is executable; the
// executor writes an empty body in that case.
func (a Action) MissingField() string {
	switch a.Kind {
	case KindModify:
		if a.Path == "" {
			return "path"
		}
		if a.Before == nil {
			return "before"
		}
		if a.Content == nil {
			return "content"
		}
	case KindCreate, KindDelete:
		if a.Path == "" {
			return "path"
		}
	case KindShell:
		if a.Command == "" {
			return "command"
		}
	case KindFetch:
		if a.URL == "" {
			return "url"
		}
	}
	return ""
}

// Summary returns a one-line human description used by queue listings,
// approval prompts and log lines.
func (a Action) Summary() string {
	switch a.Kind {
	case KindModify:
		return "modify " + a.Path
	case KindCreate:
		return "create " + a.Path
	case KindDelete:
		return "delete " + a.Path
	case KindShell:
		return "shell: " + a.Command
	case KindFetch:
		return "fetch " + a.URL
	}
	return string(a.Kind)
}

// StringPtr returns a pointer to s. Convenience for building actions in code.
func StringPtr(s string) *string {
	return &s
}
