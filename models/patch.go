package models

// OpKind is the kind of a line-range edit
type OpKind string

const (
	OpReplace     OpKind = "replace"
	OpInsertAfter OpKind = "insert_after"
	OpDelete      OpKind = "delete"
)

// PatchOperation is one line-range edit instruction against a single
// snapshot of a document. Line numbers are 1-based and inclusive; an
// EndLine of zero means the operation covers StartLine only.
type PatchOperation struct {
	Op        OpKind `json:"op"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line,omitempty"`
	Content   string `json:"content,omitempty"`
	Search    string `json:"search,omitempty"`
}

// FixType discriminates the shapes a fix collaborator may answer with
type FixType string

const (
	FixPatch   FixType = "patch"
	FixRewrite FixType = "rewrite"
	FixMessage FixType = "message"
)

// FixResponse is the structured answer of the AI collaborator
type FixResponse struct {
	Type        FixType          `json:"type"`
	Explanation string           `json:"explanation,omitempty"`
	Operations  []PatchOperation `json:"operations,omitempty"`
	FixedCode   string           `json:"fixedCode,omitempty"`
	Content     string           `json:"content,omitempty"`
}
