// Package patch applies line-range edit operations to LaTeX source and
// converts documents to and from their line-numbered form.
package patch

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/Satyampatil513/resume-editor/models"
)

// Separator follows the line number in decorated text
const Separator = ": "

var (
	decorationPattern = regexp.MustCompile(`(?m)^\d+:[ \t]`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// WarningKind classifies a non-fatal problem found while applying a batch
type WarningKind string

const (
	// BoundsInvalid means the operation was skipped
	BoundsInvalid WarningKind = "bounds_invalid"
	// SearchMismatch means the operation was applied but its search text
	// did not match the target range
	SearchMismatch WarningKind = "search_mismatch"
	// UnknownOp means the operation was skipped
	UnknownOp WarningKind = "unknown_op"
)

// Warning describes one operation that was skipped or applied unverified
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Op      string      `json:"op"`
	Line    int         `json:"line"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s at line %d (%s): %s", w.Kind, w.Line, w.Op, w.Message)
}

// Result is the outcome of applying a batch of operations
type Result struct {
	Text     string    `json:"text"`
	Applied  int       `json:"applied"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// Messages renders the warnings as strings
func (r Result) Messages() []string {
	if len(r.Warnings) == 0 {
		return nil
	}
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.String()
	}
	return out
}

// Decorate prefixes every line with its 1-based number and Separator
func Decorate(text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(Separator)
		b.WriteString(line)
	}
	return b.String()
}

// Strip removes a leading line-number token from every line that has one
func Strip(text string) string {
	return decorationPattern.ReplaceAllString(text, "")
}

// Apply applies ops to original and returns the new text. Operations are
// applied bottom-up (by StartLine, descending) so that edits which add or
// remove lines never shift the lines referenced by edits still pending above.
// Per-operation problems never abort the batch; they are reported as
// warnings. original and ops are not modified.
func Apply(original string, ops []models.PatchOperation) Result {
	lines := strings.Split(original, "\n")

	sorted := make([]models.PatchOperation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartLine > sorted[j].StartLine
	})

	res := Result{}
	for _, op := range sorted {
		start := op.StartLine - 1
		end := start
		if op.EndLine != 0 {
			end = op.EndLine - 1
		}

		if start < 0 || start > len(lines) {
			res.Warnings = append(res.Warnings, Warning{
				Kind:    BoundsInvalid,
				Op:      string(op.Op),
				Line:    op.StartLine,
				Message: fmt.Sprintf("start line out of range for %d-line document", len(lines)),
			})
			continue
		}
		if end < start {
			res.Warnings = append(res.Warnings, Warning{
				Kind:    BoundsInvalid,
				Op:      string(op.Op),
				Line:    op.StartLine,
				Message: fmt.Sprintf("end line %d before start line", op.EndLine),
			})
			continue
		}

		if op.Search != "" {
			target := strings.Join(window(lines, start, end), "\n")
			if normalize(target) != normalize(op.Search) {
				res.Warnings = append(res.Warnings, Warning{
					Kind:    SearchMismatch,
					Op:      string(op.Op),
					Line:    op.StartLine,
					Message: fmt.Sprintf("expected %q, found %q", op.Search, target),
				})
			}
		}

		switch op.Op {
		case models.OpReplace:
			lines = splice(lines, start, end+1, strings.Split(Strip(op.Content), "\n"))
		case models.OpInsertAfter:
			lines = splice(lines, end+1, end+1, strings.Split(Strip(op.Content), "\n"))
		case models.OpDelete:
			lines = splice(lines, start, end+1, nil)
		default:
			res.Warnings = append(res.Warnings, Warning{
				Kind:    UnknownOp,
				Op:      string(op.Op),
				Line:    op.StartLine,
				Message: "unsupported operation",
			})
			continue
		}
		res.Applied++
	}

	res.Text = strings.Join(lines, "\n")
	return res
}

// normalize collapses whitespace runs to a single space and trims
func normalize(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// window returns lines[start:end+1] clamped to the buffer
func window(lines []string, start, end int) []string {
	lo, hi := clamp(start, len(lines)), clamp(end+1, len(lines))
	if lo >= hi {
		return nil
	}
	return lines[lo:hi]
}

// splice replaces lines[from:to] with repl and returns a new slice.
// Indices are clamped to the buffer.
func splice(lines []string, from, to int, repl []string) []string {
	from, to = clamp(from, len(lines)), clamp(to, len(lines))
	if to < from {
		to = from
	}
	out := make([]string, 0, len(lines)-(to-from)+len(repl))
	out = append(out, lines[:from]...)
	out = append(out, repl...)
	out = append(out, lines[to:]...)
	return out
}

func clamp(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}
