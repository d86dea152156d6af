package patch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satyampatil513/resume-editor/models"
)

func TestDecorate(t *testing.T) {
	assert.Equal(t, "1: a\n2: b\n3: ", Decorate("a\nb\n"))
	assert.Equal(t, "1: ", Decorate(""))
}

func TestStrip(t *testing.T) {
	t.Run("removes numbers", func(t *testing.T) {
		assert.Equal(t, "a\nb", Strip("1: a\n12: b"))
	})
	t.Run("tolerates undecorated text", func(t *testing.T) {
		in := "\\item 2024: joined\nplain"
		assert.Equal(t, in, Strip(in))
	})
	t.Run("only the leading token", func(t *testing.T) {
		assert.Equal(t, "3: x", Strip("1: 3: x"))
	})
	t.Run("bare number line keeps its newline", func(t *testing.T) {
		assert.Equal(t, "2024:\nnext", Strip("2024:\nnext"))
		assert.Equal(t, "a\n\nb", Strip("1: a\n2: \n3: b"))
	})
}

func TestStripDecorateRoundTrip(t *testing.T) {
	docs := []string{
		"",
		"single",
		"\\documentclass{article}\n\\begin{document}\nHello\n\\end{document}\n",
		"  indented\n\n\ttabbed",
	}
	for _, d := range docs {
		assert.Equal(t, d, Strip(Decorate(d)))
	}
}

func TestApplyIdentity(t *testing.T) {
	doc := "A\nB\nC"
	res := Apply(doc, nil)
	assert.Equal(t, doc, res.Text)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, doc, Apply(doc, []models.PatchOperation{}).Text)
}

func TestApplyReplace(t *testing.T) {
	res := Apply("A\nB\nC\nD", []models.PatchOperation{
		{Op: models.OpReplace, StartLine: 2, EndLine: 2, Content: "X"},
	})
	assert.Equal(t, "A\nX\nC\nD", res.Text)
	assert.Equal(t, 1, res.Applied)
	assert.Empty(t, res.Warnings)
}

func TestApplyReplaceRangeWithMoreLines(t *testing.T) {
	res := Apply("A\nB\nC\nD", []models.PatchOperation{
		{Op: models.OpReplace, StartLine: 2, EndLine: 3, Content: "X\nY\nZ"},
	})
	assert.Equal(t, "A\nX\nY\nZ\nD", res.Text)
}

func TestApplyStripsDecoratedContent(t *testing.T) {
	res := Apply("A\nB", []models.PatchOperation{
		{Op: models.OpReplace, StartLine: 2, Content: "2: X"},
	})
	assert.Equal(t, "A\nX", res.Text)
}

func TestApplySortsDescending(t *testing.T) {
	// insert_after at line 2 runs before the delete at line 1, so it still
	// lands after B.
	res := Apply("A\nB\nC", []models.PatchOperation{
		{Op: models.OpDelete, StartLine: 1, EndLine: 1},
		{Op: models.OpInsertAfter, StartLine: 2, Content: "Y"},
	})
	assert.Equal(t, "B\nY\nC", res.Text)
	assert.Equal(t, 2, res.Applied)
}

func TestApplyOrderIndependent(t *testing.T) {
	doc := "l1\nl2\nl3\nl4\nl5\nl6\nl7"
	ops := []models.PatchOperation{
		{Op: models.OpReplace, StartLine: 2, Content: "two\nTWO"},
		{Op: models.OpDelete, StartLine: 4, EndLine: 5},
		{Op: models.OpInsertAfter, StartLine: 7, Content: "eight"},
	}
	want := "l1\ntwo\nTWO\nl3\nl6\nl7\neight"

	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		in := []models.PatchOperation{ops[p[0]], ops[p[1]], ops[p[2]]}
		assert.Equal(t, want, Apply(doc, in).Text, "order %v", p)
	}
}

func TestApplyDeleteLineCount(t *testing.T) {
	doc := "1\n2\n3\n4\n5\n6"
	res := Apply(doc, []models.PatchOperation{
		{Op: models.OpDelete, StartLine: 2, EndLine: 4},
	})
	before := len(strings.Split(doc, "\n"))
	after := len(strings.Split(res.Text, "\n"))
	assert.Equal(t, 3, before-after)
	assert.Equal(t, "1\n5\n6", res.Text)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	ops := []models.PatchOperation{
		{Op: models.OpDelete, StartLine: 1},
		{Op: models.OpDelete, StartLine: 3},
	}
	Apply("a\nb\nc", ops)
	assert.Equal(t, 1, ops[0].StartLine)
	assert.Equal(t, 3, ops[1].StartLine)
}

func TestApplySearchMismatchStillApplies(t *testing.T) {
	res := Apply("A\nB\nC", []models.PatchOperation{
		{Op: models.OpReplace, StartLine: 2, Content: "X", Search: "not B"},
	})
	assert.Equal(t, "A\nX\nC", res.Text)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, SearchMismatch, res.Warnings[0].Kind)
	assert.Equal(t, 2, res.Warnings[0].Line)
	assert.Len(t, res.Messages(), 1)
}

func TestApplySearchIgnoresWhitespace(t *testing.T) {
	res := Apply("a\n  github.com/user#name   \nc", []models.PatchOperation{
		{Op: models.OpReplace, StartLine: 2, Content: "github.com/user\\#name", Search: "github.com/user#name"},
	})
	assert.Empty(t, res.Warnings)
	assert.Equal(t, "a\ngithub.com/user\\#name\nc", res.Text)
}

func TestApplyBoundsInvalidSkipsOnlyThatOp(t *testing.T) {
	res := Apply("A\nB", []models.PatchOperation{
		{Op: models.OpReplace, StartLine: 0, Content: "zero"},
		{Op: models.OpReplace, StartLine: 9, Content: "nine"},
		{Op: models.OpReplace, StartLine: 1, Content: "X"},
	})
	assert.Equal(t, "X\nB", res.Text)
	assert.Equal(t, 1, res.Applied)
	require.Len(t, res.Warnings, 2)
	for _, w := range res.Warnings {
		assert.Equal(t, BoundsInvalid, w.Kind)
	}
}

func TestApplyInvertedRangeIsSkipped(t *testing.T) {
	doc := "A\nB\nC\nD\nE"
	for _, op := range []models.PatchOperation{
		{Op: models.OpDelete, StartLine: 4, EndLine: 2},
		{Op: models.OpReplace, StartLine: 3, EndLine: 1, Content: "X"},
		{Op: models.OpInsertAfter, StartLine: 5, EndLine: 4, Content: "X"},
	} {
		res := Apply(doc, []models.PatchOperation{op})
		assert.Equal(t, doc, res.Text, "op %s %d..%d", op.Op, op.StartLine, op.EndLine)
		assert.Zero(t, res.Applied)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, BoundsInvalid, res.Warnings[0].Kind)
		assert.Equal(t, op.StartLine, res.Warnings[0].Line)
	}
}

func TestApplyEndPastBufferIsClamped(t *testing.T) {
	res := Apply("A\nB\nC", []models.PatchOperation{
		{Op: models.OpDelete, StartLine: 2, EndLine: 40},
	})
	assert.Equal(t, "A", res.Text)
}

func TestApplyUnknownOp(t *testing.T) {
	res := Apply("A", []models.PatchOperation{{Op: "rename", StartLine: 1}})
	assert.Equal(t, "A", res.Text)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, UnknownOp, res.Warnings[0].Kind)
}

func TestParseSections(t *testing.T) {
	doc := strings.Join([]string{
		"\\documentclass{article}",
		"\\begin{document}",
		"\\section{Work Experience}",
		"Acme",
		"\\section*{Skills}",
		"Go",
		"\\end{document}",
	}, "\n")

	got := ParseSections(doc)
	require.Len(t, got, 2)
	assert.Equal(t, Section{
		ID: "work-experience", Title: "Work Experience",
		StartLine: 3, EndLine: 4, Content: "\\section{Work Experience}\nAcme",
	}, got[0])
	assert.Equal(t, "skills", got[1].ID)
	assert.Equal(t, 5, got[1].StartLine)
	assert.Equal(t, 7, got[1].EndLine)

	assert.Empty(t, ParseSections("no headings"))
}
