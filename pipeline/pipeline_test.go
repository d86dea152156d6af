package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satyampatil513/resume-editor/runner"
)

// fakeRunner records invocations and lets each test decide what the tool
// leaves behind in its working directory.
type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	fn    func(name string, args []string, dir string) (runner.Result, error)
}

type call struct {
	name string
	args []string
	dir  string
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, dir string) (runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{name: name, args: args, dir: dir})
	f.mu.Unlock()
	return f.fn(name, args, dir)
}

func newCompiler(t *testing.T, fn func(name string, args []string, dir string) (runner.Result, error)) (*Compiler, *fakeRunner, Options) {
	t.Helper()
	opts := DefaultOptions()
	opts.WorkDir = filepath.Join(t.TempDir(), "work")
	opts.OutputDir = filepath.Join(t.TempDir(), "out")
	fr := &fakeRunner{fn: fn}
	c, err := New(opts, fr, nil)
	require.NoError(t, err)
	return c, fr, opts
}

func assertScratchRemoved(t *testing.T, opts Options) {
	t.Helper()
	entries, err := os.ReadDir(opts.WorkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories must be removed")
}

func writePDF(dir, name string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte("%PDF-1.4 fake"), 0644)
}

func TestNewRequiresWorkDir(t *testing.T) {
	_, err := New(Options{}, &fakeRunner{}, nil)
	assert.Error(t, err)
}

func TestCompileContentSuccess(t *testing.T) {
	c, fr, opts := newCompiler(t, func(name string, args []string, dir string) (runner.Result, error) {
		src, err := os.ReadFile(filepath.Join(dir, "main.tex"))
		if err != nil {
			return runner.Result{}, err
		}
		if !strings.Contains(string(src), "\\documentclass") {
			return runner.Result{ExitCode: 1, Stdout: "bad input"}, nil
		}
		return runner.Result{Stdout: "Output written on main.pdf"}, writePDF(dir, "main.pdf")
	})

	out, err := c.CompileContent(context.Background(), "job-1", "\\documentclass{article}\\begin{document}hi\\end{document}")
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	raw, err := base64.StdEncoding.DecodeString(out)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 fake", string(raw))

	require.Len(t, fr.calls, 1)
	assert.Equal(t, "pdflatex", fr.calls[0].name)
	assert.Equal(t, []string{"-interaction=nonstopmode", "-halt-on-error", "main.tex"}, fr.calls[0].args)
	assertScratchRemoved(t, opts)
}

func TestCompileContentReportedFailureCarriesLogs(t *testing.T) {
	logs := "! Undefined control sequence.\nl.3 \\foo"
	c, _, opts := newCompiler(t, func(string, []string, string) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stdout: logs}, nil
	})

	_, err := c.CompileContent(context.Background(), "job-2", "\\foo")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolReported)
	assert.Equal(t, logs, LogsOf(err))

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, te.ExitCode)
	assertScratchRemoved(t, opts)
}

func TestCompileContentOutputMissing(t *testing.T) {
	c, _, opts := newCompiler(t, func(string, []string, string) (runner.Result, error) {
		return runner.Result{Stdout: "No pages of output."}, nil
	})

	_, err := c.CompileContent(context.Background(), "job-3", "x")
	assert.ErrorIs(t, err, ErrOutputMissing)
	assert.NotErrorIs(t, err, ErrToolReported)
	assertScratchRemoved(t, opts)
}

func TestCompileContentInvocationFailure(t *testing.T) {
	c, _, opts := newCompiler(t, func(name string, _ []string, _ string) (runner.Result, error) {
		return runner.Result{ExitCode: -1}, fmt.Errorf("%w: %s: not found", runner.ErrInvocation, name)
	})

	_, err := c.CompileContent(context.Background(), "job-4", "x")
	assert.ErrorIs(t, err, ErrToolInvocation)
	assert.NotErrorIs(t, err, ErrToolReported)
	assert.Empty(t, LogsOf(err))
	assertScratchRemoved(t, opts)
}

func TestCompileContentKilledToolCarriesNoLogs(t *testing.T) {
	c, _, opts := newCompiler(t, func(name string, _ []string, _ string) (runner.Result, error) {
		return runner.Result{Stdout: "This is pdfTeX partial output\n", ExitCode: -1},
			fmt.Errorf("%w: %s: %v", runner.ErrInvocation, name, context.DeadlineExceeded)
	})

	_, err := c.CompileContent(context.Background(), "job-killed", "x")
	assert.ErrorIs(t, err, ErrToolInvocation)
	assert.NotErrorIs(t, err, ErrToolReported)
	assert.Empty(t, LogsOf(err))

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, -1, te.ExitCode)
	assertScratchRemoved(t, opts)
}

// fakeLinter flags every unescaped '#' the way chktex reports illegal
// characters.
func fakeLinter(_ string, args []string, dir string) (runner.Result, error) {
	src, err := os.ReadFile(filepath.Join(dir, args[len(args)-1]))
	if err != nil {
		return runner.Result{}, err
	}
	var out strings.Builder
	for i, line := range strings.Split(string(src), "\n") {
		for j, r := range line {
			if r == '#' && (j == 0 || line[j-1] != '\\') {
				fmt.Fprintf(&out, "%d|%d|illegal-char|Illegal character '#'|main.tex\n", i+1, j+1)
			}
		}
	}
	if out.Len() > 0 {
		return runner.Result{ExitCode: 2, Stdout: out.String()}, nil
	}
	return runner.Result{}, nil
}

func TestCheckSyntaxIllegalCharacter(t *testing.T) {
	c, fr, opts := newCompiler(t, fakeLinter)

	issues, err := c.CheckSyntax(context.Background(), "job-5", "\\section{Links}\ngithub.com/user#name")
	require.NoError(t, err)
	require.NotEmpty(t, issues)
	assert.Equal(t, "illegal-char", issues[0].Code)
	assert.Equal(t, 2, issues[0].Line)
	assert.Equal(t, 16, issues[0].Column)
	assert.Equal(t, "main.tex", issues[0].File)

	require.Len(t, fr.calls, 1)
	assert.Equal(t, []string{"-q", "-v0", "-f%l|%c|%k|%m|%f\n", "main.tex"}, fr.calls[0].args)
	assertScratchRemoved(t, opts)
}

func TestCheckSyntaxClean(t *testing.T) {
	c, _, _ := newCompiler(t, fakeLinter)

	issues, err := c.CheckSyntax(context.Background(), "job-6", "escaped \\# only")
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestCheckSyntaxFailureWithoutOutput(t *testing.T) {
	c, _, _ := newCompiler(t, func(string, []string, string) (runner.Result, error) {
		return runner.Result{ExitCode: 3, Stderr: "cannot open file"}, nil
	})

	_, err := c.CheckSyntax(context.Background(), "job-7", "x")
	assert.ErrorIs(t, err, ErrToolReported)
	assert.Equal(t, "cannot open file", LogsOf(err))
}

func TestParseLint(t *testing.T) {
	out := strings.Join([]string{
		"3|7|1|Command terminated with space.|main.tex",
		"",
		"garbage line",
		"x|1|2|bad line number|main.tex",
		"10|1|24|Delete this space to maintain correct pagereferences.|main.tex\r",
	}, "\n")

	issues := ParseLint(out)
	require.Len(t, issues, 2)
	assert.Equal(t, 3, issues[0].Line)
	assert.Equal(t, 7, issues[0].Column)
	assert.Equal(t, "1", issues[0].Code)
	assert.Equal(t, "Command terminated with space.", issues[0].Message)
	assert.Equal(t, "main.tex", issues[1].File)

	assert.Empty(t, ParseLint(""))
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func latexmkWritesPDF(name string, args []string, dir string) (runner.Result, error) {
	tex := args[len(args)-1]
	if _, err := os.Stat(filepath.Join(dir, tex)); err != nil {
		return runner.Result{ExitCode: 1, Stdout: "missing " + tex}, nil
	}
	return runner.Result{}, writePDF(dir, strings.TrimSuffix(tex, ".tex")+".pdf")
}

func TestCompileZipNestedRootOverHTTP(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"resume/main.tex":       "\\documentclass{article}",
		"resume/sections/a.tex": "a",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	c, fr, opts := newCompiler(t, latexmkWritesPDF)

	path, err := c.CompileZip(context.Background(), "job-zip", srv.URL+"/project.zip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(opts.OutputDir, "job-zip.pdf"), path)
	assert.FileExists(t, path)

	require.Len(t, fr.calls, 1)
	assert.Equal(t, "latexmk", fr.calls[0].name)
	assert.Equal(t, []string{"-pdf", "-interaction=nonstopmode", "-outdir=.", "main.tex"}, fr.calls[0].args)
	assert.Equal(t, "resume", filepath.Base(fr.calls[0].dir))
	assertScratchRemoved(t, opts)
}

func TestCompileZipDataURI(t *testing.T) {
	archive := buildZip(t, map[string]string{"cv.tex": "x", "logo.png": "png"})
	uri := "data:application/zip;base64," + base64.StdEncoding.EncodeToString(archive)

	c, fr, _ := newCompiler(t, latexmkWritesPDF)

	path, err := c.CompileZip(context.Background(), "job-data", uri)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, "cv.tex", fr.calls[0].args[3])
}

func TestCompileZipDownloadFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, fr, opts := newCompiler(t, latexmkWritesPDF)

	_, err := c.CompileZip(context.Background(), "job-404", srv.URL)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Empty(t, fr.calls)
	assertScratchRemoved(t, opts)

	_, err = c.CompileZip(context.Background(), "job-bad-uri", "data:no-comma")
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestCompileZipNoSource(t *testing.T) {
	archive := buildZip(t, map[string]string{"README.md": "hi"})
	c, _, opts := newCompiler(t, latexmkWritesPDF)

	_, err := c.CompileZip(context.Background(), "job-nosrc", "data:;base64,"+base64.StdEncoding.EncodeToString(archive))
	assert.ErrorIs(t, err, ErrNoSourceFile)
	assertScratchRemoved(t, opts)
}

func TestCompileZipOutputMissing(t *testing.T) {
	archive := buildZip(t, map[string]string{"main.tex": "x"})
	c, _, _ := newCompiler(t, func(string, []string, string) (runner.Result, error) {
		return runner.Result{Stdout: "Latexmk: All targets are up-to-date"}, nil
	})

	_, err := c.CompileZip(context.Background(), "job-nopdf", "data:;base64,"+base64.StdEncoding.EncodeToString(archive))
	assert.ErrorIs(t, err, ErrOutputMissing)
}

func TestCompileZipRejectsTraversal(t *testing.T) {
	archive := buildZip(t, map[string]string{"../evil.tex": "x"})
	c, fr, _ := newCompiler(t, latexmkWritesPDF)

	_, err := c.CompileZip(context.Background(), "job-slip", "data:;base64,"+base64.StdEncoding.EncodeToString(archive))
	assert.Error(t, err)
	assert.Empty(t, fr.calls)
}

func TestCompileZipRejectsOversizedDataURI(t *testing.T) {
	archive := buildZip(t, map[string]string{"main.tex": strings.Repeat("x", 4096)})
	uri := "data:;base64," + base64.StdEncoding.EncodeToString(archive)

	opts := DefaultOptions()
	opts.WorkDir = t.TempDir()
	opts.OutputDir = t.TempDir()
	opts.MaxArchiveBytes = 64
	fr := &fakeRunner{fn: latexmkWritesPDF}
	c, err := New(opts, fr, nil)
	require.NoError(t, err)

	_, err = c.CompileZip(context.Background(), "job-big-uri", uri)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.Empty(t, fr.calls)

	_, err = c.CompileZip(context.Background(), "job-big-plain", "data:,"+strings.Repeat("a", 100))
	assert.ErrorIs(t, err, ErrDownloadFailed)
}

func TestCompileZipRejectsInflatedArchive(t *testing.T) {
	// compresses to a few hundred bytes
	archive := buildZip(t, map[string]string{
		"main.tex":  "x",
		"bomb.tex":  strings.Repeat("0", 1<<20),
		"bomb2.tex": strings.Repeat("0", 1<<20),
	})
	uri := "data:;base64," + base64.StdEncoding.EncodeToString(archive)

	opts := DefaultOptions()
	opts.WorkDir = filepath.Join(t.TempDir(), "work")
	opts.OutputDir = t.TempDir()
	opts.MaxExtractedBytes = 1 << 20
	fr := &fakeRunner{fn: latexmkWritesPDF}
	c, err := New(opts, fr, nil)
	require.NoError(t, err)

	_, err = c.CompileZip(context.Background(), "job-bomb", uri)
	assert.ErrorIs(t, err, ErrArchiveTooLarge)
	assert.Empty(t, fr.calls)
	assertScratchRemoved(t, opts)
}

func TestExtractZipCountsWrittenBytes(t *testing.T) {
	archive := buildZip(t, map[string]string{"a.tex": strings.Repeat("a", 600), "b.tex": strings.Repeat("b", 600)})

	require.NoError(t, extractZip(archive, t.TempDir(), 1200))
	assert.ErrorIs(t, extractZip(archive, t.TempDir(), 1000), ErrArchiveTooLarge)
}

func TestCompileContentWithPdflatex(t *testing.T) {
	if _, err := exec.LookPath("pdflatex"); err != nil {
		t.Skip("pdflatex not installed")
	}
	opts := DefaultOptions()
	opts.WorkDir = t.TempDir()
	opts.OutputDir = t.TempDir()
	c, err := New(opts, runner.NewExec(nil), nil)
	require.NoError(t, err)

	out, err := c.CompileContent(context.Background(), "real", "\\documentclass{article}\n\\begin{document}\nHello\n\\end{document}\n")
	require.NoError(t, err)
	assert.NotEmpty(t, out)
	assert.DirExists(t, opts.WorkDir)
	assertScratchRemoved(t, opts)
}

func TestCheckSyntaxWithChktex(t *testing.T) {
	if _, err := exec.LookPath("chktex"); err != nil {
		t.Skip("chktex not installed")
	}
	opts := DefaultOptions()
	opts.WorkDir = t.TempDir()
	opts.OutputDir = t.TempDir()
	c, err := New(opts, runner.NewExec(nil), nil)
	require.NoError(t, err)

	// warning 18: plain double quotes instead of `` and ''
	issues, err := c.CheckSyntax(context.Background(), "real-quotes", "\\documentclass{article}\n\\begin{document}\nSay \"hello\".\n\\end{document}\n")
	require.NoError(t, err)
	require.NotEmpty(t, issues)
	codes := make([]string, 0, len(issues))
	for _, is := range issues {
		codes = append(codes, is.Code)
	}
	assert.Contains(t, codes, "18")

	issues, err = c.CheckSyntax(context.Background(), "real-hash", "\\documentclass{article}\n\\begin{document}\ngithub.com/user#name\n\\end{document}\n")
	require.NoError(t, err)
	for _, is := range issues {
		_, convErr := strconv.Atoi(is.Code)
		assert.NoError(t, convErr, "chktex codes are numeric, got %q", is.Code)
		assert.Equal(t, "main.tex", is.File)
		assert.Positive(t, is.Line)
	}
}

func TestPageCountRejectsGarbage(t *testing.T) {
	_, err := pageCount([]byte("not a pdf"))
	assert.Error(t, err)
}
