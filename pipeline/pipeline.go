// Package pipeline turns LaTeX sources into PDFs or lint diagnostics by
// running external tools in per-run scratch directories.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Satyampatil513/resume-editor/models"
	"github.com/Satyampatil513/resume-editor/runner"
)

const sourceName = "main.tex"

// Options configures the pipeline. WorkDir is the shared scratch root; every
// run gets its own subdirectory that is removed when the run ends.
type Options struct {
	WorkDir   string
	OutputDir string

	Latexmk  string
	Pdflatex string
	Chktex   string

	// ToolTimeout bounds a single tool invocation; zero means no limit
	ToolTimeout     time.Duration
	DownloadTimeout time.Duration
	MaxArchiveBytes int64
	// MaxExtractedBytes bounds the total uncompressed size of an archive
	MaxExtractedBytes int64

	HTTPClient *http.Client
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		WorkDir:           "temp_work",
		OutputDir:         ".output",
		Latexmk:           "latexmk",
		Pdflatex:          "pdflatex",
		Chktex:            "chktex",
		ToolTimeout:       2 * time.Minute,
		DownloadTimeout:   30 * time.Second,
		MaxArchiveBytes:   50 << 20,
		MaxExtractedBytes: 200 << 20,
	}
}

// Compiler runs the three pipeline operations
type Compiler struct {
	opts   Options
	runner runner.Runner
	logger *zap.Logger
}

// New creates a Compiler, ensuring the scratch and output roots exist
func New(opts Options, r runner.Runner, logger *zap.Logger) (*Compiler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.WorkDir == "" {
		return nil, fmt.Errorf("pipeline: work dir is required")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = DefaultOptions().OutputDir
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.DownloadTimeout}
	}
	for _, dir := range []string{opts.WorkDir, opts.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &Compiler{opts: opts, runner: r, logger: logger}, nil
}

// withScratch runs fn inside a fresh scratch directory and removes it on
// every exit path.
func (c *Compiler) withScratch(jobID string, fn func(dir string) error) error {
	dir := filepath.Join(c.opts.WorkDir, uuid.New().String())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			c.logger.Warn("failed to remove scratch directory", zap.String("job_id", jobID), zap.String("dir", dir), zap.Error(err))
		}
	}()

	return fn(dir)
}

func (c *Compiler) run(ctx context.Context, tool string, args []string, dir string) (runner.Result, error) {
	if c.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ToolTimeout)
		defer cancel()
	}

	res, err := c.runner.Run(ctx, tool, args, dir)
	if err != nil {
		return res, &ToolError{Tool: tool, ExitCode: res.ExitCode, Err: err}
	}
	return res, nil
}

// CompileZip fetches and compiles a zipped project and returns the path of
// the produced PDF, copied into the output directory as <jobID>.pdf.
func (c *Compiler) CompileZip(ctx context.Context, jobID, locator string) (string, error) {
	log := c.logger.With(zap.String("job_id", jobID))
	var outPath string

	err := c.withScratch(jobID, func(dir string) error {
		log.Info("downloading archive", zap.String("dir", dir))
		data, err := c.fetchArchive(ctx, locator)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, archiveName), data, 0644); err != nil {
			return fmt.Errorf("failed to write archive: %w", err)
		}
		if err := extractZip(data, dir, c.extractLimit()); err != nil {
			return err
		}

		root, err := projectRoot(dir)
		if err != nil {
			return err
		}
		if root != dir {
			log.Info("detected nested project root", zap.String("root", filepath.Base(root)))
		}

		texFile, err := findSource(root)
		if err != nil {
			return err
		}

		log.Info("running latexmk", zap.String("file", texFile))
		res, err := c.run(ctx, c.opts.Latexmk, []string{"-pdf", "-interaction=nonstopmode", "-outdir=.", texFile}, root)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return &ToolError{Tool: c.opts.Latexmk, ExitCode: res.ExitCode, Output: res.Stdout, Err: ErrToolReported}
		}

		pdfPath := filepath.Join(root, strings.TrimSuffix(texFile, filepath.Ext(texFile))+".pdf")
		pdfData, err := os.ReadFile(pdfPath)
		if err != nil {
			return &ToolError{Tool: c.opts.Latexmk, Output: res.Stdout, Err: ErrOutputMissing}
		}

		outPath = filepath.Join(c.opts.OutputDir, jobID+".pdf")
		if err := os.WriteFile(outPath, pdfData, 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		c.logPages(log, pdfData)
		return nil
	})
	if err != nil {
		log.Warn("project compilation failed", zap.Error(err))
		return "", err
	}

	log.Info("PDF generated", zap.String("path", outPath))
	return outPath, nil
}

// CompileContent compiles a single in-memory document and returns the PDF
// base64-encoded. A failed run's error carries the compiler's stdout.
func (c *Compiler) CompileContent(ctx context.Context, jobID, text string) (string, error) {
	log := c.logger.With(zap.String("job_id", jobID))
	var encoded string

	err := c.withScratch(jobID, func(dir string) error {
		if err := os.WriteFile(filepath.Join(dir, sourceName), []byte(text), 0644); err != nil {
			return fmt.Errorf("failed to write source: %w", err)
		}

		res, err := c.run(ctx, c.opts.Pdflatex, []string{"-interaction=nonstopmode", "-halt-on-error", sourceName}, dir)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 {
			return &ToolError{Tool: c.opts.Pdflatex, ExitCode: res.ExitCode, Output: res.Stdout, Err: ErrToolReported}
		}

		pdfData, err := os.ReadFile(filepath.Join(dir, "main.pdf"))
		if err != nil {
			return &ToolError{Tool: c.opts.Pdflatex, Output: res.Stdout, Err: ErrOutputMissing}
		}
		c.logPages(log, pdfData)
		encoded = base64.StdEncoding.EncodeToString(pdfData)
		return nil
	})
	if err != nil {
		log.Warn("content compilation failed", zap.Error(err))
		return "", err
	}
	return encoded, nil
}

// CheckSyntax lints a single in-memory document. The linter's exit code is
// ignored whenever it printed diagnostics.
func (c *Compiler) CheckSyntax(ctx context.Context, jobID, text string) ([]models.SyntaxIssue, error) {
	log := c.logger.With(zap.String("job_id", jobID))
	var issues []models.SyntaxIssue

	err := c.withScratch(jobID, func(dir string) error {
		if err := os.WriteFile(filepath.Join(dir, sourceName), []byte(text), 0644); err != nil {
			return fmt.Errorf("failed to write source: %w", err)
		}

		res, err := c.run(ctx, c.opts.Chktex, []string{"-q", "-v0", "-f" + lintFormat, sourceName}, dir)
		if err != nil {
			return err
		}
		if res.ExitCode != 0 && strings.TrimSpace(res.Stdout) == "" {
			return &ToolError{Tool: c.opts.Chktex, ExitCode: res.ExitCode, Output: res.Stderr, Err: ErrToolReported}
		}

		issues = ParseLint(res.Stdout)
		return nil
	})
	if err != nil {
		log.Warn("syntax check failed", zap.Error(err))
		return nil, err
	}

	log.Info("syntax check finished", zap.Int("issues", len(issues)))
	return issues, nil
}

func (c *Compiler) fetchArchive(ctx context.Context, locator string) ([]byte, error) {
	limit := c.opts.MaxArchiveBytes
	if limit <= 0 {
		limit = DefaultOptions().MaxArchiveBytes
	}
	if strings.HasPrefix(locator, "data:") {
		return decodeDataURI(locator, limit)
	}

	if c.opts.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.DownloadTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrDownloadFailed, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: archive exceeds %d bytes", ErrDownloadFailed, limit)
	}
	return data, nil
}

func (c *Compiler) extractLimit() int64 {
	if c.opts.MaxExtractedBytes > 0 {
		return c.opts.MaxExtractedBytes
	}
	return DefaultOptions().MaxExtractedBytes
}
