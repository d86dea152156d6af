// Package autofix chains compile failures back into AI-generated fixes.
//
// A run compiles the document, and when the compile fails with tool logs it
// asks a Fixer for a patch or a replacement document, applies it and compiles
// again. The number of fix rounds is capped so a run always terminates.
package autofix

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Satyampatil513/resume-editor/models"
	"github.com/Satyampatil513/resume-editor/patch"
	"github.com/Satyampatil513/resume-editor/pipeline"
)

// MaxAttemptsLimit is the highest accepted fix-round cap
const MaxAttemptsLimit = 3

// DefaultMaxAttempts is one fix round followed by one recompile
const DefaultMaxAttempts = 1

var (
	ErrInvalidMaxAttempts = fmt.Errorf("max attempts must be between 0 and %d", MaxAttemptsLimit)
	// ErrNoFix means the fixer answered without anything to apply
	ErrNoFix = errors.New("fixer returned nothing to apply")
	// ErrMissingLogs means a fix was requested without compiler output
	ErrMissingLogs = errors.New("compiler logs are required")
)

// Compiler compiles a single document to a base64 PDF. Failures that carry
// tool output expose it through a Logs() string method.
type Compiler interface {
	CompileContent(ctx context.Context, content string) (string, error)
}

// CompilerFunc adapts a function to the Compiler interface
type CompilerFunc func(ctx context.Context, content string) (string, error)

func (f CompilerFunc) CompileContent(ctx context.Context, content string) (string, error) {
	return f(ctx, content)
}

// Fixer asks an external collaborator to repair code given its compile logs
type Fixer interface {
	Fix(ctx context.Context, code, logs string) (*models.FixResponse, error)
}

// Fix records one applied fix round
type Fix struct {
	Type        models.FixType `json:"type"`
	Explanation string         `json:"explanation,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// Outcome is the state a run ended in. Content is the last document that
// was compiled, which differs from the input once a fix was applied.
type Outcome struct {
	PDF      string `json:"pdf,omitempty"`
	Content  string `json:"content"`
	Attempts int    `json:"attempts"`
	Fixes    []Fix  `json:"fixes,omitempty"`
}

// Orchestrator runs the compile, fix, recompile loop
type Orchestrator struct {
	compiler    Compiler
	fixer       Fixer
	maxAttempts int
	logger      *zap.Logger
}

// New creates an Orchestrator allowing at most maxAttempts fix rounds
func New(c Compiler, f Fixer, maxAttempts int, logger *zap.Logger) (*Orchestrator, error) {
	if maxAttempts < 0 || maxAttempts > MaxAttemptsLimit {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxAttempts, maxAttempts)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{compiler: c, fixer: f, maxAttempts: maxAttempts, logger: logger}, nil
}

// Run compiles content, fixing and recompiling on failures that carry logs
// until it succeeds or the cap is reached. When it gives up, the last compile
// error is returned unchanged alongside the outcome.
func (o *Orchestrator) Run(ctx context.Context, content string) (*Outcome, error) {
	out := &Outcome{Content: content}

	for {
		out.Attempts++
		pdf, err := o.compiler.CompileContent(ctx, out.Content)
		if err == nil {
			out.PDF = pdf
			o.logger.Info("document compiled", zap.Int("attempts", out.Attempts), zap.Int("fixes", len(out.Fixes)))
			return out, nil
		}

		logs := pipeline.LogsOf(err)
		if logs == "" {
			return out, err
		}
		if len(out.Fixes) >= o.maxAttempts {
			o.logger.Warn("auto-fix cap reached", zap.Int("max_attempts", o.maxAttempts), zap.Error(err))
			return out, err
		}

		o.logger.Info("compile failed, requesting fix", zap.Int("attempt", out.Attempts), zap.Int("log_bytes", len(logs)))
		fixed, fix, ferr := o.FixOnce(ctx, out.Content, logs)
		if ferr != nil {
			o.logger.Warn("auto-fix gave up", zap.Error(ferr))
			return out, err
		}
		out.Content = fixed
		out.Fixes = append(out.Fixes, fix)
	}
}

// FixOnce runs a single fix round without compiling. Patch answers are
// applied through the patch engine; rewrites are used verbatim.
func (o *Orchestrator) FixOnce(ctx context.Context, code, logs string) (string, Fix, error) {
	if logs == "" {
		return "", Fix{}, ErrMissingLogs
	}
	resp, err := o.fixer.Fix(ctx, code, logs)
	if err != nil {
		return "", Fix{}, fmt.Errorf("failed to get fix: %w", err)
	}
	return Apply(code, resp, o.logger)
}

// Apply turns a fixer response into a new document
func Apply(code string, resp *models.FixResponse, logger *zap.Logger) (string, Fix, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resp == nil {
		return "", Fix{}, ErrNoFix
	}
	fix := Fix{Type: resp.Type, Explanation: resp.Explanation}

	switch resp.Type {
	case models.FixPatch:
		if len(resp.Operations) == 0 {
			return "", fix, ErrNoFix
		}
		res := patch.Apply(code, resp.Operations)
		for _, w := range res.Warnings {
			logger.Warn("patch warning", zap.String("kind", string(w.Kind)), zap.Int("line", w.Line), zap.String("message", w.Message))
		}
		fix.Warnings = res.Messages()
		logger.Info("applied fix patch", zap.Int("operations", len(resp.Operations)), zap.Int("applied", res.Applied))
		return res.Text, fix, nil
	case models.FixRewrite:
		if resp.FixedCode == "" {
			return "", fix, ErrNoFix
		}
		logger.Info("applied full rewrite")
		return resp.FixedCode, fix, nil
	default:
		return "", fix, ErrNoFix
	}
}
