package pipeline

import (
	"errors"
	"fmt"

	"github.com/Satyampatil513/resume-editor/runner"
)

var (
	ErrDownloadFailed = errors.New("download failed")
	ErrNoSourceFile   = errors.New("no .tex source file found")
	// ErrArchiveTooLarge means the archive inflates past MaxExtractedBytes
	ErrArchiveTooLarge = errors.New("archive too large when extracted")
	// ErrToolInvocation is the runner's sentinel: the process never started or was killed
	ErrToolInvocation = runner.ErrInvocation
	// ErrToolReported means the tool ran and exited non-zero; logs are attached
	ErrToolReported = errors.New("tool reported failure")
	// ErrOutputMissing means the tool looked successful but produced no artifact
	ErrOutputMissing = errors.New("no output produced")
)

// ToolError carries the captured logs of a failed tool run
type ToolError struct {
	Tool     string
	ExitCode int
	// Stdout of the tool, verbatim
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s: %v (exit %d)", e.Tool, e.Err, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Logs returns the tool output attached to the failure
func (e *ToolError) Logs() string { return e.Output }

// LogsOf extracts tool logs from anywhere in err's chain
func LogsOf(err error) string {
	var l interface{ Logs() string }
	if errors.As(err, &l) {
		return l.Logs()
	}
	return ""
}
