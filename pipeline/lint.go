package pipeline

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/Satyampatil513/resume-editor/models"
)

// lintFormat asks chktex for line|column|code|message|file records
const lintFormat = "%l|%c|%k|%m|%f\n"

// ParseLint parses linter output into issues. Blank lines, lines with fewer
// than five fields and lines with non-numeric positions are skipped.
func ParseLint(output string) []models.SyntaxIssue {
	issues := []models.SyntaxIssue{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 5 {
			continue
		}
		ln, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		col, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		issues = append(issues, models.SyntaxIssue{
			Line:    ln,
			Column:  col,
			Code:    parts[2],
			Message: parts[3],
			File:    strings.TrimRight(parts[4], "\r"),
		})
	}
	return issues
}

// pageCount reads the page count of a PDF document
func pageCount(data []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

func (c *Compiler) logPages(log *zap.Logger, data []byte) {
	pages, err := pageCount(data)
	if err != nil {
		log.Debug("could not inspect PDF", zap.Error(err))
		return
	}
	log.Info("inspected PDF", zap.Int("pages", pages), zap.Int("bytes", len(data)))
}
