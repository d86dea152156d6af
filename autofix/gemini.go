package autofix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Satyampatil513/resume-editor/models"
	"github.com/Satyampatil513/resume-editor/patch"
)

// DefaultModel is the Gemini model used when none is configured
const DefaultModel = "gemini-2.5-flash"

// ErrMissingAPIKey is returned when no Gemini API key is configured
var ErrMissingAPIKey = errors.New("gemini API key is not set")

const fixPrompt = `You are an expert LaTeX debugger.
The following LaTeX code failed to compile.
Here are the error logs from pdflatex:
---
%s
---

BROKEN LATEX CODE (Line Numbers added for reference):
%s

TASK:
Fix the LaTeX code so it compiles.
Perform SURGICAL EDITS (Patches) using the line numbers.

COMMON FIXES:
- Escape '#' in text/URL: change '#' to '\#'.
- Escape '_': change '_' to '\_'.
- Fix undefined control sequences.

RESPONSE FORMAT:
{
  "type": "patch",
  "explanation": "Briefly explain the fix.",
  "operations": [
    {
      "op": "replace",
      "start_line": 50,
      "end_line": 50,
      "search": "github.com/user#name",
      "content": "github.com/user\\#name"
    }
  ]
}

Allowed ops are "replace", "insert_after" and "delete".

If the file is completely broken and needs a full rewrite, you MAY return:
{ "type": "rewrite", "explanation": "...", "fixedCode": "FULL_CODE_HERE" }

CRITICAL RULES:
- Use double backslashes for LaTeX commands in JSON strings: "\\item".
- "content" must be raw LaTeX (no line numbers).
`

// generator is the subset of *genai.Models the fixer calls
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini is a Fixer backed by the Gemini API
type Gemini struct {
	models generator
	model  string
	config *genai.GenerateContentConfig
	logger *zap.Logger
}

// NewGemini creates a Gemini fixer
func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return newGemini(client.Models, model, logger), nil
}

func newGemini(g generator, model string, logger *zap.Logger) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gemini{
		models: g,
		model:  model,
		config: &genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
		logger: logger.With(zap.String("model", model)),
	}
}

// Fix sends the line-numbered code and its logs and parses the answer
func (g *Gemini) Fix(ctx context.Context, code, logs string) (*models.FixResponse, error) {
	prompt := fmt.Sprintf(fixPrompt, logs, patch.Decorate(code))
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, g.config)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	text := resp.Text()
	g.logger.Debug("gemini fix response", zap.Int("bytes", len(text)))

	fix, err := ParseFixResponse(text)
	if err != nil {
		g.logger.Warn("failed to parse gemini response", zap.Error(err), zap.String("response", text))
		return nil, err
	}
	return fix, nil
}

// ParseFixResponse decodes a collaborator answer. Markdown fences around the
// JSON are tolerated. An answer that carries fixedCode without a patch is a
// rewrite, and one with neither is a message.
func ParseFixResponse(text string) (*models.FixResponse, error) {
	body := strings.TrimSpace(stripFences(text))
	if body == "" {
		return nil, errors.New("empty fix response")
	}

	var fix models.FixResponse
	if err := json.Unmarshal([]byte(body), &fix); err != nil {
		return nil, fmt.Errorf("failed to parse fix response: %w", err)
	}

	switch {
	case fix.Type == models.FixPatch && len(fix.Operations) > 0:
	case fix.FixedCode != "":
		fix.Type = models.FixRewrite
	default:
		fix.Type = models.FixMessage
	}
	return &fix, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}
