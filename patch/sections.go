package patch

import (
	"regexp"
	"strings"
)

var sectionPattern = regexp.MustCompile(`\\section\*?\{([^}]+)\}`)

// Section is a \section heading and the lines it spans, 1-based inclusive
type Section struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
}

// ParseSections indexes the \section and \section* headings of text. Each
// section runs until the line before the next heading, the last one until
// the end of the document.
func ParseSections(text string) []Section {
	lines := strings.Split(text, "\n")
	var sections []Section
	current := -1

	closeCurrent := func(end int) {
		if current < 0 {
			return
		}
		s := &sections[current]
		s.EndLine = end
		s.Content = strings.Join(lines[s.StartLine-1:end], "\n")
	}

	for i, line := range lines {
		m := sectionPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		closeCurrent(i)
		title := m[1]
		sections = append(sections, Section{
			ID:        strings.Join(strings.Fields(strings.ToLower(title)), "-"),
			Title:     title,
			StartLine: i + 1,
		})
		current = len(sections) - 1
	}
	closeCurrent(len(lines))
	return sections
}
