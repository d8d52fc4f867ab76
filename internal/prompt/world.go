package prompt

import (
	"strings"

	"github.com/tatianab/storyforge/internal/models"
)

// Section is one titled block of the world catalogue.
type Section struct {
	Title string
	Text  string // including its "## KIND: Title" header line
}

// World holds the styles and difficulties a new game can pick from, in the
// order they appear in the catalogue.
type World struct {
	Styles       []Section
	Difficulties []Section
}

// ParseWorld reads "## STYLE: x" and "## DIFFICULTY: y" sections. Lines
// before the first section and sections of other kinds are ignored.
func ParseWorld(text string) *World {
	w := &World{}
	var (
		cur  *[]Section
		sec  Section
		body []string
	)
	flush := func() {
		if cur != nil {
			sec.Text = sec.Text + "\n" + strings.TrimSpace(strings.Join(body, "\n")) + "\n"
			*cur = append(*cur, sec)
		}
		cur, body = nil, nil
	}

	for line := range strings.Lines(text) {
		line = strings.TrimRight(line, "\r\n")
		header, ok := strings.CutPrefix(line, "##")
		if !ok {
			body = append(body, line)
			continue
		}
		flush()
		header = strings.TrimSpace(header)
		kind, title, ok := strings.Cut(header, ":")
		title = strings.TrimSpace(title)
		if !ok || title == "" {
			continue
		}
		switch strings.TrimSpace(kind) {
		case "STYLE":
			cur = &w.Styles
		case "DIFFICULTY":
			cur = &w.Difficulties
		default:
			continue
		}
		sec = Section{Title: title, Text: "## " + header}
	}
	flush()
	return w
}

// Style returns the style section with the given title.
func (w *World) Style(title string) (Section, bool) { return find(w.Styles, title) }

// Difficulty returns the difficulty section with the given title.
func (w *World) Difficulty(title string) (Section, bool) { return find(w.Difficulties, title) }

// StyleNames lists style titles in catalogue order.
func (w *World) StyleNames() []string { return titles(w.Styles) }

// DifficultyNames lists difficulty titles in catalogue order.
func (w *World) DifficultyNames() []string { return titles(w.Difficulties) }

// Preamble is the world description that opens every prompt.
func (w *World) Preamble(s models.Settings) string {
	var b strings.Builder
	if sec, ok := w.Style(s.Style); ok {
		b.WriteString(sec.Text)
	}
	if sec, ok := w.Difficulty(s.Difficulty); ok {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(sec.Text)
	}
	return b.String()
}

func find(sections []Section, title string) (Section, bool) {
	for _, s := range sections {
		if strings.EqualFold(s.Title, title) {
			return s, true
		}
	}
	return Section{}, false
}

func titles(sections []Section) []string {
	out := make([]string, len(sections))
	for i, s := range sections {
		out[i] = s.Title
	}
	return out
}
