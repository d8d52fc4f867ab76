// Package prompt renders the text sent to the generation service.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/tatianab/storyforge/internal/models"
)

//go:embed prompts/*.txt
var files embed.FS

//go:embed prompts/world.txt
var worldText string

const (
	// RecentTurns are quoted in full; older turns are summarized.
	RecentTurns = 3
	// MaxSummaries bounds how many older turns are mentioned at all.
	MaxSummaries = 40

	summaryLength = 140
)

// Builder renders prompts from embedded templates.
type Builder struct {
	tmpl  *template.Template
	world *World
}

// New parses the embedded templates and world catalogue.
func New() (*Builder, error) {
	tmpl, err := template.New("prompt").Funcs(template.FuncMap{
		"join":    strings.Join,
		"mapping": formatMapping,
		"flags":   formatFlags,
	}).ParseFS(files, "prompts/format.txt", "prompts/opening.txt", "prompts/turn.txt", "prompts/narration.txt")
	if err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	return &Builder{tmpl: tmpl, world: ParseWorld(worldText)}, nil
}

// World returns the catalogue of styles and difficulties.
func (b *Builder) World() *World { return b.world }

// IsOpening reports whether the next turn of state starts the adventure.
func IsOpening(state *models.GameState) bool {
	return len(state.NarrativeLog) == 0
}

// Turn renders the prompt for the next turn of state.
func (b *Builder) Turn(state *models.GameState, action string) (string, error) {
	if IsOpening(state) {
		return b.execute("opening.txt", struct {
			World    string
			Identity string
			Action   string
		}{
			World:    b.world.Preamble(state.Settings),
			Identity: state.Player.Identity,
			Action:   action,
		})
	}

	summaries, recent := window(state.NarrativeLog)
	p := state.Player
	return b.execute("turn.txt", struct {
		World       string
		Summaries   []string
		Recent      []models.Turn
		Location    string
		Day         int
		Time        string
		Visited     []string
		Attributes  map[string]string
		Environment map[string]string
		Inventory   []models.Item
		Perks       []models.Perk
		Flags       map[string]bool
		Action      string
	}{
		World:       b.world.Preamble(state.Settings),
		Summaries:   summaries,
		Recent:      recent,
		Location:    p.Position.Location,
		Day:         p.Position.Day,
		Time:        p.Position.Time,
		Visited:     state.World.Visited,
		Attributes:  p.Attributes,
		Environment: state.World.Environment,
		Inventory:   p.Inventory,
		Perks:       p.Perks,
		Flags:       state.World.Flags,
		Action:      action,
	})
}

// Narration wraps narrative text for the speech model.
func (b *Builder) Narration(narrative string) (string, error) {
	return b.execute("narration.txt", narrative)
}

// Image returns the illustration prompt, flavoured by the world style.
func (b *Builder) Image(imagePrompt string, settings models.Settings) string {
	imagePrompt = strings.TrimSpace(imagePrompt)
	if imagePrompt == "" || settings.Style == "" {
		return imagePrompt
	}
	return fmt.Sprintf("%s Style: %s, painterly illustration.", imagePrompt, strings.ToLower(settings.Style))
}

func (b *Builder) execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}

// window splits log into one-line summaries of older turns and the most
// recent turns in full, both in log order.
func window(log []models.Turn) (summaries []string, recent []models.Turn) {
	split := max(len(log)-RecentTurns, 0)
	older := log[:split]
	if len(older) > MaxSummaries {
		older = older[len(older)-MaxSummaries:]
	}
	for _, t := range older {
		summaries = append(summaries, summarize(t))
	}
	return summaries, log[split:]
}

func summarize(t models.Turn) string {
	s := firstSentence(t.Narrative)
	if t.Action != "" {
		s = t.Action + ": " + s
	}
	s = fmt.Sprintf("[Day %d, %s] %s", t.Day, t.Time, s)
	if utf8.RuneCountInString(s) > summaryLength {
		r := []rune(s)
		s = string(r[:summaryLength-1]) + "…"
	}
	return s
}

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		return text[:i+1]
	}
	return text
}

func formatMapping(m map[string]string) string {
	if len(m) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, k+": "+m[k])
	}
	return strings.Join(parts, "; ")
}

func formatFlags(m map[string]bool) string {
	if len(m) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s=%t", k, m[k]))
	}
	return strings.Join(parts, ", ")
}
