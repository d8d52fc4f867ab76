package engine

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"gopkg.in/yaml.v3"

	"github.com/tatianab/storyforge/internal/models"
)

// stateBlock is the YAML document the model writes after the separator.
// Absent fields leave the corresponding state untouched.
type stateBlock struct {
	Day         *int              `yaml:"day"`
	Time        string            `yaml:"time"`
	Location    string            `yaml:"location"`
	Attributes  map[string]string `yaml:"attributes"`
	Environment map[string]string `yaml:"environment"`
	Inventory   []models.Item     `yaml:"inventory"`
	Perks       []models.Perk     `yaml:"perks"`
	Flags       map[string]bool   `yaml:"flags"`
	Options     []string          `yaml:"options"`
	ImagePrompt string            `yaml:"image_prompt"`
	Status      string            `yaml:"status"`
}

type turnText struct {
	narrative string
	state     *stateBlock // nil when the response carried no state block
}

var errEmptyNarrative = errors.New("response has no narrative")

// stripControl removes Unicode control and format characters, keeping
// newlines and tabs.
var stripControl = runes.Remove(runes.Predicate(func(r rune) bool {
	if r == '\n' || r == '\t' {
		return false
	}
	return unicode.In(r, unicode.Cc, unicode.Cf, unicode.Co, unicode.Cs)
}))

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	out, _, err := transform.String(stripControl, s)
	if err != nil {
		return s
	}
	return out
}

// parseTurn splits a complete response into narrative and state block.
func parseTurn(raw string) (turnText, error) {
	text := cleanText(raw)

	narrative, block, found := cutSeparator(text)
	t := turnText{narrative: strings.TrimSpace(narrative)}
	if t.narrative == "" {
		return turnText{}, errEmptyNarrative
	}
	if !found {
		return t, nil
	}

	block = stripFences(block)
	if strings.TrimSpace(block) == "" {
		return t, nil
	}
	var sb stateBlock
	if err := yaml.Unmarshal([]byte(block), &sb); err != nil {
		return turnText{}, fmt.Errorf("state block: %w", err)
	}
	if err := sb.validate(); err != nil {
		return turnText{}, fmt.Errorf("state block: %w", err)
	}
	t.state = &sb
	return t, nil
}

// cutSeparator splits text at its first separator line.
func cutSeparator(text string) (before, after string, found bool) {
	offset := 0
	for line := range strings.Lines(text) {
		if isSeparator(line) {
			return text[:offset], text[offset+len(line):], true
		}
		offset += len(line)
	}
	return text, "", false
}

func stripFences(block string) string {
	block = strings.TrimSpace(block)
	block = strings.TrimPrefix(block, "```yaml")
	block = strings.TrimPrefix(block, "```")
	block = strings.TrimSuffix(block, "```")
	return block
}

func (b *stateBlock) validate() error {
	if b.Day != nil && *b.Day < 0 {
		return fmt.Errorf("negative day %d", *b.Day)
	}
	switch models.Status(strings.ToLower(b.Status)) {
	case "", models.StatusPlaying, models.StatusWon, models.StatusLost:
		b.Status = strings.ToLower(b.Status)
	default:
		return fmt.Errorf("unknown status %q", b.Status)
	}
	return nil
}

// outcome turns a parsed response into the delta for prev.
func (t turnText) outcome(prev *models.GameState, action string) models.Outcome {
	out := models.Outcome{
		Action:    action,
		Narrative: t.narrative,
	}
	b := t.state
	if b == nil {
		return out
	}
	if b.Day != nil || b.Time != "" || b.Location != "" {
		pos := prev.Player.Position
		if b.Day != nil {
			pos.Day = *b.Day
		}
		if b.Time != "" {
			pos.Time = b.Time
		}
		if b.Location != "" {
			pos.Location = b.Location
		}
		out.Position = &pos
	}
	out.Attributes = b.Attributes
	out.Environment = b.Environment
	out.Inventory = b.Inventory
	out.Perks = b.Perks
	out.Flags = b.Flags
	out.Options = b.Options
	out.ImagePrompt = b.ImagePrompt
	out.Status = models.Status(b.Status)
	return out
}
