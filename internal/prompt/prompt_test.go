package prompt

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/storyforge/internal/models"
)

var testNow = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestParseWorld(t *testing.T) {
	w := ParseWorld(`intro text is ignored
## STYLE: Sea Shanty
Salt and rope.

## NOTES: skipped
whatever
## DIFFICULTY: Brutal
Everything bites.
## STYLE:
no title
`)
	assert.Equal(t, []string{"Sea Shanty"}, w.StyleNames())
	assert.Equal(t, []string{"Brutal"}, w.DifficultyNames())

	s, ok := w.Style("sea shanty")
	require.True(t, ok)
	assert.Equal(t, "## STYLE: Sea Shanty\nSalt and rope.\n", s.Text)

	_, ok = w.Style("Space Opera")
	assert.False(t, ok)

	assert.Equal(t, "## STYLE: Sea Shanty\nSalt and rope.\n\n## DIFFICULTY: Brutal\nEverything bites.\n",
		w.Preamble(models.Settings{Style: "Sea Shanty", Difficulty: "Brutal"}))
	assert.Empty(t, w.Preamble(models.Settings{}))
}

func TestEmbeddedWorld(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	assert.Contains(t, b.World().StyleNames(), "Grim Fantasy")
	assert.Equal(t, []string{"Story", "Normal", "Hard"}, b.World().DifficultyNames())
}

func TestOpeningPrompt(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	state := models.NewGame(models.NewGameOptions{
		Identity:   "A wandering bard",
		Style:      "High Fantasy",
		Difficulty: "Story",
		Now:        testNow,
	})

	p, err := b.Turn(state, "open the door")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, "## STYLE: High Fantasy"))
	assert.Contains(t, p, "## DIFFICULTY: Story")
	assert.Contains(t, p, `"A wandering bard"`)
	assert.Contains(t, p, `The player's first intent: "open the door"`)
	assert.Contains(t, p, "line containing only three dashes")
}

func TestTurnPrompt(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	state := models.NewGame(models.NewGameOptions{Identity: "A thief", Now: testNow})
	for i := range 6 {
		state = models.Advance(state, models.Outcome{
			Action:    fmt.Sprintf("action %d", i),
			Narrative: fmt.Sprintf("Narrative %d happens. More detail follows.", i),
			Position:  &models.Position{Location: "Docks", Day: 2, Time: "22:00"},
			Inventory: []models.Item{{Name: "Lockpick", Description: "Bent.", Weight: 0.1, Equipped: true}},
			Flags:     map[string]bool{"guard_alerted": i%2 == 0},
		}, testNow)
	}

	p, err := b.Turn(state, "climb the wall")
	require.NoError(t, err)

	assert.Contains(t, p, "## Earlier in the story")
	assert.Contains(t, p, "- [Day 2, 22:00] action 0: Narrative 0 happens.")
	assert.NotContains(t, p, "Narrative 0 happens. More detail follows.")
	assert.Contains(t, p, "Action: action 5\nSituation: Narrative 5 happens. More detail follows.")
	assert.Contains(t, p, "Location: Docks (day 2, 22:00)")
	assert.Contains(t, p, "- Lockpick (equipped): Bent. [0.1 kg]")
	assert.Contains(t, p, "Perks and skills: none")
	assert.Contains(t, p, "Known facts: guard_alerted=false")
	assert.Contains(t, p, "## Chosen action\nclimb the wall")
	assert.Less(t, strings.Index(p, "action 2:"), strings.Index(p, "Action: action 3"))
}

func TestWindow(t *testing.T) {
	var log []models.Turn
	for i := range MaxSummaries + RecentTurns + 5 {
		log = append(log, models.Turn{Action: fmt.Sprint(i), Narrative: "x."})
	}
	summaries, recent := window(log)
	assert.Len(t, summaries, MaxSummaries)
	assert.Len(t, recent, RecentTurns)
	assert.Equal(t, fmt.Sprint(len(log)-1), recent[RecentTurns-1].Action)
	assert.Contains(t, summaries[0], "] 5: x.")

	summaries, recent = window(log[:2])
	assert.Empty(t, summaries)
	assert.Len(t, recent, 2)
}

func TestSummarizeTruncates(t *testing.T) {
	s := summarize(models.Turn{Day: 1, Time: "08:00", Narrative: strings.Repeat("long ", 100)})
	assert.Equal(t, summaryLength, len([]rune(s)))
	assert.True(t, strings.HasSuffix(s, "…"))
}

func TestNarrationAndImage(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	n, err := b.Narration("The door creaks open.")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(n, "You are a skilled fantasy narrator. Read VERBATIM"))
	assert.Contains(t, n, "\n\nThe door creaks open.")

	assert.Equal(t, "A hall.", b.Image(" A hall. ", models.Settings{}))
	assert.Equal(t, "A hall. Style: grim fantasy, painterly illustration.", b.Image("A hall.", models.Settings{Style: "Grim Fantasy"}))
	assert.Empty(t, b.Image("", models.Settings{Style: "Grim Fantasy"}))
}
