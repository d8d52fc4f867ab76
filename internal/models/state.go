package models

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
)

// NewGameOptions seeds a fresh GameState.
type NewGameOptions struct {
	Identity   string
	Style      string
	Difficulty string
	Now        time.Time
}

// NewGame returns the seed state of a new adventure with an empty narrative log.
func NewGame(opts NewGameOptions) *GameState {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	s := &GameState{
		SchemaVersion: CurrentSchemaVersion,
		ID:            uuid.NewString(),
		CreatedAt:     now.UTC(),
		Settings: Settings{
			Style:      opts.Style,
			Difficulty: opts.Difficulty,
		},
		Player: Player{
			Identity: opts.Identity,
			Position: Position{Day: 1},
		},
		Status: StatusPlaying,
	}
	s.Normalize()
	return s
}

// Normalize replaces nil maps and slices with empty ones so that an encoded
// and decoded state compares equal to the original.
func (s *GameState) Normalize() {
	if s.Player.Attributes == nil {
		s.Player.Attributes = map[string]string{}
	}
	if s.Player.Inventory == nil {
		s.Player.Inventory = []Item{}
	}
	if s.Player.Perks == nil {
		s.Player.Perks = []Perk{}
	}
	if s.World.Environment == nil {
		s.World.Environment = map[string]string{}
	}
	if s.World.Flags == nil {
		s.World.Flags = map[string]bool{}
	}
	if s.World.Visited == nil {
		s.World.Visited = []string{}
	}
	if s.NarrativeLog == nil {
		s.NarrativeLog = []Turn{}
	}
	if s.Options == nil {
		s.Options = []string{}
	}
	if s.Status == "" {
		s.Status = StatusPlaying
	}
}

// Clone returns a deep copy of s.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	c := *s
	c.Player.Attributes = maps.Clone(s.Player.Attributes)
	c.Player.Inventory = slices.Clone(s.Player.Inventory)
	c.Player.Perks = slices.Clone(s.Player.Perks)
	c.World.Environment = maps.Clone(s.World.Environment)
	c.World.Flags = maps.Clone(s.World.Flags)
	c.World.Visited = slices.Clone(s.World.Visited)
	c.NarrativeLog = slices.Clone(s.NarrativeLog)
	c.Options = slices.Clone(s.Options)
	return &c
}

// LastTurn returns the most recent narrative entry, if any.
func (s *GameState) LastTurn() (Turn, bool) {
	if len(s.NarrativeLog) == 0 {
		return Turn{}, false
	}
	return s.NarrativeLog[len(s.NarrativeLog)-1], true
}

// Finished reports whether the adventure has been won or lost.
func (s *GameState) Finished() bool {
	return s.Status == StatusWon || s.Status == StatusLost
}

// Advance derives the next state from prev by appending exactly one turn and
// applying the updates carried by out. prev is left untouched.
func Advance(prev *GameState, out Outcome, now time.Time) *GameState {
	next := prev.Clone()
	next.Normalize()

	if out.Position != nil {
		next.Player.Position = *out.Position
	}
	if loc := next.Player.Position.Location; loc != "" && !slices.Contains(next.World.Visited, loc) {
		next.World.Visited = append(next.World.Visited, loc)
	}
	if out.Attributes != nil {
		next.Player.Attributes = maps.Clone(out.Attributes)
	}
	if out.Environment != nil {
		next.World.Environment = maps.Clone(out.Environment)
	}
	if out.Inventory != nil {
		next.Player.Inventory = slices.Clone(out.Inventory)
	}
	if out.Perks != nil {
		next.Player.Perks = slices.Clone(out.Perks)
	}
	// Flags accumulate; the model only reports the ones that changed.
	maps.Copy(next.World.Flags, out.Flags)
	if out.Options != nil {
		next.Options = slices.Clone(out.Options)
	}
	if out.ImagePrompt != "" {
		next.ImagePrompt = out.ImagePrompt
	}
	if out.Status != "" {
		next.Status = out.Status
	}

	next.NarrativeLog = append(next.NarrativeLog, Turn{
		ID:        uuid.NewString(),
		Action:    out.Action,
		Narrative: out.Narrative,
		AudioRef:  out.AudioRef,
		ImageRef:  out.ImageRef,
		Day:       next.Player.Position.Day,
		Time:      next.Player.Position.Time,
		Timestamp: now.UTC(),
	})
	return next
}
