package models

import "time"

// CurrentSchemaVersion is the schema version of a GameState held in memory.
// Older artifacts are migrated up to it on load.
const CurrentSchemaVersion = 3

// Status is the overall outcome of the adventure so far.
type Status string

const (
	StatusPlaying Status = "playing"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
)

// Settings are the world flavour choices made at new game.
type Settings struct {
	Style      string `yaml:"style"`
	Difficulty string `yaml:"difficulty"`
}

// Item is a single thing carried by the player.
type Item struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Weight      float64 `yaml:"weight"`
	Equipped    bool    `yaml:"equipped"`
}

// Perk is a skill or trait with a free-form degree ("novice", "master").
type Perk struct {
	Name        string `yaml:"name"`
	Degree      string `yaml:"degree"`
	Description string `yaml:"description"`
}

// Position places the player in space and in-game time.
type Position struct {
	Location string `yaml:"location"`
	Day      int    `yaml:"day"`
	Time     string `yaml:"time"` // e.g., "07:30"
}

// Player holds everything describing the played character.
type Player struct {
	Identity   string            `yaml:"identity"`   // the player's self-description
	Attributes map[string]string `yaml:"attributes"` // e.g., {"Health": "Bruised"}
	Inventory  []Item            `yaml:"inventory"`
	Perks      []Perk            `yaml:"perks"`
	Position   Position          `yaml:"position"`
}

// World holds the mutable world around the player.
type World struct {
	Environment map[string]string `yaml:"environment"` // e.g., {"Light": "Dim"}
	Flags       map[string]bool   `yaml:"flags"`
	Visited     []string          `yaml:"visited"` // in order of first visit
}

// Turn is one entry of the narrative log.
type Turn struct {
	ID        string    `yaml:"id"`
	Action    string    `yaml:"action"`
	Narrative string    `yaml:"narrative"`
	AudioRef  string    `yaml:"audio_ref,omitempty"`
	ImageRef  string    `yaml:"image_ref,omitempty"`
	Day       int       `yaml:"day"`
	Time      string    `yaml:"time"`
	Timestamp time.Time `yaml:"timestamp"`
}

// GameState is the root aggregate persisted by the storage engine and read
// by the generation engine. Treat it as immutable: derive new states with
// Advance instead of mutating a shared instance.
type GameState struct {
	SchemaVersion int       `yaml:"schema_version"`
	ID            string    `yaml:"id"`
	CreatedAt     time.Time `yaml:"created_at"`
	Settings      Settings  `yaml:"settings"`
	Player        Player    `yaml:"player"`
	World         World     `yaml:"world"`
	NarrativeLog  []Turn    `yaml:"narrative_log"`
	Options       []string  `yaml:"options"`
	ImagePrompt   string    `yaml:"image_prompt"`
	Status        Status    `yaml:"status"`
}

// Outcome is the state delta produced by one successful generation. Nil or
// empty fields leave the corresponding state untouched.
type Outcome struct {
	Action      string
	Narrative   string
	AudioRef    string
	ImageRef    string
	Position    *Position
	Attributes  map[string]string
	Environment map[string]string
	Inventory   []Item
	Perks       []Perk
	Flags       map[string]bool
	Options     []string
	ImagePrompt string
	Status      Status
}
