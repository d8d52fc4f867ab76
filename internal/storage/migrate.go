package storage

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/tatianab/storyforge/internal/models"
)

// OldestSchemaVersion is the oldest artifact format that can still be loaded.
const OldestSchemaVersion = 1

// document is a save decoded into the fixed record of its schema version.
type document interface {
	schemaVersion() int
	// upgrade returns the same save expressed in the next schema version.
	upgrade() (document, error)
}

type decoder func(body []byte) (document, error)

// decoders must cover every version from OldestSchemaVersion up to
// models.CurrentSchemaVersion without gaps.
var decoders = map[int]decoder{
	1: decodeV1,
	2: decodeV2,
	3: decodeV3,
}

func checkChain() error {
	for v := OldestSchemaVersion; v <= models.CurrentSchemaVersion; v++ {
		if decoders[v] == nil {
			return fmt.Errorf("no decoder for schema version %d", v)
		}
	}
	return nil
}

// migrated is a save at the current schema version. thumbnail holds the
// image a v1 save embedded; newer versions keep media out of the artifact.
type migrated struct {
	state     *models.GameState
	thumbnail []byte
}

// migrate decodes body at version and upgrades it step by step to the
// current schema version.
func migrate(version int, body []byte) (*migrated, error) {
	decode, ok := decoders[version]
	if !ok {
		return nil, fmt.Errorf("no decoder for schema version %d", version)
	}
	doc, err := decode(body)
	if err != nil {
		return nil, err
	}
	for doc.schemaVersion() < models.CurrentSchemaVersion {
		from := doc.schemaVersion()
		next, err := doc.upgrade()
		if err != nil {
			return nil, fmt.Errorf("migrate v%d: %w", from, err)
		}
		if next.schemaVersion() != from+1 {
			return nil, fmt.Errorf("migrate v%d produced v%d", from, next.schemaVersion())
		}
		doc = next
	}
	current, ok := doc.(*saveV3)
	if !ok {
		return nil, fmt.Errorf("unexpected document %T at current version", doc)
	}
	return &migrated{state: current.state, thumbnail: current.thumbnail}, nil
}

// v1: the first release wrote JSON with a flat state record and plain
// string lists.

type saveV1 struct {
	Version int `yaml:"version"`
	State   struct {
		Day         int               `yaml:"day"`
		Time        string            `yaml:"time"`
		Attributes  map[string]string `yaml:"attributes"`
		Environment map[string]string `yaml:"environment"`
		Inventory   []string          `yaml:"inventory"`
		Perks       []string          `yaml:"perks"`
		History     []string          `yaml:"history"`
	} `yaml:"state"`
	Thumbnail *string `yaml:"thumbnail"`
}

func decodeV1(body []byte) (document, error) {
	var s saveV1
	if err := yaml.Unmarshal(body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *saveV1) schemaVersion() int { return 1 }

func (s *saveV1) upgrade() (document, error) { return upgradeV1(s) }

// v2: structured inventory, perks and history entries.

type itemV2 struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Weight      float64 `yaml:"weight"`
	Equipped    bool    `yaml:"equipped"`
}

type perkV2 struct {
	Name        string `yaml:"name"`
	Degree      string `yaml:"degree"`
	Description string `yaml:"description"`
}

type entryV2 struct {
	Action    string    `yaml:"action"`
	Narrative string    `yaml:"narrative"`
	Timestamp time.Time `yaml:"timestamp,omitempty"`
}

type saveV2 struct {
	SchemaVersion int               `yaml:"schema_version"`
	ID            string            `yaml:"id"`
	Identity      string            `yaml:"identity"`
	Style         string            `yaml:"style"`
	Difficulty    string            `yaml:"difficulty"`
	Day           int               `yaml:"day"`
	Time          string            `yaml:"time"`
	Location      string            `yaml:"location"`
	Attributes    map[string]string `yaml:"attributes"`
	Environment   map[string]string `yaml:"environment"`
	Inventory     []itemV2          `yaml:"inventory"`
	Perks         []perkV2          `yaml:"perks"`
	History       []entryV2         `yaml:"history"`
	Options       []string          `yaml:"options"`
	ImagePrompt   string            `yaml:"image_prompt"`

	thumbnail []byte // carried over from v1
}

func decodeV2(body []byte) (document, error) {
	var s saveV2
	if err := yaml.Unmarshal(body, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *saveV2) schemaVersion() int { return 2 }

func (s *saveV2) upgrade() (document, error) { return upgradeV2(s), nil }

// v3: player and world sections, world flags, visited locations, turn ids
// and media references.

type saveV3 struct {
	state     *models.GameState
	thumbnail []byte
}

func decodeV3(body []byte) (document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(body))
	dec.KnownFields(true)

	var s models.GameState
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	return &saveV3{state: &s}, nil
}

func (s *saveV3) schemaVersion() int { return 3 }

func (s *saveV3) upgrade() (document, error) {
	return nil, errors.New("already at the current schema version")
}

// upgradeV1 converts plain string lists into structured records. The v1
// environment carried the location as one of its entries, and the thumbnail
// was embedded as base64.
func upgradeV1(in *saveV1) (*saveV2, error) {
	var thumbnail []byte
	if in.Thumbnail != nil && *in.Thumbnail != "" {
		var err error
		if thumbnail, err = base64.StdEncoding.DecodeString(*in.Thumbnail); err != nil {
			return nil, fmt.Errorf("thumbnail: %w", err)
		}
	}
	out := &saveV2{
		thumbnail:     thumbnail,
		SchemaVersion: 2,
		Day:           in.State.Day,
		Time:          in.State.Time,
		Location:      in.State.Environment["Location"],
		Attributes:    maps.Clone(in.State.Attributes),
		Environment:   maps.Clone(in.State.Environment),
		Inventory:     make([]itemV2, 0, len(in.State.Inventory)),
		Perks:         make([]perkV2, 0, len(in.State.Perks)),
		History:       make([]entryV2, 0, len(in.State.History)),
		Options:       []string{},
	}
	for _, name := range in.State.Inventory {
		out.Inventory = append(out.Inventory, itemV2{Name: name})
	}
	for _, name := range in.State.Perks {
		out.Perks = append(out.Perks, perkV2{Name: name})
	}
	for _, text := range in.State.History {
		out.History = append(out.History, entryV2{Narrative: text})
	}
	return out, nil
}

// turnNamespace derives stable ids for turns that predate turn ids, so that
// loading the same legacy save twice yields the same state.
var turnNamespace = uuid.MustParse("6f1d8a52-3c1e-4f0b-9a7e-2d5c8b1e4a90")

// upgradeV2 splits the flat record into player and world sections.
func upgradeV2(in *saveV2) *saveV3 {
	s := &models.GameState{
		SchemaVersion: 3,
		ID:            in.ID,
		Settings: models.Settings{
			Style:      in.Style,
			Difficulty: in.Difficulty,
		},
		Player: models.Player{
			Identity:   in.Identity,
			Attributes: maps.Clone(in.Attributes),
			Inventory:  make([]models.Item, 0, len(in.Inventory)),
			Perks:      make([]models.Perk, 0, len(in.Perks)),
			Position: models.Position{
				Location: in.Location,
				Day:      in.Day,
				Time:     in.Time,
			},
		},
		World: models.World{
			Environment: maps.Clone(in.Environment),
			Flags:       map[string]bool{},
			Visited:     []string{},
		},
		NarrativeLog: make([]models.Turn, 0, len(in.History)),
		Options:      append([]string{}, in.Options...),
		ImagePrompt:  in.ImagePrompt,
		Status:       models.StatusPlaying,
	}
	if in.Location != "" {
		s.World.Visited = append(s.World.Visited, in.Location)
	}
	for _, it := range in.Inventory {
		s.Player.Inventory = append(s.Player.Inventory, models.Item(it))
	}
	for _, p := range in.Perks {
		s.Player.Perks = append(s.Player.Perks, models.Perk(p))
	}
	for i, e := range in.History {
		s.NarrativeLog = append(s.NarrativeLog, models.Turn{
			ID:        uuid.NewSHA1(turnNamespace, []byte(in.ID+"/"+strconv.Itoa(i))).String(),
			Action:    e.Action,
			Narrative: e.Narrative,
			Timestamp: e.Timestamp,
		})
	}
	if len(in.History) > 0 {
		s.CreatedAt = in.History[0].Timestamp
	}
	return &saveV3{state: s, thumbnail: in.thumbnail}
}
