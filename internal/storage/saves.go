package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tatianab/storyforge/internal/models"
)

// Ext is the file extension of save slots.
const Ext = ".sav"

// gameNamespace derives a stable id for legacy saves that had none.
var gameNamespace = uuid.MustParse("0c9f3b7e-5a41-4d2a-8f6e-9b3d2c1a7e55")

// SaveMetadata describes one save slot without loading it into the game.
type SaveMetadata struct {
	Name      string
	Path      string
	Version   int
	ModTime   time.Time
	Character string
	Location  string
	Turns     int
	Err       error // set when the slot cannot be loaded
}

// Engine reads and writes save artifacts. It keeps no reference to a state
// beyond a single call.
type Engine struct {
	logger *zap.Logger

	// syncFile flushes a written temp file; replaced in tests.
	syncFile func(*os.File) error
}

// NewEngine returns a storage engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:   logger.Named("storage"),
		syncFile: (*os.File).Sync,
	}
}

// SlotPath returns the path of a named slot inside dir.
func SlotPath(dir, name string) string {
	if !strings.HasSuffix(name, Ext) {
		name += Ext
	}
	return filepath.Join(dir, name)
}

// Save writes state to path. The replacement is atomic: after a failure the
// previous artifact at path, if any, is left as it was.
func (e *Engine) Save(state *models.GameState, path string) error {
	if state == nil {
		return ioFailure("save", path, errors.New("nil state"))
	}
	s := state.Clone()
	s.Normalize()
	s.SchemaVersion = models.CurrentSchemaVersion

	data, err := encodeArtifact(s)
	if err != nil {
		return ioFailure("save", path, fmt.Errorf("encode: %w", err))
	}
	if err := e.writeFileAtomic(path, data, 0o644); err != nil {
		return ioFailure("save", path, err)
	}
	e.logger.Info("game saved",
		zap.String("path", path),
		zap.String("game_id", s.ID),
		zap.Int("turns", len(s.NarrativeLog)),
	)
	return nil
}

// Load reads the artifact at path and migrates it to the current schema
// version. The file is never modified, whatever the outcome.
func (e *Engine) Load(path string) (*models.GameState, error) {
	m, version, err := e.read(path)
	if err != nil {
		e.logger.Warn("load failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	state := m.state
	if len(m.thumbnail) > 0 {
		e.restoreThumbnail(path, state, m.thumbnail)
	}
	if version < models.CurrentSchemaVersion {
		e.logger.Info("migrated save",
			zap.String("path", path),
			zap.Int("from", version),
			zap.Int("to", models.CurrentSchemaVersion),
		)
	}
	return state, nil
}

// restoreThumbnail stores a thumbnail embedded in a legacy save in the media
// store next to it and attaches it to the last turn. Failing to do so only
// loses the picture.
func (e *Engine) restoreThumbnail(path string, state *models.GameState, data []byte) {
	log := state.NarrativeLog
	if len(log) == 0 {
		e.logger.Warn("legacy thumbnail has no turn to attach to", zap.String("path", path))
		return
	}
	last := &log[len(log)-1]
	if last.ImageRef != "" {
		return
	}
	ref, err := NewMediaStore(filepath.Dir(path), e).Put(context.Background(), "thumbnail", state.ID, data)
	if err != nil {
		e.logger.Warn("legacy thumbnail not restored", zap.String("path", path), zap.Error(err))
		return
	}
	last.ImageRef = ref
}

func (e *Engine) read(path string) (*migrated, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, ioFailure("load", path, err)
	}

	a, err := parseArtifact(data)
	if err != nil {
		return nil, 0, corrupt("load", path, err)
	}
	if a.version > models.CurrentSchemaVersion || a.version < OldestSchemaVersion {
		return nil, a.version, &Error{Kind: KindUnknownVersion, Op: "load", Path: path, Version: a.version}
	}

	m, err := migrate(a.version, a.body)
	if err != nil {
		return nil, a.version, corrupt("load", path, err)
	}
	state := m.state
	state.Normalize()
	state.SchemaVersion = models.CurrentSchemaVersion
	if state.ID == "" {
		state.ID = uuid.NewSHA1(gameNamespace, []byte(filepath.Base(path))).String()
	}
	return m, a.version, nil
}

// ListSaves enumerates the save slots in dir, newest first. It only reads.
func (e *Engine) ListSaves(dir string) ([]SaveMetadata, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []SaveMetadata{}, nil
		}
		return nil, ioFailure("list", dir, err)
	}

	saves := make([]SaveMetadata, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || filepath.Ext(entry.Name()) != Ext {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		meta := SaveMetadata{
			Name: strings.TrimSuffix(entry.Name(), Ext),
			Path: path,
		}
		if info, err := entry.Info(); err == nil {
			meta.ModTime = info.ModTime()
		}

		m, version, err := e.read(path)
		meta.Version = version
		if err != nil {
			meta.Err = err
			saves = append(saves, meta)
			continue
		}
		state := m.state
		meta.Character = state.Player.Attributes["Name"]
		if meta.Character == "" {
			meta.Character = state.Player.Identity
		}
		meta.Location = state.Player.Position.Location
		meta.Turns = len(state.NarrativeLog)
		saves = append(saves, meta)
	}

	sort.SliceStable(saves, func(i, j int) bool {
		return saves[i].ModTime.After(saves[j].ModTime)
	})
	return saves, nil
}

// Delete removes a save slot.
func (e *Engine) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return ioFailure("delete", path, err)
	}
	e.logger.Info("save deleted", zap.String("path", path))
	return nil
}

// writeFileAtomic writes data to a pending file next to path and renames it
// into place. The pending file is removed on every failure path.
func (e *Engine) writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	pending, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(dir),
		renameio.WithPermissions(perm),
	)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			e.logger.Warn("failed to remove temp file", zap.String("path", pending.Name()), zap.Error(err))
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := e.syncFile(pending.File); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
