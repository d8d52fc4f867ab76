// Package game is the boundary between the presentation layer and the rest
// of the application. A Session owns the live GameState, applies generation
// results to it and persists it.
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tatianab/storyforge/internal/billing"
	"github.com/tatianab/storyforge/internal/config"
	"github.com/tatianab/storyforge/internal/engine"
	"github.com/tatianab/storyforge/internal/models"
	"github.com/tatianab/storyforge/internal/prompt"
	"github.com/tatianab/storyforge/internal/provider"
	"github.com/tatianab/storyforge/internal/storage"
)

var (
	// ErrNoGame is returned by operations that need a game in progress.
	ErrNoGame = errors.New("no game in progress")
	// ErrGameOver is returned when acting in a game that was won or lost.
	ErrGameOver = errors.New("the adventure has ended")
	// ErrEmptyAction is returned for a blank action after the opening turn.
	ErrEmptyAction = errors.New("action is empty")
)

// Options configures a Session.
type Options struct {
	Capability provider.Capability
	Config     *config.Store
	Storage    *storage.Engine
	Media      engine.MediaStore
	Prompts    *prompt.Builder
	Rates      billing.Table
	SaveDir    string
	Logger     *zap.Logger

	Observer func(engine.Transition)
	Sleep    func(ctx context.Context, d time.Duration) error
	Now      func() time.Time
}

// Session is safe for concurrent use. At most one action is generated at a
// time.
type Session struct {
	orch    *engine.Orchestrator
	cfg     *config.Store
	store   *storage.Engine
	prober  provider.Prober
	prompts *prompt.Builder
	rates   billing.Table
	saveDir string
	logger  *zap.Logger
	now     func() time.Time

	ledger billing.Ledger

	mu    sync.Mutex
	state *models.GameState
}

// New returns a session with no game loaded.
func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("game: nil config store")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Storage == nil {
		opts.Storage = storage.NewEngine(opts.Logger)
	}
	if opts.Prompts == nil {
		p, err := prompt.New()
		if err != nil {
			return nil, err
		}
		opts.Prompts = p
	}
	if opts.Rates == nil {
		opts.Rates = billing.DefaultTable()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	orch, err := engine.New(engine.Options{
		Capability: opts.Capability,
		Settings:   opts.Config,
		Prompts:    opts.Prompts,
		Media:      opts.Media,
		Logger:     opts.Logger,
		Observer:   opts.Observer,
		Sleep:      opts.Sleep,
		Now:        opts.Now,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		orch:    orch,
		cfg:     opts.Config,
		store:   opts.Storage,
		prompts: opts.Prompts,
		rates:   opts.Rates,
		saveDir: opts.SaveDir,
		logger:  opts.Logger.Named("game"),
		now:     opts.Now,
	}
	s.prober, _ = opts.Capability.(provider.Prober)
	return s, nil
}

// NewGame replaces the current game with a fresh one. Style and difficulty
// must name sections of the world text; empty values pick the first one.
func (s *Session) NewGame(opts models.NewGameOptions) (*models.GameState, error) {
	world := s.prompts.World()
	if opts.Style == "" {
		opts.Style = world.StyleNames()[0]
	}
	if opts.Difficulty == "" {
		opts.Difficulty = world.DifficultyNames()[0]
	}
	if _, ok := world.Style(opts.Style); !ok {
		return nil, fmt.Errorf("unknown style %q", opts.Style)
	}
	if _, ok := world.Difficulty(opts.Difficulty); !ok {
		return nil, fmt.Errorf("unknown difficulty %q", opts.Difficulty)
	}
	opts.Identity = strings.TrimSpace(opts.Identity)
	if opts.Now.IsZero() {
		opts.Now = s.now()
	}

	state := models.NewGame(opts)
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.ledger.Reset()
	s.logger.Info("new game",
		zap.String("id", state.ID),
		zap.String("style", state.Settings.Style),
		zap.String("difficulty", state.Settings.Difficulty),
	)
	return state.Clone(), nil
}

// Styles lists the world styles a new game can use, in catalogue order.
func (s *Session) Styles() []string {
	return s.prompts.World().StyleNames()
}

// Difficulties lists the difficulties a new game can use, in catalogue order.
func (s *Session) Difficulties() []string {
	return s.prompts.World().DifficultyNames()
}

// LoadGame replaces the current game with the one saved at path. On error
// the current game is left as it was.
func (s *Session) LoadGame(path string) (*models.GameState, error) {
	state, err := s.store.Load(path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.ledger.Reset()
	return state.Clone(), nil
}

// SaveGame writes the current game to path.
func (s *Session) SaveGame(path string) error {
	state := s.current()
	if state == nil {
		return ErrNoGame
	}
	return s.store.Save(state, path)
}

// SlotPath returns the path of a named slot in the save directory.
func (s *Session) SlotPath(name string) string {
	return storage.SlotPath(s.saveDir, name)
}

// ListSaves enumerates the save directory, newest first.
func (s *Session) ListSaves() ([]storage.SaveMetadata, error) {
	return s.store.ListSaves(s.saveDir)
}

// DeleteSave removes a named slot from the save directory.
func (s *Session) DeleteSave(name string) error {
	return s.store.Delete(s.SlotPath(name))
}

// State returns a copy of the current game, or nil.
func (s *Session) State() *models.GameState {
	return s.current().Clone()
}

func (s *Session) current() *models.GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubmitAction generates the next turn. Completed and degraded results are
// appended to the narrative log; any other result leaves the game unchanged.
// The returned error is only set when the action was not attempted.
func (s *Session) SubmitAction(ctx context.Context, action string, onChunk func(engine.Chunk)) (*engine.Result, error) {
	snapshot := s.current()
	if snapshot == nil {
		return nil, ErrNoGame
	}
	if snapshot.Finished() {
		return nil, ErrGameOver
	}
	action = strings.TrimSpace(action)
	if action == "" && !prompt.IsOpening(snapshot) {
		return nil, ErrEmptyAction
	}

	res, err := s.orch.Generate(ctx, engine.Request{
		State:   snapshot,
		Action:  action,
		OnChunk: onChunk,
	})
	if err != nil {
		return nil, err
	}
	s.ledger.Record(res.Usage)
	if res.Outcome == nil {
		return res, nil
	}

	next := models.Advance(snapshot, *res.Outcome, s.now())
	s.mu.Lock()
	if s.state != snapshot {
		// A game was started or loaded while this action was generating.
		s.mu.Unlock()
		s.logger.Warn("discarding result for a replaced game", zap.String("id", snapshot.ID))
		return res, nil
	}
	s.state = next
	s.mu.Unlock()

	s.autosave(next)
	return res, nil
}

func (s *Session) autosave(state *models.GameState) {
	if !s.cfg.Snapshot().Autosave || s.saveDir == "" {
		return
	}
	path := s.SlotPath(state.ID)
	if err := s.store.Save(state, path); err != nil {
		s.logger.Error("autosave failed", zap.String("path", path), zap.Error(err))
	}
}

// CancelGeneration stops the running action. It reports whether one was
// running.
func (s *Session) CancelGeneration() bool {
	return s.orch.Cancel()
}

// Busy reports whether an action is generating.
func (s *Session) Busy() bool {
	return s.orch.Busy()
}

// Settings returns the current settings.
func (s *Session) Settings() config.Settings {
	return s.cfg.Snapshot()
}

// UpdateSettings changes the settings used by subsequent actions.
func (s *Session) UpdateSettings(fn func(*config.Settings)) error {
	return s.cfg.Update(fn)
}

// UpdateCredential validates key and, once accepted, uses it for subsequent
// actions. The key is probed when the provider supports it.
func (s *Session) UpdateCredential(ctx context.Context, key string) error {
	var prober config.KeyProber
	if s.prober != nil {
		prober = keyProber{s.prober}
	}
	if err := s.cfg.UpdateCredential(ctx, key, prober); err != nil {
		return err
	}
	s.orch.ForgetCredential()
	return nil
}

type keyProber struct {
	p provider.Prober
}

func (k keyProber) Probe(ctx context.Context, apiKey string) error {
	return k.p.Probe(ctx, provider.Credential{APIKey: apiKey})
}

// Usage returns the usage accumulated since the game was started or loaded.
func (s *Session) Usage() billing.Usage {
	return s.ledger.Usage()
}

// Report prices the accumulated usage with the configured models.
func (s *Session) Report() billing.Report {
	settings := s.cfg.Snapshot()
	return s.rates.Report(s.ledger.Usage(), billing.Models{
		Text:      settings.TextModel,
		Narration: settings.NarrationModel,
		Image:     settings.ImageModel,
	})
}
