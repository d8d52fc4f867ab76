package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const credentialKey = "GEMINI_API_KEY"

// KeyProber checks that a credential is accepted by the provider.
type KeyProber interface {
	Probe(ctx context.Context, apiKey string) error
}

// Store is the process-wide configuration. It is read through Snapshot and
// changed only through Update and UpdateCredential.
type Store struct {
	mu       sync.RWMutex
	settings Settings

	v              *viper.Viper // nil for in-memory stores; guarded by mu
	watcher        *fsnotify.Watcher
	settingsPath   string
	credentialPath string
	logger         *zap.Logger
}

// NewStore returns an in-memory store seeded with s.
func NewStore(s Settings, logger *zap.Logger) (*Store, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{settings: s, logger: logger.Named("config")}, nil
}

// Open loads settings.yaml (creating nothing if absent) and resolves the
// credential: GEMINI_API_KEY wins over the stored credential file.
func Open(e *Env, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		v:              newViper(e.SettingsPath()),
		settingsPath:   e.SettingsPath(),
		credentialPath: e.CredentialPath(),
		logger:         logger.Named("config"),
	}

	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read settings %s: %w", s.settingsPath, err)
		}
		s.logger.Info("settings file not found, using defaults", zap.String("path", s.settingsPath))
	}

	settings, err := s.decode()
	if err != nil {
		return nil, err
	}

	settings.APIKey = strings.TrimSpace(e.GeminiAPIKey)
	if settings.APIKey == "" {
		key, err := readCredential(s.credentialPath)
		if err != nil {
			return nil, err
		}
		settings.APIKey = key
	}

	s.settings = settings
	s.logger.Info("configuration loaded", zap.Stringer("settings", settings))
	return s, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	d := DefaultSettings()
	v.SetDefault("text_model", d.TextModel)
	v.SetDefault("narration_model", d.NarrationModel)
	v.SetDefault("narration_voice", d.NarrationVoice)
	v.SetDefault("image_model", d.ImageModel)
	v.SetDefault("thinking_budget", d.ThinkingBudget)
	v.SetDefault("temperature", d.Temperature)
	v.SetDefault("opening_temperature", d.OpeningTemperature)
	v.SetDefault("audio_enabled", d.AudioEnabled)
	v.SetDefault("image_enabled", d.ImageEnabled)
	v.SetDefault("autosave", d.Autosave)
	v.SetDefault("requests_per_minute", d.RequestsPerMinute)
	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", d.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", d.Retry.MaxInterval)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	return v
}

func (s *Store) decode() (Settings, error) {
	var settings Settings
	if err := s.v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Update applies fn to a copy of the settings, validates the result and
// makes it visible to requests started afterwards. The credential cannot be
// changed here; use UpdateCredential.
func (s *Store) Update(fn func(*Settings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.settings
	fn(&next)
	next.APIKey = s.settings.APIKey
	if err := next.Validate(); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.settings = next
	s.logger.Info("settings updated", zap.Stringer("settings", next))
	return nil
}

// UpdateCredential validates key (format, then a liveness probe when prober
// is non-nil) and only then replaces the current credential.
func (s *Store) UpdateCredential(ctx context.Context, key string, prober KeyProber) error {
	key = strings.TrimSpace(key)
	if err := ValidateAPIKeyFormat(key); err != nil {
		return err
	}
	if prober != nil {
		if err := prober.Probe(ctx, key); err != nil {
			return fmt.Errorf("probe api key: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credentialPath != "" {
		if err := writeCredential(s.credentialPath, key); err != nil {
			return err
		}
	}
	s.settings.APIKey = key
	s.logger.Info("api key updated", zap.String("key", RedactAPIKey(key)))
	return nil
}

// Watch reloads settings.yaml when it changes on disk and calls onChange
// with the accepted settings. Invalid edits are logged and ignored. Close
// stops watching.
func (s *Store) Watch(onChange func(Settings)) error {
	if s.v == nil {
		return nil
	}
	dir := filepath.Dir(s.settingsPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch settings: %w", err)
	}
	// The directory is watched because atomic replaces swap the file's inode.
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch settings: %w", err)
	}

	s.mu.Lock()
	prev := s.watcher
	s.watcher = w
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	go s.watch(w, onChange)
	return nil
}

// Close stops a watcher started by Watch.
func (s *Store) Close() error {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Close()
}

func (s *Store) watch(w *fsnotify.Watcher, onChange func(Settings)) {
	target := filepath.Clean(s.settingsPath)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, changed := s.reload(ev.Name)
			if changed && onChange != nil {
				onChange(next)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("settings watcher error", zap.Error(err))
		}
	}
}

// reload rereads settings.yaml and reports whether the settings changed.
func (s *Store) reload(name string) (Settings, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// An editor truncating the file before writing it shows up as an empty
	// file; wait for the write that follows.
	if info, err := os.Stat(s.settingsPath); err != nil || info.Size() == 0 {
		return Settings{}, false
	}
	if err := s.v.ReadInConfig(); err != nil {
		s.logger.Warn("ignoring settings change", zap.String("file", name), zap.Error(err))
		return Settings{}, false
	}
	next, err := s.decode()
	if err != nil {
		s.logger.Warn("ignoring settings change", zap.String("file", name), zap.Error(err))
		return Settings{}, false
	}
	next.APIKey = s.settings.APIKey
	if next == s.settings {
		return next, false
	}
	s.settings = next
	s.logger.Info("settings reloaded", zap.String("file", name))
	return next, true
}

// persist writes next to settings.yaml and rereads it, so the file stays the
// only source viper serves values from.
func (s *Store) persist(next Settings) error {
	if s.v == nil {
		return nil
	}
	data, err := yaml.Marshal(settingsDocument(next))
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.settingsPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := renameio.WriteFile(s.settingsPath, data, 0o644); err != nil {
		return fmt.Errorf("write settings %s: %w", s.settingsPath, err)
	}
	if err := s.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read settings %s: %w", s.settingsPath, err)
	}
	return nil
}

// settingsDocument is the on-disk shape of settings.yaml. The credential is
// never part of it.
func settingsDocument(s Settings) map[string]any {
	return map[string]any{
		"text_model":          s.TextModel,
		"narration_model":     s.NarrationModel,
		"narration_voice":     s.NarrationVoice,
		"image_model":         s.ImageModel,
		"thinking_budget":     s.ThinkingBudget,
		"temperature":         s.Temperature,
		"opening_temperature": s.OpeningTemperature,
		"audio_enabled":       s.AudioEnabled,
		"image_enabled":       s.ImageEnabled,
		"autosave":            s.Autosave,
		"requests_per_minute": s.RequestsPerMinute,
		"retry": map[string]any{
			"max_attempts":     s.Retry.MaxAttempts,
			"initial_interval": s.Retry.InitialInterval.String(),
			"max_interval":     s.Retry.MaxInterval.String(),
			"multiplier":       s.Retry.Multiplier,
		},
	}
}

func readCredential(path string) (string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read credential file: %w", err)
	}
	return strings.TrimSpace(values[credentialKey]), nil
}

// writeCredential replaces the credential file. The pending file is created
// with owner-only permissions, so the key is never readable by others.
func writeCredential(path, key string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	content, err := godotenv.Marshal(map[string]string{credentialKey: key})
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}

	pending, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(filepath.Dir(path)),
		renameio.WithPermissions(0o600),
	)
	if err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	defer pending.Cleanup()
	if _, err := pending.WriteString(content + "\n"); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	return nil
}
