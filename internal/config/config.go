package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env holds the process environment the application starts from.
type Env struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	ConfigDir    string `env:"STORYFORGE_CONFIG_DIR"`
	SaveDir      string `env:"STORYFORGE_SAVE_DIR"`
	Log          LogConfig
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `env:"STORYFORGE_LOG_LEVEL" envDefault:"info"`
	Format string `env:"STORYFORGE_LOG_FORMAT" envDefault:"console"` // "console" or "json"
	Output string `env:"STORYFORGE_LOG_OUTPUT" envDefault:"file"`    // "file", "stdout" or "both"
	Dir    string `env:"STORYFORGE_LOG_DIR"`
	File   string `env:"STORYFORGE_LOG_FILE" envDefault:"storyforge.log"`

	MaxSizeMB  int  `env:"STORYFORGE_LOG_MAX_SIZE" envDefault:"10"`
	MaxBackups int  `env:"STORYFORGE_LOG_MAX_BACKUPS" envDefault:"3"`
	MaxAgeDays int  `env:"STORYFORGE_LOG_MAX_AGE" envDefault:"14"`
	Compress   bool `env:"STORYFORGE_LOG_COMPRESS" envDefault:"false"`
}

// LoadEnv loads an optional .env file and parses the environment.
// Directories left unset default to the user's configuration directory.
func LoadEnv() (*Env, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	var e Env
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if e.ConfigDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("resolve config dir: %w", err)
		}
		e.ConfigDir = filepath.Join(base, "storyforge")
	}
	if e.SaveDir == "" {
		e.SaveDir = filepath.Join(e.ConfigDir, "saves")
	}
	if e.Log.Dir == "" {
		e.Log.Dir = filepath.Join(e.ConfigDir, "logs")
	}
	return &e, nil
}

// SettingsPath is the location of the user-editable settings file.
func (e *Env) SettingsPath() string {
	return filepath.Join(e.ConfigDir, "settings.yaml")
}

// CredentialPath is the location of the stored API key. It is kept apart
// from settings.yaml and from save files.
func (e *Env) CredentialPath() string {
	return filepath.Join(e.ConfigDir, "credentials.env")
}
