package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
)

const (
	MinThinkingBudget = 0
	MaxThinkingBudget = 4096

	minAPIKeyLength = 20
)

var (
	// ErrMissingAPIKey indicates no credential is configured.
	ErrMissingAPIKey = errors.New("api key is not set")
	// ErrMalformedAPIKey indicates the credential cannot possibly be valid.
	ErrMalformedAPIKey = errors.New("api key is malformed")
	// ErrInvalidSettings wraps every settings validation failure.
	ErrInvalidSettings = errors.New("invalid settings")
)

// RetrySettings bound the retries of transient provider failures.
type RetrySettings struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// Settings are the generation parameters and credential used by requests.
// A request works on a copy taken when it starts.
type Settings struct {
	APIKey string `mapstructure:"-"`

	TextModel      string `mapstructure:"text_model"`
	NarrationModel string `mapstructure:"narration_model"`
	NarrationVoice string `mapstructure:"narration_voice"`
	ImageModel     string `mapstructure:"image_model"`

	ThinkingBudget     int     `mapstructure:"thinking_budget"`
	Temperature        float64 `mapstructure:"temperature"`
	OpeningTemperature float64 `mapstructure:"opening_temperature"`

	AudioEnabled bool `mapstructure:"audio_enabled"`
	ImageEnabled bool `mapstructure:"image_enabled"`
	Autosave     bool `mapstructure:"autosave"`

	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Retry             RetrySettings `mapstructure:"retry"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		TextModel:          "gemini-2.5-flash",
		NarrationModel:     "gemini-2.5-flash-preview-tts",
		NarrationVoice:     "Algenib",
		ImageModel:         "imagen-4.0-fast-generate-001",
		ThinkingBudget:     0,
		Temperature:        0.6,
		OpeningTemperature: 1.6,
		AudioEnabled:       true,
		ImageEnabled:       false,
		Autosave:           true,
		RequestsPerMinute:  30,
		Retry: RetrySettings{
			MaxAttempts:     4,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     8 * time.Second,
			Multiplier:      2,
		},
	}
}

// Validate checks the generation parameters. The credential is validated
// separately because it may legitimately be missing until the user sets it.
func (s Settings) Validate() error {
	var errs []error
	if s.ThinkingBudget < MinThinkingBudget || s.ThinkingBudget > MaxThinkingBudget {
		errs = append(errs, fmt.Errorf("thinking budget %d outside [%d, %d]", s.ThinkingBudget, MinThinkingBudget, MaxThinkingBudget))
	}
	if strings.TrimSpace(s.TextModel) == "" {
		errs = append(errs, errors.New("text model is required"))
	}
	if s.AudioEnabled && (strings.TrimSpace(s.NarrationModel) == "" || strings.TrimSpace(s.NarrationVoice) == "") {
		errs = append(errs, errors.New("narration model and voice are required when audio is enabled"))
	}
	if s.ImageEnabled && strings.TrimSpace(s.ImageModel) == "" {
		errs = append(errs, errors.New("image model is required when images are enabled"))
	}
	if s.Temperature < 0 || s.Temperature > 2 || s.OpeningTemperature < 0 || s.OpeningTemperature > 2 {
		errs = append(errs, errors.New("temperature must be within [0, 2]"))
	}
	if s.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute must not be negative"))
	}
	if s.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max attempts must be at least 1"))
	}
	if s.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}
	if s.Retry.InitialInterval < 0 || s.Retry.MaxInterval < s.Retry.InitialInterval {
		errs = append(errs, errors.New("retry intervals are inconsistent"))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
}

// String never reveals the credential.
func (s Settings) String() string {
	key := "<unset>"
	if s.APIKey != "" {
		key = RedactAPIKey(s.APIKey)
	}
	return fmt.Sprintf("text=%s narration=%s/%s image=%s budget=%d audio=%t images=%t key=%s",
		s.TextModel, s.NarrationModel, s.NarrationVoice, s.ImageModel, s.ThinkingBudget, s.AudioEnabled, s.ImageEnabled, key)
}

// ValidateAPIKeyFormat performs the offline part of credential validation.
func ValidateAPIKeyFormat(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrMissingAPIKey
	}
	if len(key) < minAPIKeyLength {
		return fmt.Errorf("%w: too short", ErrMalformedAPIKey)
	}
	for _, r := range key {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return fmt.Errorf("%w: unexpected character", ErrMalformedAPIKey)
		}
	}
	return nil
}

// RedactAPIKey keeps the last four characters for display.
func RedactAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
