package engine

import (
	"errors"
	"fmt"

	"github.com/tatianab/storyforge/internal/provider"
)

// ErrBusy is returned when a request is submitted while another one is
// still running for the same orchestrator.
var ErrBusy = errors.New("a generation request is already running")

// Kind classifies why a generation, or one of its sub-calls, failed.
type Kind int

const (
	KindInvalidCredential Kind = iota + 1
	KindProviderUnavailable
	KindMalformedResponse
	KindCancelled
	KindMediaStorage
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCredential:
		return "invalid_credential"
	case KindProviderUnavailable:
		return "provider_unavailable"
	case KindMalformedResponse:
		return "malformed_response"
	case KindCancelled:
		return "cancelled"
	case KindMediaStorage:
		return "media_storage"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is; every *Error matches the one of its Kind.
var (
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrCancelled           = errors.New("generation cancelled")
	ErrMediaStorage        = errors.New("media storage failed")
)

// Error describes a failed request or sub-call.
type Error struct {
	Kind     Kind
	Call     string // "validate", "text", "audio" or "image"
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Call, e.Kind)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidCredential:
		return e.Kind == KindInvalidCredential
	case ErrProviderUnavailable:
		return e.Kind == KindProviderUnavailable
	case ErrMalformedResponse:
		return e.Kind == KindMalformedResponse
	case ErrCancelled:
		return e.Kind == KindCancelled
	case ErrMediaStorage:
		return e.Kind == KindMediaStorage
	}
	return false
}

// UserMessage is an actionable explanation suitable for the player.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindInvalidCredential:
		return "The API key was rejected. Update your credential in the settings (/key) and try again."
	case KindProviderUnavailable:
		if provider.KindOf(e.Err) == provider.KindBlocked {
			return "The AI service declined to generate this content. Try a different action."
		}
		return "The AI service is unavailable right now. Please try again in a moment."
	case KindMalformedResponse:
		return "The AI service returned a response that could not be understood. Please try again."
	case KindCancelled:
		return "Generation was cancelled."
	case KindMediaStorage:
		return "Generated media could not be written to disk. Check disk space and permissions."
	default:
		return "Something went wrong while generating the story."
	}
}
