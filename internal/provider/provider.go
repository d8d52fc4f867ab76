// Package provider defines the boundary between the game and a generative AI
// service. The orchestrator only depends on Capability; concrete adapters
// live in subpackages.
package provider

import (
	"context"
)

// Credential is the secret used to authenticate one request. It travels with
// each request so that a credential update never affects a call in flight.
type Credential struct {
	APIKey string
}

// TextRequest asks for narrative text.
type TextRequest struct {
	Credential     Credential
	Model          string
	Prompt         string
	ThinkingBudget int
	Temperature    float32
}

// TextResponse is the complete text of a generation, after streaming ended.
type TextResponse struct {
	Text  string
	Usage Usage
}

// SpeechRequest asks for narration of Text.
type SpeechRequest struct {
	Credential Credential
	Model      string
	Voice      string
	Text       string
}

// ImageRequest asks for an illustration of Prompt.
type ImageRequest struct {
	Credential Credential
	Model      string
	Prompt     string
}

// Media is a generated binary payload.
type Media struct {
	Data     []byte
	MIMEType string
	Usage    Usage
}

// Usage counts what a call consumed.
type Usage struct {
	PromptTokens int
	OutputTokens int
	Images       int
}

// Capability is the generation service used by the orchestrator.
type Capability interface {
	// GenerateText streams text. onChunk, if non-nil, receives every piece of
	// text in the order the service emitted it; the returned response holds
	// their concatenation. A failed call still reports the usage consumed
	// before it failed.
	GenerateText(ctx context.Context, req TextRequest, onChunk func(string)) (TextResponse, error)
	// GenerateSpeech returns narration audio for the request text.
	GenerateSpeech(ctx context.Context, req SpeechRequest) (Media, error)
	// GenerateImage returns one illustration.
	GenerateImage(ctx context.Context, req ImageRequest) (Media, error)
}

// Prober is implemented by capabilities that can check a credential without
// spending generation quota.
type Prober interface {
	Probe(ctx context.Context, cred Credential) error
}
