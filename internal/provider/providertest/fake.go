// Package providertest provides a scripted provider.Capability for tests.
package providertest

import (
	"context"
	"errors"
	"sync"

	"github.com/tatianab/storyforge/internal/provider"
)

// ErrUnscripted is returned when a call has no scripted step.
var ErrUnscripted = errors.New("providertest: no scripted response")

// TextStep scripts one GenerateText call: Chunks are streamed in order, then
// Err, if set, is returned.
type TextStep struct {
	Chunks []string
	Err    error
	Usage  provider.Usage
}

// MediaStep scripts one GenerateSpeech or GenerateImage call.
type MediaStep struct {
	Data     []byte
	MIMEType string
	Err      error
}

// Fake implements exactly the three operations of provider.Capability. Steps
// are consumed in order; the last step of each list repeats once the list
// runs out.
type Fake struct {
	Text   []TextStep
	Speech []MediaStep
	Image  []MediaStep

	// Hold, when non-nil, makes GenerateText wait after streaming its chunks
	// until Hold is closed or the context ends.
	Hold chan struct{}
	// Started receives a value each time GenerateText begins.
	Started chan struct{}

	mu             sync.Mutex
	textCalls      int
	speechCalls    int
	imageCalls     int
	textRequests   []provider.TextRequest
	speechRequests []provider.SpeechRequest
	imageRequests  []provider.ImageRequest
}

var _ provider.Capability = (*Fake)(nil)

// Narrate returns a Fake whose text call streams chunks and succeeds.
func Narrate(chunks ...string) *Fake {
	return &Fake{Text: []TextStep{{Chunks: chunks, Usage: provider.Usage{PromptTokens: 100, OutputTokens: 40}}}}
}

func (f *Fake) GenerateText(ctx context.Context, req provider.TextRequest, onChunk func(string)) (provider.TextResponse, error) {
	f.mu.Lock()
	step, ok := pick(f.Text, f.textCalls)
	f.textCalls++
	f.textRequests = append(f.textRequests, req)
	f.mu.Unlock()

	if f.Started != nil {
		select {
		case f.Started <- struct{}{}:
		default:
		}
	}
	if !ok {
		return provider.TextResponse{}, ErrUnscripted
	}

	var text string
	for _, c := range step.Chunks {
		if err := ctx.Err(); err != nil {
			return provider.TextResponse{}, err
		}
		text += c
		if onChunk != nil {
			onChunk(c)
		}
	}
	if f.Hold != nil {
		select {
		case <-f.Hold:
		case <-ctx.Done():
			return provider.TextResponse{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return provider.TextResponse{Usage: step.Usage}, step.Err
	}
	return provider.TextResponse{Text: text, Usage: step.Usage}, nil
}

func (f *Fake) GenerateSpeech(ctx context.Context, req provider.SpeechRequest) (provider.Media, error) {
	f.mu.Lock()
	step, ok := pick(f.Speech, f.speechCalls)
	f.speechCalls++
	f.speechRequests = append(f.speechRequests, req)
	f.mu.Unlock()

	if !ok {
		step = MediaStep{Data: WAV, MIMEType: "audio/wav"}
	}
	return media(ctx, step, provider.Usage{PromptTokens: 20, OutputTokens: 300})
}

func (f *Fake) GenerateImage(ctx context.Context, req provider.ImageRequest) (provider.Media, error) {
	f.mu.Lock()
	step, ok := pick(f.Image, f.imageCalls)
	f.imageCalls++
	f.imageRequests = append(f.imageRequests, req)
	f.mu.Unlock()

	if !ok {
		step = MediaStep{Data: PNG, MIMEType: "image/png"}
	}
	return media(ctx, step, provider.Usage{Images: 1})
}

func media(ctx context.Context, step MediaStep, usage provider.Usage) (provider.Media, error) {
	if err := ctx.Err(); err != nil {
		return provider.Media{}, err
	}
	if step.Err != nil {
		return provider.Media{}, step.Err
	}
	return provider.Media{Data: step.Data, MIMEType: step.MIMEType, Usage: usage}, nil
}

func pick[T any](steps []T, call int) (T, bool) {
	var zero T
	if len(steps) == 0 {
		return zero, false
	}
	return steps[min(call, len(steps)-1)], true
}

// Calls returns how many times each operation was invoked.
func (f *Fake) Calls() (text, speech, image int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textCalls, f.speechCalls, f.imageCalls
}

// TextRequests returns the text requests received so far.
func (f *Fake) TextRequests() []provider.TextRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.TextRequest(nil), f.textRequests...)
}

// SpeechRequests returns the speech requests received so far.
func (f *Fake) SpeechRequests() []provider.SpeechRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.SpeechRequest(nil), f.speechRequests...)
}

// ImageRequests returns the image requests received so far.
func (f *Fake) ImageRequests() []provider.ImageRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.ImageRequest(nil), f.imageRequests...)
}

// Probing adds a liveness probe to a Fake.
type Probing struct {
	*Fake
	ProbeErr error

	mu     sync.Mutex
	probes []provider.Credential
}

var _ provider.Prober = (*Probing)(nil)

func (p *Probing) Probe(ctx context.Context, cred provider.Credential) error {
	p.mu.Lock()
	p.probes = append(p.probes, cred)
	p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.ProbeErr
}

// Probes returns the credentials probed so far.
func (p *Probing) Probes() []provider.Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.Credential(nil), p.probes...)
}

// Minimal payloads whose content type is detectable.
var (
	PNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}
	WAV = []byte{
		'R', 'I', 'F', 'F', 36, 0, 0, 0, 'W', 'A', 'V', 'E',
		'f', 'm', 't', ' ', 16, 0, 0, 0, 1, 0, 1, 0, 0xc0, 0x5d, 0, 0, 0x80, 0xbb, 0, 0, 2, 0, 16, 0,
		'd', 'a', 't', 'a', 0, 0, 0, 0,
	}
)
