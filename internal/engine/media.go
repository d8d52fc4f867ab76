package engine

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tatianab/storyforge/internal/billing"
	"github.com/tatianab/storyforge/internal/models"
	"github.com/tatianab/storyforge/internal/provider"
)

var errNoMediaStore = errors.New("no media store configured")

// media runs the enabled narration and illustration sub-calls concurrently.
// A failed sub-call is recorded and never affects the other one or the
// narrative.
func (r *run) media(ctx context.Context, cred provider.Credential, out models.Outcome) (audioRef, imageRef string, failures []SubFailure) {
	id := newMediaID()
	var mu sync.Mutex
	record := func(call string, err *Error) {
		mu.Lock()
		failures = append(failures, SubFailure{Call: call, Err: err})
		mu.Unlock()
		r.o.logger.Warn("optional modality failed", zap.String("call", call), zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.settings.AudioEnabled {
		g.Go(func() error {
			ref, err := r.audio(gctx, cred, id, out.Narrative)
			if err != nil {
				record("audio", err)
				return nil
			}
			audioRef = ref
			return nil
		})
	}
	if r.settings.ImageEnabled && out.ImagePrompt != "" {
		g.Go(func() error {
			ref, err := r.image(gctx, cred, id, out.ImagePrompt)
			if err != nil {
				record("image", err)
				return nil
			}
			imageRef = ref
			return nil
		})
	}
	_ = g.Wait()

	// Keep the order stable regardless of which goroutine finished first.
	if len(failures) == 2 && failures[0].Call == "image" {
		failures[0], failures[1] = failures[1], failures[0]
	}
	return audioRef, imageRef, failures
}

func (r *run) audio(ctx context.Context, cred provider.Credential, id, narrative string) (string, *Error) {
	script, err := r.o.prompts.Narration(narrative)
	if err != nil {
		return "", &Error{Kind: KindMalformedResponse, Call: "audio", Err: err}
	}
	req := provider.SpeechRequest{
		Credential: cred,
		Model:      r.settings.NarrationModel,
		Voice:      r.settings.NarrationVoice,
		Text:       script,
	}

	r.enter(PhaseDispatching, "audio", 1)
	var m provider.Media
	attempts, err := r.retry(ctx, "audio", func(attempt int) error {
		if attempt > 1 {
			r.enter(PhaseDispatching, "audio", attempt)
		}
		return r.o.call(ctx, "audio", attempt, func(ctx context.Context) error {
			var err error
			m, err = r.o.capability.GenerateSpeech(ctx, req)
			return err
		})
	})
	if err != nil {
		return "", r.callError(ctx, "audio", attempts, err)
	}
	r.addUsage(billing.Usage{
		AudioPromptTokens: m.Usage.PromptTokens,
		AudioOutputTokens: m.Usage.OutputTokens,
	})
	return r.store(ctx, "audio", "narration", id, m.Data)
}

func (r *run) image(ctx context.Context, cred provider.Credential, id, imagePrompt string) (string, *Error) {
	req := provider.ImageRequest{
		Credential: cred,
		Model:      r.settings.ImageModel,
		Prompt:     r.o.prompts.Image(imagePrompt, r.req.State.Settings),
	}

	r.enter(PhaseDispatching, "image", 1)
	var m provider.Media
	attempts, err := r.retry(ctx, "image", func(attempt int) error {
		if attempt > 1 {
			r.enter(PhaseDispatching, "image", attempt)
		}
		return r.o.call(ctx, "image", attempt, func(ctx context.Context) error {
			var err error
			m, err = r.o.capability.GenerateImage(ctx, req)
			return err
		})
	})
	if err != nil {
		return "", r.callError(ctx, "image", attempts, err)
	}
	r.addUsage(billing.Usage{Images: max(1, m.Usage.Images)})
	return r.store(ctx, "image", "image", id, m.Data)
}

func (r *run) store(ctx context.Context, call, kind, id string, data []byte) (string, *Error) {
	if r.o.media == nil {
		return "", &Error{Kind: KindMediaStorage, Call: call, Err: errNoMediaStore}
	}
	ref, err := r.o.media.Put(ctx, kind, id, data)
	if err != nil {
		if ctx.Err() != nil {
			return "", &Error{Kind: KindCancelled, Call: call, Err: context.Cause(ctx)}
		}
		return "", &Error{Kind: KindMediaStorage, Call: call, Err: err}
	}
	return ref, nil
}
