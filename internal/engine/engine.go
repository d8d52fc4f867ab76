// Package engine orchestrates one turn of generation: it validates the
// credential, streams the narrative, then asks for narration and an
// illustration. It never mutates game state; callers apply the returned
// Outcome themselves.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tatianab/storyforge/internal/billing"
	"github.com/tatianab/storyforge/internal/config"
	"github.com/tatianab/storyforge/internal/models"
	"github.com/tatianab/storyforge/internal/prompt"
	"github.com/tatianab/storyforge/internal/provider"
)

// SettingsSource supplies the settings a request runs with. *config.Store
// implements it.
type SettingsSource interface {
	Snapshot() config.Settings
}

// MediaStore persists generated payloads. *storage.MediaStore implements it.
type MediaStore interface {
	Put(ctx context.Context, kind, id string, data []byte) (string, error)
}

// Request is one player action against a state snapshot.
type Request struct {
	State  *models.GameState
	Action string
	// OnChunk receives narrative as it streams, in provider order. It is
	// called from the goroutine running Generate.
	OnChunk func(Chunk)
}

// SubFailure records an optional modality that failed.
type SubFailure struct {
	Call string
	Err  *Error
}

// Result is the outcome of a request. Outcome is nil unless Status is
// StatusCompleted or StatusDegraded.
type Result struct {
	Status      Status
	Outcome     *models.Outcome
	Narrative   string
	AudioRef    string
	ImageRef    string
	SubFailures []SubFailure
	Usage       billing.Usage
	Trace       []Transition
	Err         *Error
}

// Options configures an Orchestrator.
type Options struct {
	Capability provider.Capability
	Settings   SettingsSource
	Prompts    *prompt.Builder
	Media      MediaStore
	Logger     *zap.Logger
	// Observer, if set, sees every transition as it happens. It may be
	// called from several goroutines at once.
	Observer func(Transition)
	// Sleep waits between retries; defaults to a timer honouring ctx.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Orchestrator runs at most one request at a time.
type Orchestrator struct {
	capability provider.Capability
	settings   SettingsSource
	prompts    *prompt.Builder
	media      MediaStore
	logger     *zap.Logger
	tracer     trace.Tracer
	observer   func(Transition)
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time

	mu     sync.Mutex
	active bool
	cancel context.CancelCauseFunc

	probeMu   sync.Mutex
	probedKey string // last key that passed the liveness probe
}

// New returns an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Capability == nil {
		return nil, errors.New("engine: nil capability")
	}
	if opts.Settings == nil {
		return nil, errors.New("engine: nil settings")
	}
	if opts.Prompts == nil {
		p, err := prompt.New()
		if err != nil {
			return nil, err
		}
		opts.Prompts = p
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		capability: opts.Capability,
		settings:   opts.Settings,
		prompts:    opts.Prompts,
		media:      opts.Media,
		logger:     opts.Logger.Named("engine"),
		tracer:     otel.Tracer("github.com/tatianab/storyforge/internal/engine"),
		observer:   opts.Observer,
		sleep:      opts.Sleep,
		now:        opts.Now,
	}, nil
}

// Busy reports whether a request is running.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Cancel stops the running request, which then fails with KindCancelled.
// It reports whether there was a request to cancel.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.active || o.cancel == nil {
		return false
	}
	o.cancel(ErrCancelled)
	return true
}

// settle makes the running request uncancellable once its result is
// final. It reports false when a cancel arrived first.
func (o *Orchestrator) settle(ctx context.Context) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancel = nil
	return ctx.Err() == nil
}

// ForgetCredential drops the cached probe result so the next request probes
// again.
func (o *Orchestrator) ForgetCredential() {
	o.probeMu.Lock()
	o.probedKey = ""
	o.probeMu.Unlock()
}

// Generate runs one request. A second call while one is running returns
// ErrBusy. Every other failure is reported in the Result.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.State == nil {
		return nil, errors.New("engine: nil state")
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return nil, ErrBusy
	}
	o.active, o.cancel = true, cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.active, o.cancel = false, nil
		o.mu.Unlock()
	}()

	ctx, span := o.tracer.Start(ctx, "engine.generate")
	defer span.End()

	r := &run{
		o:        o,
		settings: o.settings.Snapshot(),
		req:      req,
		started:  o.now(),
	}
	r.enter(PhaseIdle, "", 0)
	res := r.execute(ctx)

	span.SetAttributes(attribute.String("engine.status", res.Status.String()))
	if res.Err != nil {
		span.SetStatus(codes.Error, res.Err.Error())
	}
	fields := []zap.Field{
		zap.Stringer("status", res.Status),
		zap.Duration("elapsed", o.now().Sub(r.started)),
		zap.Int("sub_failures", len(res.SubFailures)),
	}
	if res.Err != nil {
		fields = append(fields, zap.Error(res.Err))
	}
	o.logger.Info("generation finished", fields...)
	return res, nil
}

// run is the state of one request.
type run struct {
	o        *Orchestrator
	settings config.Settings
	req      Request
	started  time.Time

	mu    sync.Mutex
	trace []Transition
	usage billing.Usage
}

func (r *run) enter(p Phase, call string, attempt int) {
	t := Transition{Phase: p, Call: call, Attempt: attempt, At: r.o.now()}
	r.mu.Lock()
	r.trace = append(r.trace, t)
	r.mu.Unlock()
	if r.o.observer != nil {
		r.o.observer(t)
	}
}

func (r *run) addUsage(u billing.Usage) {
	r.mu.Lock()
	r.usage = r.usage.Add(u)
	r.mu.Unlock()
}

func (r *run) result(status Status, err *Error) *Result {
	r.enter(status.phase(), "", 0)
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Result{
		Status: status,
		Err:    err,
		Usage:  r.usage,
		Trace:  append([]Transition(nil), r.trace...),
	}
}

func (r *run) fail(err *Error) *Result {
	r.o.logger.Warn("generation failed", zap.Error(err))
	return r.result(StatusFailed, err)
}

func (r *run) execute(ctx context.Context) *Result {
	r.enter(PhaseValidating, "validate", 1)
	cred, verr := r.validate(ctx)
	if verr != nil {
		return r.fail(verr)
	}

	text, terr := r.text(ctx, cred)
	if terr != nil {
		return r.fail(terr)
	}
	parsed, err := parseTurn(text)
	if err != nil {
		return r.fail(&Error{Kind: KindMalformedResponse, Call: "text", Err: err})
	}
	outcome := parsed.outcome(r.req.State, r.req.Action)

	audioRef, imageRef, failures := r.media(ctx, cred, outcome)
	if !r.o.settle(ctx) {
		return r.fail(&Error{Kind: KindCancelled, Call: "media", Err: context.Cause(ctx)})
	}
	outcome.AudioRef, outcome.ImageRef = audioRef, imageRef
	r.addUsage(billing.Usage{Turns: 1})

	status := StatusCompleted
	if len(failures) > 0 {
		status = StatusDegraded
	}
	res := r.result(status, nil)
	res.Outcome = &outcome
	res.Narrative = outcome.Narrative
	res.AudioRef, res.ImageRef = audioRef, imageRef
	res.SubFailures = failures
	return res
}

// validate checks the credential format, then probes it once per key when
// the capability supports probing.
func (r *run) validate(ctx context.Context) (provider.Credential, *Error) {
	key := r.settings.APIKey
	if err := config.ValidateAPIKeyFormat(key); err != nil {
		return provider.Credential{}, &Error{Kind: KindInvalidCredential, Call: "validate", Err: err}
	}
	cred := provider.Credential{APIKey: key}

	prober, ok := r.o.capability.(provider.Prober)
	if !ok {
		return cred, nil
	}
	r.o.probeMu.Lock()
	probed := r.o.probedKey == key
	r.o.probeMu.Unlock()
	if probed {
		return cred, nil
	}

	attempts, err := r.retry(ctx, "validate", func(attempt int) error {
		return r.o.call(ctx, "probe", attempt, func(ctx context.Context) error {
			return prober.Probe(ctx, cred)
		})
	})
	if err != nil {
		e := r.callError(ctx, "validate", attempts, err)
		if e.Kind == KindProviderUnavailable && !provider.IsTransient(err) {
			// Any definitive probe rejection means the key is unusable.
			e.Kind = KindInvalidCredential
		}
		return provider.Credential{}, e
	}
	r.o.probeMu.Lock()
	r.o.probedKey = key
	r.o.probeMu.Unlock()
	return cred, nil
}

// text dispatches the narrative request and streams it to the caller.
func (r *run) text(ctx context.Context, cred provider.Credential) (string, *Error) {
	p, err := r.o.prompts.Turn(r.req.State, r.req.Action)
	if err != nil {
		return "", &Error{Kind: KindMalformedResponse, Call: "text", Err: fmt.Errorf("build prompt: %w", err)}
	}
	temperature := r.settings.Temperature
	if prompt.IsOpening(r.req.State) {
		temperature = r.settings.OpeningTemperature
	}
	treq := provider.TextRequest{
		Credential:     cred,
		Model:          r.settings.TextModel,
		Prompt:         p,
		ThinkingBudget: r.settings.ThinkingBudget,
		Temperature:    float32(temperature),
	}

	var (
		resp           provider.TextResponse
		forwardedSoFar bool
	)
	attempts, err := r.retry(ctx, "text", func(attempt int) error {
		if forwardedSoFar && r.req.OnChunk != nil {
			r.req.OnChunk(Chunk{Reset: true})
		}
		r.enter(PhaseDispatching, "text", attempt)

		streaming := false
		stream := newNarrativeStream(func(s string) {
			if r.req.OnChunk != nil {
				r.req.OnChunk(Chunk{Text: s})
			}
		})
		onChunk := func(s string) {
			if !streaming {
				streaming = true
				r.enter(PhaseStreaming, "text", attempt)
			}
			stream.Write(s)
		}
		err := r.o.call(ctx, "text", attempt, func(ctx context.Context) error {
			var err error
			resp, err = r.o.capability.GenerateText(ctx, treq, onChunk)
			r.addUsage(billing.Usage{
				TextPromptTokens: resp.Usage.PromptTokens,
				TextOutputTokens: resp.Usage.OutputTokens,
			})
			return err
		})
		if err == nil {
			stream.Close()
		}
		forwardedSoFar = stream.forwarded
		return err
	})
	if err != nil {
		return "", r.callError(ctx, "text", attempts, err)
	}
	return resp.Text, nil
}

// callError maps a failed sub-call onto an engine error.
func (r *run) callError(ctx context.Context, call string, attempts int, err error) *Error {
	e := &Error{Call: call, Attempts: attempts, Err: err}
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		e.Kind = KindCancelled
	case provider.IsAuth(err):
		e.Kind = KindInvalidCredential
		r.o.ForgetCredential()
	default:
		e.Kind = KindProviderUnavailable
	}
	return e
}

// call runs one attempt of a provider call inside a span.
func (o *Orchestrator) call(ctx context.Context, name string, attempt int, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "engine."+name, trace.WithAttributes(
		attribute.Int("engine.attempt", attempt),
	))
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func newMediaID() string { return uuid.NewString() }
