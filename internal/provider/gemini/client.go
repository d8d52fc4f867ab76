// Package gemini implements provider.Capability on Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/tatianab/storyforge/internal/provider"
)

// Client talks to Gemini. One SDK client is kept for the most recently used
// API key and rebuilt when the key changes.
type Client struct {
	logger  *zap.Logger
	limiter *rate.Limiter
	tracer  trace.Tracer

	mu     sync.Mutex
	key    string
	client *genai.Client

	// newClient is replaced in tests.
	newClient func(ctx context.Context, apiKey string) (*genai.Client, error)
}

var (
	_ provider.Capability = (*Client)(nil)
	_ provider.Prober     = (*Client)(nil)
)

// Options configures a Client.
type Options struct {
	// RequestsPerMinute paces all calls; zero disables pacing.
	RequestsPerMinute int
	Logger            *zap.Logger
}

// New returns a Gemini client. No network call is made until first use.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60)
	}
	return &Client{
		logger:    logger.Named("gemini"),
		limiter:   rate.NewLimiter(limit, 1),
		tracer:    otel.Tracer("github.com/tatianab/storyforge/internal/provider/gemini"),
		newClient: newGenAIClient,
	}
}

func newGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

// SetRequestsPerMinute changes the pacing of subsequent calls.
func (c *Client) SetRequestsPerMinute(n int) {
	if n <= 0 {
		c.limiter.SetLimit(rate.Inf)
		return
	}
	c.limiter.SetLimit(rate.Limit(float64(n) / 60))
}

func (c *Client) sdk(ctx context.Context, cred provider.Credential) (*genai.Client, error) {
	if cred.APIKey == "" {
		return nil, provider.Auth(errors.New("no API key"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.key == cred.APIKey {
		return c.client, nil
	}
	client, err := c.newClient(ctx, cred.APIKey)
	if err != nil {
		return nil, classify(fmt.Errorf("create client: %w", err))
	}
	c.client, c.key = client, cred.APIKey
	c.logger.Debug("gemini client created")
	return client, nil
}

// wait blocks until the limiter admits one more call.
func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return provider.Transient(err)
	}
	return nil
}

func (c *Client) start(ctx context.Context, op, model string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "gemini."+op, trace.WithAttributes(
		attribute.String("gemini.model", model),
	))
}
