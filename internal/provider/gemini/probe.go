package gemini

import (
	"context"
	"errors"
	"fmt"

	legacy "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tatianab/storyforge/internal/provider"
)

// Probe checks that cred is accepted by listing a single model. It does not
// spend generation quota.
func (c *Client) Probe(ctx context.Context, cred provider.Credential) error {
	if cred.APIKey == "" {
		return provider.Auth(errors.New("no API key"))
	}
	ctx, span := c.start(ctx, "probe", "")
	defer span.End()

	client, err := legacy.NewClient(ctx, option.WithAPIKey(cred.APIKey))
	if err != nil {
		return classify(fmt.Errorf("create probe client: %w", err))
	}
	defer client.Close()

	it := client.ListModels(ctx)
	if _, err := it.Next(); err != nil && !errors.Is(err, iterator.Done) {
		span.RecordError(err)
		return classify(fmt.Errorf("list models: %w", err))
	}
	return nil
}
