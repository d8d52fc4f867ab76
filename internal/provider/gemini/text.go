package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/tatianab/storyforge/internal/provider"
)

// GenerateText streams a text completion. Thought parts are never forwarded.
func (c *Client) GenerateText(ctx context.Context, req provider.TextRequest, onChunk func(string)) (provider.TextResponse, error) {
	ctx, span := c.start(ctx, "text", req.Model)
	defer span.End()

	resp, err := c.generateText(ctx, req, onChunk)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return provider.TextResponse{Usage: resp.Usage}, err
	}
	span.SetAttributes(
		attribute.Int("gemini.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("gemini.output_tokens", resp.Usage.OutputTokens),
	)
	return resp, nil
}

func (c *Client) generateText(ctx context.Context, req provider.TextRequest, onChunk func(string)) (provider.TextResponse, error) {
	sdk, err := c.sdk(ctx, req.Credential)
	if err != nil {
		return provider.TextResponse{}, err
	}
	if err := c.wait(ctx); err != nil {
		return provider.TextResponse{}, err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(req.ThinkingBudget)),
		},
	}

	var (
		text  strings.Builder
		usage provider.Usage
	)
	for resp, err := range sdk.Models.GenerateContentStream(ctx, req.Model, genai.Text(req.Prompt), cfg) {
		if err != nil {
			return provider.TextResponse{Usage: usage}, classify(fmt.Errorf("stream: %w", err))
		}
		if md := resp.UsageMetadata; md != nil {
			usage.PromptTokens = int(md.PromptTokenCount)
			usage.OutputTokens = int(md.CandidatesTokenCount)
		}
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return provider.TextResponse{Usage: usage}, provider.Blocked(fmt.Errorf("prompt blocked: %s", fb.BlockReason))
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if part == nil || part.Thought || part.Text == "" {
					continue
				}
				text.WriteString(part.Text)
				if onChunk != nil {
					onChunk(part.Text)
				}
			}
		}
	}
	if text.Len() == 0 {
		return provider.TextResponse{Usage: usage}, provider.Invalid(errors.New("empty response"))
	}

	c.logger.Debug("text generated",
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("output_tokens", usage.OutputTokens),
	)
	return provider.TextResponse{Text: text.String(), Usage: usage}, nil
}
