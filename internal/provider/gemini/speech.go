package gemini

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/tatianab/storyforge/internal/provider"
)

// Gemini speech models return raw 16-bit mono PCM at this rate unless the
// MIME type says otherwise.
const defaultSampleRate = 24000

// GenerateSpeech narrates req.Text and returns it as a WAV file.
func (c *Client) GenerateSpeech(ctx context.Context, req provider.SpeechRequest) (provider.Media, error) {
	ctx, span := c.start(ctx, "speech", req.Model)
	defer span.End()
	span.SetAttributes(attribute.String("gemini.voice", req.Voice))

	m, err := c.generateSpeech(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return provider.Media{}, err
	}
	return m, nil
}

func (c *Client) generateSpeech(ctx context.Context, req provider.SpeechRequest) (provider.Media, error) {
	sdk, err := c.sdk(ctx, req.Credential)
	if err != nil {
		return provider.Media{}, err
	}
	if err := c.wait(ctx); err != nil {
		return provider.Media{}, err
	}

	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: req.Voice},
			},
		},
	}
	resp, err := sdk.Models.GenerateContent(ctx, req.Model, genai.Text(req.Text), cfg)
	if err != nil {
		return provider.Media{}, classify(err)
	}

	var (
		pcm      []byte
		mimeType string
	)
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil {
				continue
			}
			pcm = append(pcm, part.InlineData.Data...)
			mimeType = part.InlineData.MIMEType
		}
	}
	if len(pcm) == 0 {
		return provider.Media{}, provider.Invalid(errors.New("no audio in response"))
	}

	var usage provider.Usage
	if md := resp.UsageMetadata; md != nil {
		usage.PromptTokens = int(md.PromptTokenCount)
		usage.OutputTokens = int(md.CandidatesTokenCount)
	}

	data := pcm
	if !strings.HasPrefix(mimeType, "audio/wav") {
		var err error
		if data, err = encodeWAV(pcm, sampleRate(mimeType)); err != nil {
			return provider.Media{}, provider.Invalid(fmt.Errorf("encode wav: %w", err))
		}
	}
	c.logger.Debug("speech generated",
		zap.String("model", req.Model),
		zap.String("mime", mimeType),
		zap.Int("bytes", len(data)),
	)
	return provider.Media{Data: data, MIMEType: "audio/wav", Usage: usage}, nil
}

// sampleRate reads the rate parameter of e.g. "audio/L16;codec=pcm;rate=24000".
func sampleRate(mimeType string) int {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return defaultSampleRate
	}
	r, err := strconv.Atoi(params["rate"])
	if err != nil || r <= 0 {
		return defaultSampleRate
	}
	return r
}

