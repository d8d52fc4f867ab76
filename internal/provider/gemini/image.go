package gemini

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/tatianab/storyforge/internal/provider"
)

// GenerateImage renders one 16:9 illustration with an Imagen model.
func (c *Client) GenerateImage(ctx context.Context, req provider.ImageRequest) (provider.Media, error) {
	ctx, span := c.start(ctx, "image", req.Model)
	defer span.End()

	m, err := c.generateImage(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return provider.Media{}, err
	}
	return m, nil
}

func (c *Client) generateImage(ctx context.Context, req provider.ImageRequest) (provider.Media, error) {
	sdk, err := c.sdk(ctx, req.Credential)
	if err != nil {
		return provider.Media{}, err
	}
	if err := c.wait(ctx); err != nil {
		return provider.Media{}, err
	}

	resp, err := sdk.Models.GenerateImages(ctx, req.Model, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages:   1,
		AspectRatio:      "16:9",
		IncludeRAIReason: true,
	})
	if err != nil {
		return provider.Media{}, classify(err)
	}
	if len(resp.GeneratedImages) == 0 {
		return provider.Media{}, provider.Invalid(errors.New("no image in response"))
	}
	img := resp.GeneratedImages[0]
	if img.Image == nil || len(img.Image.ImageBytes) == 0 {
		if img.RAIFilteredReason != "" {
			return provider.Media{}, provider.Blocked(fmt.Errorf("image filtered: %s", img.RAIFilteredReason))
		}
		return provider.Media{}, provider.Invalid(errors.New("empty image"))
	}

	c.logger.Debug("image generated",
		zap.String("model", req.Model),
		zap.Int("bytes", len(img.Image.ImageBytes)),
	)
	return provider.Media{
		Data:     img.Image.ImageBytes,
		MIMEType: img.Image.MIMEType,
		Usage:    provider.Usage{Images: 1},
	}, nil
}
