package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/tatianab/storyforge/internal/provider"
)

func TestEncodeWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 0xff, 0xff}
	data, err := encodeWAV(pcm, 24000)
	require.NoError(t, err)

	require.Len(t, data, 44+len(pcm))
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, pcm, data[44:])

	d := wav.NewDecoder(bytes.NewReader(data))
	buf, err := d.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 24000, buf.Format.SampleRate)
	assert.Equal(t, 1, buf.Format.NumChannels)
	assert.Equal(t, []int{0x0201, 0x0403, -1}, buf.Data)
}

func TestSampleRate(t *testing.T) {
	assert.Equal(t, 24000, sampleRate("audio/L16;codec=pcm;rate=24000"))
	assert.Equal(t, 16000, sampleRate("audio/L16;rate=16000"))
	assert.Equal(t, defaultSampleRate, sampleRate("audio/L16"))
	assert.Equal(t, defaultSampleRate, sampleRate(""))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want provider.Kind
	}{
		{"genai rate limit", genai.APIError{Code: 429, Message: "quota"}, provider.KindTransient},
		{"genai bad request", fmt.Errorf("stream: %w", genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"}), provider.KindInvalid},
		{"genai rejected key", fmt.Errorf("stream: %w", genai.APIError{
			Code:    400,
			Message: "API key not valid. Please pass a valid API key.",
			Status:  "INVALID_ARGUMENT",
		}), provider.KindAuth},
		{"genai rejected key reason", &genai.APIError{
			Code:    400,
			Status:  "INVALID_ARGUMENT",
			Details: []map[string]any{{"reason": "API_KEY_INVALID"}},
		}, provider.KindAuth},
		{"googleapi rejected key", &googleapi.Error{Code: 400, Message: "API key not valid. Please pass a valid API key."}, provider.KindAuth},
		{"genai forbidden", &genai.APIError{Code: 403}, provider.KindAuth},
		{"googleapi unavailable", &googleapi.Error{Code: 503}, provider.KindTransient},
		{"googleapi unauthorized", &googleapi.Error{Code: 401}, provider.KindAuth},
		{"deadline", context.DeadlineExceeded, provider.KindTransient},
		{"other", errors.New("boom"), provider.KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, provider.KindOf(classify(tt.err)))
		})
	}
}

func TestClassifyKeepsCancel(t *testing.T) {
	err := classify(fmt.Errorf("stream: %w", context.Canceled))
	assert.ErrorIs(t, err, context.Canceled)
	var perr *provider.Error
	assert.False(t, errors.As(err, &perr))
	assert.NoError(t, classify(nil))
}

func TestMissingKey(t *testing.T) {
	c := New(Options{})
	_, err := c.GenerateText(context.Background(), provider.TextRequest{Model: "m", Prompt: "p"}, nil)
	assert.True(t, provider.IsAuth(err))

	assert.True(t, provider.IsAuth(c.Probe(context.Background(), provider.Credential{})))
}

func TestClientCachedPerKey(t *testing.T) {
	c := New(Options{RequestsPerMinute: 60})
	created := 0
	c.newClient = func(ctx context.Context, apiKey string) (*genai.Client, error) {
		created++
		return &genai.Client{}, nil
	}
	ctx := context.Background()

	a, err := c.sdk(ctx, provider.Credential{APIKey: "key-one"})
	require.NoError(t, err)
	b, err := c.sdk(ctx, provider.Credential{APIKey: "key-one"})
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, created)

	_, err = c.sdk(ctx, provider.Credential{APIKey: "key-two"})
	require.NoError(t, err)
	assert.Equal(t, 2, created)
}

func TestWaitHonoursCancel(t *testing.T) {
	c := New(Options{RequestsPerMinute: 1})
	ctx := context.Background()
	require.NoError(t, c.wait(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, c.wait(cancelled), context.Canceled)
}
