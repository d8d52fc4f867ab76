package billing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeCosts(t *testing.T) {
	r := Rates{InputCostPerToken: 0.001, OutputCostPerToken: 0.002, OutputCostPerImage: 0.5}

	p, c, total := ComputeTextCosts(100, 50, r)
	assert.InDelta(t, 0.1, p, 1e-12)
	assert.InDelta(t, 0.1, c, 1e-12)
	assert.InDelta(t, 0.2, total, 1e-12)

	p, o, total := ComputeAudioCosts(10, 1000, r)
	assert.InDelta(t, 0.01, p, 1e-12)
	assert.InDelta(t, 2.0, o, 1e-12)
	assert.InDelta(t, 2.01, total, 1e-12)

	assert.InDelta(t, 1.5, ComputeImageCosts(3, r), 1e-12)
	assert.Zero(t, ComputeImageCosts(3, Rates{}))
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	assert.Positive(t, table.Rates("gemini-2.5-flash").InputCostPerToken)
	assert.Positive(t, table.Rates("imagen-4.0-fast-generate-001").OutputCostPerImage)
	assert.Equal(t, Rates{}, table.Rates("unknown-model"))
}

func TestParseTable(t *testing.T) {
	table, err := ParseTable([]byte("m:\n  input_cost_per_token: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, Rates{InputCostPerToken: 2}, table.Rates("m"))

	table, err = ParseTable(nil)
	require.NoError(t, err)
	assert.Empty(t, table)

	_, err = ParseTable([]byte("m: [1, 2"))
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	table := Table{
		"text":  {InputCostPerToken: 1, OutputCostPerToken: 2},
		"voice": {InputCostPerToken: 3, OutputCostPerToken: 4},
		"image": {OutputCostPerImage: 10},
	}
	u := Usage{TextPromptTokens: 1, TextOutputTokens: 1, AudioPromptTokens: 1, AudioOutputTokens: 1, Images: 1, Turns: 2}

	r := table.Report(u, Models{Text: "text", Narration: "voice", Image: "image"})
	assert.Equal(t, 3.0, r.TextCost)
	assert.Equal(t, 7.0, r.AudioCost)
	assert.Equal(t, 10.0, r.ImageCost)
	assert.Equal(t, 20.0, r.Total)
	assert.Equal(t, 10.0, r.PerTurn)

	assert.Equal(t, 0.0, table.Report(Usage{}, Models{}).PerTurn)
}

func TestLedger(t *testing.T) {
	var l Ledger
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(Usage{TextPromptTokens: 2, Images: 1, Turns: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, Usage{TextPromptTokens: 100, Images: 50, Turns: 50}, l.Usage())

	l.Reset()
	assert.Equal(t, Usage{}, l.Usage())
}
