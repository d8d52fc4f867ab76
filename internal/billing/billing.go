// Package billing accounts for tokens and images spent on generation and
// prices them.
package billing

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed model_costs.yaml
var defaultCosts []byte

// Usage counts what generation consumed.
type Usage struct {
	TextPromptTokens  int
	TextOutputTokens  int
	AudioPromptTokens int
	AudioOutputTokens int
	Images            int
	Turns             int
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		TextPromptTokens:  u.TextPromptTokens + o.TextPromptTokens,
		TextOutputTokens:  u.TextOutputTokens + o.TextOutputTokens,
		AudioPromptTokens: u.AudioPromptTokens + o.AudioPromptTokens,
		AudioOutputTokens: u.AudioOutputTokens + o.AudioOutputTokens,
		Images:            u.Images + o.Images,
		Turns:             u.Turns + o.Turns,
	}
}

// Rates is the pricing of one model. Zero rates are free.
type Rates struct {
	InputCostPerToken  float64 `yaml:"input_cost_per_token"`
	OutputCostPerToken float64 `yaml:"output_cost_per_token"`
	OutputCostPerImage float64 `yaml:"output_cost_per_image"`
}

// Table maps model identifiers to their rates.
type Table map[string]Rates

// ParseTable reads a YAML rates table.
func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse rates: %w", err)
	}
	if t == nil {
		t = Table{}
	}
	return t, nil
}

// DefaultTable returns the rates shipped with the game.
func DefaultTable() Table {
	t, err := ParseTable(defaultCosts)
	if err != nil {
		panic(err)
	}
	return t
}

// Rates returns the rates of model.
func (t Table) Rates(model string) Rates { return t[model] }

// ComputeTextCosts prices text tokens.
func ComputeTextCosts(promptTokens, completionTokens int, r Rates) (prompt, completion, total float64) {
	prompt = float64(promptTokens) * r.InputCostPerToken
	completion = float64(completionTokens) * r.OutputCostPerToken
	return prompt, completion, prompt + completion
}

// ComputeAudioCosts prices narration tokens. Prompt tokens are text.
func ComputeAudioCosts(promptTokens, outputTokens int, r Rates) (prompt, output, total float64) {
	prompt = float64(promptTokens) * r.InputCostPerToken
	output = float64(outputTokens) * r.OutputCostPerToken
	return prompt, output, prompt + output
}

// ComputeImageCosts prices generated images.
func ComputeImageCosts(images int, r Rates) float64 {
	return float64(images) * r.OutputCostPerImage
}

// Models names the model used for each modality.
type Models struct {
	Text      string
	Narration string
	Image     string
}

// Report is a priced usage summary.
type Report struct {
	Usage     Usage
	TextCost  float64
	AudioCost float64
	ImageCost float64
	Total     float64
	PerTurn   float64
}

// Report prices u with the rates of m.
func (t Table) Report(u Usage, m Models) Report {
	_, _, text := ComputeTextCosts(u.TextPromptTokens, u.TextOutputTokens, t.Rates(m.Text))
	_, _, audio := ComputeAudioCosts(u.AudioPromptTokens, u.AudioOutputTokens, t.Rates(m.Narration))
	image := ComputeImageCosts(u.Images, t.Rates(m.Image))
	r := Report{
		Usage:     u,
		TextCost:  text,
		AudioCost: audio,
		ImageCost: image,
		Total:     text + audio + image,
	}
	r.PerTurn = r.Total / float64(max(1, u.Turns))
	return r
}

// Ledger accumulates usage over a session. It is safe for concurrent use.
type Ledger struct {
	mu    sync.Mutex
	usage Usage
}

// Record adds u to the ledger.
func (l *Ledger) Record(u Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage = l.usage.Add(u)
}

// Usage returns the total so far.
func (l *Ledger) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage
}

// Reset clears the ledger.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage = Usage{}
}
