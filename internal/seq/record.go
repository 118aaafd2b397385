// Package seq holds the sequence record: everything captured from one
// generation run, plus the analysis entry points that turn it into view-data.
package seq

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/23skdu/longbow-prism/internal/device"
	"github.com/23skdu/longbow-prism/internal/metrics"
	"github.com/23skdu/longbow-prism/internal/rank"
	"github.com/23skdu/longbow-prism/internal/saliency"
)

// Params carries everything the model-runner collaborator captured for one
// generation run.
type Params struct {
	TokenIDs     []int
	Tokens       []string
	NInputTokens int
	// HiddenStates is ordered by layer, each (position, hidden_dim).
	// Index 0 is the embedding layer.
	HiddenStates [][][]float32
	// Attention is ordered by layer, each (head, query, key).
	Attention [][][][]float32
	// Attributions maps method name to one importance vector per
	// generated-token offset.
	Attributions map[string][][]float64
	// Activations is (batch, layer, neuron, position); optional.
	Activations *device.Tensor
	// CollectedLayerIDs names which layer ids the activation rows hold;
	// nil means all layers.
	CollectedLayerIDs []int
	// Vocab optionally maps token ids to text for tokens outside the
	// sequence (top-k and watch results).
	Vocab []string

	Head    *rank.Head
	Context device.Context
}

// Record is the aggregate root for one generation run. Read-only after
// construction; every analysis receives its own views of these tensors.
type Record struct {
	tokenIDs     []int
	tokens       []string
	nInputTokens int
	hiddenStates [][][]float32
	attention    [][][][]float32
	attributions *saliency.Store
	activations  *device.Tensor
	collectedIDs []int
	vocab        []string

	head *rank.Head
	ctx  device.Context
}

// New validates the captured data and builds a Record.
func New(p Params) (*Record, error) {
	if len(p.TokenIDs) != len(p.Tokens) {
		return nil, fmt.Errorf("token_ids has %d entries, tokens has %d", len(p.TokenIDs), len(p.Tokens))
	}
	if p.NInputTokens < 0 || p.NInputTokens > len(p.Tokens) {
		return nil, fmt.Errorf("n_input_tokens %d outside [0, %d]", p.NInputTokens, len(p.Tokens))
	}
	if p.Context == nil {
		p.Context = device.NewContext()
	}

	if len(p.HiddenStates) > 0 {
		positions := len(p.HiddenStates[0])
		for l, layer := range p.HiddenStates {
			if len(layer) != positions {
				return nil, fmt.Errorf("hidden state layer %d has %d positions, layer 0 has %d", l, len(layer), positions)
			}
		}
	}
	if p.Activations != nil {
		if err := p.Activations.Validate(); err != nil {
			return nil, fmt.Errorf("activations: %w", err)
		}
	}

	metrics.SequenceLengthHistogram.Observe(float64(len(p.Tokens)))

	return &Record{
		tokenIDs:     p.TokenIDs,
		tokens:       p.Tokens,
		nInputTokens: p.NInputTokens,
		hiddenStates: p.HiddenStates,
		attention:    p.Attention,
		attributions: saliency.NewStore(p.Attributions),
		activations:  p.Activations,
		collectedIDs: p.CollectedLayerIDs,
		vocab:        p.Vocab,
		head:         p.Head,
		ctx:          p.Context,
	}, nil
}

// Len returns the total token count.
func (r *Record) Len() int {
	return len(r.tokens)
}

// NInputTokens returns the prompt/generation boundary.
func (r *Record) NInputTokens() int {
	return r.nInputTokens
}

// NLayers returns the hidden-state layer count, embedding included.
func (r *Record) NLayers() int {
	return len(r.hiddenStates)
}

func (r *Record) String() string {
	return fmt.Sprintf("<Record %d tokens, %d input, %d layers>", len(r.tokens), r.nInputTokens, len(r.hiddenStates))
}

// tokenText resolves token text for an arbitrary token id.
func (r *Record) tokenText(id int) string {
	if id >= 0 && id < len(r.vocab) {
		return r.vocab[id]
	}
	return fmt.Sprintf("<%d>", id)
}

// tokenType classifies a sequence index as prompt or generated.
func (r *Record) tokenType(idx int) string {
	if idx < r.nInputTokens {
		return "input"
	}
	return "output"
}

// requireRankable checks the invariants for layer-projection analyses.
func (r *Record) requireRankable() error {
	if r.head == nil {
		return fmt.Errorf("no output head supplied: projection analyses need the trained head weights")
	}
	if len(r.hiddenStates) < 2 {
		return fmt.Errorf("need at least 2 hidden state layers (embedding + 1), got %d", len(r.hiddenStates))
	}
	return nil
}

// Capture is the JSON wire form a model runner writes for one run.
type Capture struct {
	Tokens            []string               `json:"tokens"`
	TokenIDs          []int                  `json:"token_ids"`
	NInputTokens      int                    `json:"n_input_tokens"`
	HiddenStates      [][][]float32          `json:"hidden_states"`
	Attention         [][][][]float32        `json:"attention,omitempty"`
	Attributions      map[string][][]float64 `json:"attributions,omitempty"`
	Activations       *device.Tensor         `json:"activations,omitempty"`
	CollectedLayerIDs []int                  `json:"collected_layer_ids,omitempty"`
	Vocab             []string               `json:"vocab,omitempty"`
	Head              *HeadCapture           `json:"head,omitempty"`
}

// HeadCapture is the serialized output-head projection.
type HeadCapture struct {
	VocabSize int       `json:"vocab_size"`
	HiddenDim int       `json:"hidden_dim"`
	Weights   []float64 `json:"weights"`
	Bias      []float64 `json:"bias,omitempty"`
}

// FromCapture builds a Record from a deserialized capture.
func FromCapture(c *Capture, ctx device.Context) (*Record, error) {
	var head *rank.Head
	if c.Head != nil {
		h, err := rank.NewHead(c.Head.VocabSize, c.Head.HiddenDim, c.Head.Weights)
		if err != nil {
			return nil, fmt.Errorf("capture head: %w", err)
		}
		h.Bias = c.Head.Bias
		head = h
	}
	return New(Params{
		TokenIDs:          c.TokenIDs,
		Tokens:            c.Tokens,
		NInputTokens:      c.NInputTokens,
		HiddenStates:      c.HiddenStates,
		Attention:         c.Attention,
		Attributions:      c.Attributions,
		Activations:       c.Activations,
		CollectedLayerIDs: c.CollectedLayerIDs,
		Vocab:             c.Vocab,
		Head:              head,
		Context:           ctx,
	})
}

// LoadFile reads a capture JSON file written by a model runner.
func LoadFile(path string) (*Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	var c Capture
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse capture %s: %w", path, err)
	}
	return FromCapture(&c, nil)
}
