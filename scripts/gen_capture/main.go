package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"

	"github.com/23skdu/longbow-prism/internal/device"
	"github.com/23skdu/longbow-prism/internal/seq"
)

// Generates a small synthetic capture file for demos and manual testing.
var (
	out       = flag.String("out", "capture.json", "Output path")
	vocabSize = flag.Int("vocab", 32, "Vocabulary size")
	hiddenDim = flag.Int("hidden", 8, "Hidden state dimension")
	layers    = flag.Int("layers", 4, "Number of transformer layers")
	heads     = flag.Int("heads", 2, "Number of attention heads")
	nInput    = flag.Int("input", 3, "Number of input tokens")
	nOutput   = flag.Int("output", 2, "Number of generated tokens")
	seed      = flag.Int64("seed", 1, "Random seed")
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	n := *nInput + *nOutput
	tokens := make([]string, n)
	ids := make([]int, n)
	vocab := make([]string, *vocabSize)
	for i := range vocab {
		vocab[i] = string(rune('a' + i%26))
	}
	for i := range tokens {
		ids[i] = rng.Intn(*vocabSize)
		tokens[i] = vocab[ids[i]]
	}

	// Layer 0 is the embedding output.
	hidden := make([][][]float32, *layers+1)
	for l := range hidden {
		hidden[l] = make([][]float32, n)
		for p := range hidden[l] {
			hidden[l][p] = randVec(rng, *hiddenDim)
		}
	}

	attention := make([][][][]float32, *layers)
	for l := range attention {
		attention[l] = make([][][]float32, *heads)
		for h := range attention[l] {
			attention[l][h] = make([][]float32, n)
			for q := range attention[l][h] {
				row := make([]float32, n)
				var sum float32
				for k := 0; k <= q; k++ {
					row[k] = rng.Float32()
					sum += row[k]
				}
				for k := 0; k <= q; k++ {
					row[k] /= sum
				}
				attention[l][h][q] = row
			}
		}
	}

	attr := make([][]float64, *nOutput)
	for o := range attr {
		attr[o] = make([]float64, *nInput+o)
		var sum float64
		for i := range attr[o] {
			attr[o][i] = rng.Float64()
			sum += attr[o][i]
		}
		for i := range attr[o] {
			attr[o][i] /= sum
		}
	}

	neurons := *hiddenDim * 4
	acts := device.NewTensor(1, *layers, neurons, n)
	collected := make([]int, *layers)
	for l := 0; l < *layers; l++ {
		collected[l] = l
		for nn := 0; nn < neurons; nn++ {
			for p := 0; p < n; p++ {
				// FFN activations are post-GELU, mostly non-negative.
				v := rng.NormFloat64()
				if v < 0 {
					v = 0
				}
				acts.Set(float32(v), 0, l, nn, p)
			}
		}
	}

	weights := make([]float64, *vocabSize**hiddenDim)
	for i := range weights {
		weights[i] = rng.NormFloat64()
	}

	c := seq.Capture{
		Tokens:            tokens,
		TokenIDs:          ids,
		NInputTokens:      *nInput,
		HiddenStates:      hidden,
		Attention:         attention,
		Attributions:      map[string][][]float64{"grad_x_input": attr},
		Activations:       acts,
		CollectedLayerIDs: collected,
		Vocab:             vocab,
		Head: &seq.HeadCapture{
			VocabSize: *vocabSize,
			HiddenDim: *hiddenDim,
			Weights:   weights,
		},
	}

	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		log.Fatalf("encode capture: %v", err)
	}
	if err := os.WriteFile(*out, raw, 0o644); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}
	log.Printf("wrote %s (%d tokens, %d layers)", *out, n, *layers)
}

func randVec(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}
