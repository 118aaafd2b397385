// Package view defines the JSON view-data contracts consumed by the
// rendering layer. Scalar floating-point values destined for display are
// serialized as strings so the consuming side never hits JSON float
// precision issues; matrices stay numeric.
package view

import "strconv"

const (
	TokenTypeInput  = "input"
	TokenTypeOutput = "output"
)

// Token is one token record of an explorable.
type Token struct {
	Token    string `json:"token"`
	TokenID  int    `json:"token_id"`
	Type     string `json:"type"`
	Position *int   `json:"position,omitempty"`
	Value    string `json:"value,omitempty"`
}

// TokenSet is the basic explorable payload.
type TokenSet struct {
	Tokens []Token `json:"tokens"`
}

// SaliencyData is a token set plus the raw attribution matrix, one row per
// generated-token offset.
type SaliencyData struct {
	Tokens       []Token     `json:"tokens"`
	Attributions [][]float64 `json:"attributions"`
}

// LayerPrediction is one top-k entry for one layer.
type LayerPrediction struct {
	Token   string `json:"token"`
	Prob    string `json:"prob"`
	Ranking int    `json:"ranking"`
	Layer   int    `json:"layer"`
}

// RankingsData carries a (layer x position) or (layer x watched-token)
// ranking matrix with its token labels.
type RankingsData struct {
	InputTokens     []string   `json:"input_tokens"`
	OutputTokens    []string   `json:"output_tokens"`
	Rankings        [][]int    `json:"rankings"`
	PredictedTokens [][]string `json:"predicted_tokens,omitempty"`
}

// FactorData is the NMF explorable payload. Factors is indexed
// (batch, component, position).
type FactorData struct {
	Tokens  []Token       `json:"tokens"`
	Factors [][][]float64 `json:"factors"`
}

// FormatFloat renders a display float as a string.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// IntPtr is a convenience for optional position fields.
func IntPtr(i int) *int {
	return &i
}
