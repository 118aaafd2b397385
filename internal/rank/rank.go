package rank

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/23skdu/longbow-prism/internal/device"
)

// Head is the trained output-head projection from hidden space to vocabulary
// logits. W is (vocab x hidden); Bias is optional.
type Head struct {
	W    *mat.Dense
	Bias []float64
}

// NewHead wraps a row-major (vocab x hidden) weight slice.
func NewHead(vocabSize, hiddenDim int, weights []float64) (*Head, error) {
	if vocabSize <= 0 || hiddenDim <= 0 {
		return nil, fmt.Errorf("invalid head dims: vocab=%d hidden=%d (must be positive)", vocabSize, hiddenDim)
	}
	if len(weights) != vocabSize*hiddenDim {
		return nil, fmt.Errorf("head weights length %d does not match %dx%d", len(weights), vocabSize, hiddenDim)
	}
	return &Head{W: mat.NewDense(vocabSize, hiddenDim, weights)}, nil
}

// VocabSize returns the number of output rows of the head.
func (h *Head) VocabSize() int {
	rows, _ := h.W.Dims()
	return rows
}

// TokenNotFoundError reports a target token id absent from the vocabulary
// distribution. This is an invariant violation, not a recoverable condition.
type TokenNotFoundError struct {
	TokenID   int
	VocabSize int
}

func (e *TokenNotFoundError) Error() string {
	return fmt.Sprintf("token id %d not found in vocabulary distribution of size %d", e.TokenID, e.VocabSize)
}

// Prediction is one (token, probability) entry of a top-k result.
type Prediction struct {
	TokenID int
	Prob    float64
}

// Project computes vocabulary logits for one hidden state. Pure: no state,
// no side effects. The compute context decides where the product runs.
func Project(ctx device.Context, head *Head, hidden []float32) ([]float64, error) {
	x := make([]float64, len(hidden))
	for i, v := range hidden {
		x[i] = float64(v)
	}
	return ctx.MatVec(head.W, head.Bias, x)
}

// Probabilities projects a hidden state and applies softmax.
func Probabilities(ctx device.Context, head *Head, hidden []float32) ([]float64, error) {
	logits, err := Project(ctx, head, hidden)
	if err != nil {
		return nil, err
	}
	return ctx.Softmax(logits), nil
}

// LayerTopK returns the min(k, vocab) highest-probability tokens for one
// hidden state, descending by probability. The stable sort makes tie
// ordering deterministic for a fixed input.
func LayerTopK(ctx device.Context, head *Head, hidden []float32, k int) ([]Prediction, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid topk: %d (must be positive)", k)
	}

	logits, err := Project(ctx, head, hidden)
	if err != nil {
		return nil, err
	}
	probs := ctx.Softmax(logits)

	order := ascendingOrder(probs)

	if k > len(order) {
		k = len(order)
	}
	top := make([]Prediction, 0, k)
	// Walk the ascending tail backwards to get descending probabilities.
	for i := len(order) - 1; i >= len(order)-k; i-- {
		id := order[i]
		top = append(top, Prediction{TokenID: id, Prob: probs[id]})
	}
	return top, nil
}

// RankOf returns the 1-based rank of target in the projected distribution,
// where 1 is the highest-scoring token.
func RankOf(ctx device.Context, head *Head, hidden []float32, target int) (int, error) {
	logits, err := Project(ctx, head, hidden)
	if err != nil {
		return 0, err
	}
	if target < 0 || target >= len(logits) {
		return 0, &TokenNotFoundError{TokenID: target, VocabSize: len(logits)}
	}

	order := ascendingOrder(logits)
	for i, id := range order {
		if id == target {
			return len(order) - i, nil
		}
	}
	// Unreachable for a well-formed vocabulary.
	return 0, &TokenNotFoundError{TokenID: target, VocabSize: len(logits)}
}

// ascendingOrder returns token ids sorted by ascending score, ties broken by
// ascending id.
func ascendingOrder(scores []float64) []int {
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] < scores[order[b]]
	})
	return order
}
