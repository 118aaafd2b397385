package rank

import (
	"errors"
	"math"
	"testing"

	"github.com/23skdu/longbow-prism/internal/device"
)

// testHead returns a 5-token vocabulary head over a 3-dim hidden space.
func testHead(t *testing.T) *Head {
	t.Helper()
	head, err := NewHead(5, 3, []float64{
		1.0, 0.0, 0.0,
		0.0, 1.0, 0.0,
		0.0, 0.0, 1.0,
		0.5, 0.5, 0.0,
		-1.0, -1.0, -1.0,
	})
	if err != nil {
		t.Fatalf("NewHead failed: %v", err)
	}
	return head
}

func TestNewHeadValidation(t *testing.T) {
	if _, err := NewHead(0, 3, nil); err == nil {
		t.Error("expected error for zero vocab")
	}
	if _, err := NewHead(2, 3, make([]float64, 5)); err == nil {
		t.Error("expected error for weight length mismatch")
	}
}

func TestProbabilitiesSumToOne(t *testing.T) {
	ctx := device.NewContext()
	head := testHead(t)

	probs, err := Probabilities(ctx, head, []float32{0.2, -1.5, 3.0})
	if err != nil {
		t.Fatalf("Probabilities failed: %v", err)
	}
	if len(probs) != 5 {
		t.Fatalf("got %d probs, want 5", len(probs))
	}
	sum := 0.0
	for _, p := range probs {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("probabilities sum = %f, want 1.0", sum)
	}
}

func TestRankOfArgMaxIsOne(t *testing.T) {
	ctx := device.NewContext()
	head := testHead(t)

	// Hidden state (0, 0, 1) makes token 2 the arg-max.
	r, err := RankOf(ctx, head, []float32{0, 0, 1}, 2)
	if err != nil {
		t.Fatalf("RankOf failed: %v", err)
	}
	if r != 1 {
		t.Errorf("rank of arg-max token = %d, want 1", r)
	}
}

func TestRankOfLowestToken(t *testing.T) {
	ctx := device.NewContext()
	head := testHead(t)

	// Token 4 scores -(sum) and the hidden state is all-positive, so it ranks last.
	r, err := RankOf(ctx, head, []float32{1, 1, 1}, 4)
	if err != nil {
		t.Fatalf("RankOf failed: %v", err)
	}
	if r != head.VocabSize() {
		t.Errorf("rank = %d, want %d", r, head.VocabSize())
	}
}

func TestRankOfTokenNotFound(t *testing.T) {
	ctx := device.NewContext()
	head := testHead(t)

	_, err := RankOf(ctx, head, []float32{1, 0, 0}, 99)
	var notFound *TokenNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected TokenNotFoundError, got %v", err)
	}
	if notFound.TokenID != 99 || notFound.VocabSize != 5 {
		t.Errorf("error fields = %+v", notFound)
	}

	if _, err := RankOf(ctx, head, []float32{1, 0, 0}, -1); err == nil {
		t.Error("expected TokenNotFoundError for negative id")
	}
}

func TestLayerTopKDescending(t *testing.T) {
	ctx := device.NewContext()
	head := testHead(t)

	top, err := LayerTopK(ctx, head, []float32{0.7, -0.3, 1.9}, 3)
	if err != nil {
		t.Fatalf("LayerTopK failed: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("got %d predictions, want 3", len(top))
	}
	sum := 0.0
	for i, p := range top {
		sum += p.Prob
		if i > 0 && top[i-1].Prob < p.Prob {
			t.Errorf("top-k not descending at %d: %v", i, top)
		}
	}
	if sum > 1.0+1e-9 {
		t.Errorf("top-k probabilities sum %f exceeds 1", sum)
	}
}

func TestLayerTopKCapsAtVocab(t *testing.T) {
	ctx := device.NewContext()
	head := testHead(t)

	top, err := LayerTopK(ctx, head, []float32{1, 2, 3}, 50)
	if err != nil {
		t.Fatalf("LayerTopK failed: %v", err)
	}
	if len(top) != head.VocabSize() {
		t.Errorf("got %d predictions, want %d", len(top), head.VocabSize())
	}
}

func TestLayerTopKDeterministicTies(t *testing.T) {
	ctx := device.NewContext()
	// All-equal rows project every token to the same logit.
	head, err := NewHead(4, 2, []float64{
		1, 1,
		1, 1,
		1, 1,
		1, 1,
	})
	if err != nil {
		t.Fatalf("NewHead failed: %v", err)
	}

	first, err := LayerTopK(ctx, head, []float32{0.5, 0.5}, 4)
	if err != nil {
		t.Fatalf("LayerTopK failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := LayerTopK(ctx, head, []float32{0.5, 0.5}, 4)
		if err != nil {
			t.Fatalf("LayerTopK failed: %v", err)
		}
		for j := range first {
			if again[j].TokenID != first[j].TokenID {
				t.Fatalf("tie-breaking not deterministic: %v vs %v", first, again)
			}
		}
	}
}

func TestLayerTopKInvalidK(t *testing.T) {
	ctx := device.NewContext()
	head := testHead(t)

	if _, err := LayerTopK(ctx, head, []float32{1, 0, 0}, 0); err == nil {
		t.Error("expected error for k=0")
	}
}
