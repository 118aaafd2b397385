package saliency

import (
	"fmt"
	"sort"
	"strings"
)

// InvalidPositionError reports a requested position outside the valid range.
type InvalidPositionError struct {
	Position int
	Min      int
	Max      int
}

func (e *InvalidPositionError) Error() string {
	return fmt.Sprintf("invalid position %d: accepted values for this sequence are between %d and %d",
		e.Position, e.Min, e.Max)
}

// UnknownAttributionMethodError reports a method key absent from the store.
type UnknownAttributionMethodError struct {
	Method    string
	Available []string
}

func (e *UnknownAttributionMethodError) Error() string {
	return fmt.Sprintf("unknown attribution method %q: available methods are [%s]",
		e.Method, strings.Join(e.Available, ", "))
}

// Store holds precomputed per-method importance scores. Each method maps to
// one importance vector per generated-token offset, covering the source
// tokens [0, offset + n_input_tokens). Read-only after construction.
type Store struct {
	methods map[string][][]float64
}

// NewStore wraps an attribution map, e.g. {"grad_x_input": [...]}.
func NewStore(attributions map[string][][]float64) *Store {
	methods := make(map[string][][]float64, len(attributions))
	for name, vectors := range attributions {
		methods[name] = vectors
	}
	return &Store{methods: methods}
}

// Methods returns the recorded method names, sorted.
func (s *Store) Methods() []string {
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of generated-token offsets recorded for a method,
// or 0 if the method is absent.
func (s *Store) Len(method string) int {
	return len(s.methods[method])
}

// AttributionFor returns the importance vector for one generated-token
// offset (0 = first generated token).
func (s *Store) AttributionFor(method string, offset int) ([]float64, error) {
	vectors, ok := s.methods[method]
	if !ok {
		return nil, &UnknownAttributionMethodError{Method: method, Available: s.Methods()}
	}
	if offset < 0 || offset >= len(vectors) {
		return nil, &InvalidPositionError{Position: offset, Min: 0, Max: len(vectors) - 1}
	}
	return vectors[offset], nil
}

// Normalize converts raw importance scores to fractional contributions by
// dividing each score by the vector sum. A zero-sum vector normalizes to all
// zeros rather than dividing by zero.
func Normalize(importance []float64) []float64 {
	out := make([]float64, len(importance))
	sum := 0.0
	for _, v := range importance {
		sum += v
	}
	if sum == 0 {
		return out
	}
	for i, v := range importance {
		out[i] = v / sum
	}
	return out
}
