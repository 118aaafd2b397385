package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/23skdu/longbow-prism/internal/config"
	"github.com/23skdu/longbow-prism/internal/seq"
)

func testCapture() seq.Capture {
	hidden := make([][][]float32, 2)
	for l := range hidden {
		hidden[l] = make([][]float32, 3)
		for p := range hidden[l] {
			hidden[l][p] = []float32{float32(l + 1), float32(p + 1)}
		}
	}
	return seq.Capture{
		Tokens:       []string{"a", "b", "c"},
		TokenIDs:     []int{0, 1, 2},
		NInputTokens: 2,
		HiddenStates: hidden,
		Head: &seq.HeadCapture{
			VocabSize: 4,
			HiddenDim: 2,
			Weights: []float64{
				1, 0,
				0, 1,
				1, 1,
				0.5, 0.5,
			},
		},
	}
}

func postAnalyze(t *testing.T, req AnalyzeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	rr := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader(body))
	AnalyzeHandler(config.Default()).ServeHTTP(rr, r)
	return rr
}

func TestAnalyzeExplorable(t *testing.T) {
	rr := postAnalyze(t, AnalyzeRequest{Analysis: "explorable", Capture: testCapture()})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Tokens []struct {
			Token string `json:"token"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(out.Tokens) != 3 {
		t.Errorf("got %d tokens, want 3", len(out.Tokens))
	}
}

func TestAnalyzeLayerPredictions(t *testing.T) {
	rr := postAnalyze(t, AnalyzeRequest{
		Analysis: "layer-predictions",
		Capture:  testCapture(),
		Position: 1,
		TopK:     2,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var layers [][]map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &layers); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(layers) != 1 {
		t.Fatalf("got %d layers, want 1", len(layers))
	}
	if len(layers[0]) != 2 {
		t.Errorf("got %d predictions, want 2", len(layers[0]))
	}
}

func TestAnalyzeInvalidPosition(t *testing.T) {
	rr := postAnalyze(t, AnalyzeRequest{
		Analysis: "layer-predictions",
		Capture:  testCapture(),
		Position: 0,
		TopK:     2,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400, body = %s", rr.Code, rr.Body.String())
	}
}

func TestAnalyzeUnknownAnalysis(t *testing.T) {
	rr := postAnalyze(t, AnalyzeRequest{Analysis: "spectral", Capture: testCapture()})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestAnalyzeMethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/analyze", nil)
	AnalyzeHandler(config.Default()).ServeHTTP(rr, r)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	m := NewCORSMiddleware(nil)
	rr := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	r.Header.Set("Origin", "http://example.com")
	m.Middleware(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight should not reach handler")
	}).ServeHTTP(rr, r)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}
}

func TestCORSExplicitOriginEchoed(t *testing.T) {
	m := NewCORSMiddleware([]string{"http://allowed.example"})

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"listed origin", "http://allowed.example", "http://allowed.example"},
		{"unlisted origin", "http://other.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/analyze", nil)
			r.Header.Set("Origin", tt.origin)
			called := false
			m.Middleware(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}).ServeHTTP(rr, r)
			if !called {
				t.Fatal("handler not reached")
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("allow-origin = %q, want %q", got, tt.want)
			}
		})
	}
}
