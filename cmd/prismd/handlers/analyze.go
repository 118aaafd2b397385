package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/23skdu/longbow-prism/internal/config"
	"github.com/23skdu/longbow-prism/internal/device"
	"github.com/23skdu/longbow-prism/internal/logger"
	"github.com/23skdu/longbow-prism/internal/nmf"
	"github.com/23skdu/longbow-prism/internal/rank"
	"github.com/23skdu/longbow-prism/internal/saliency"
	"github.com/23skdu/longbow-prism/internal/seq"
)

// AnalyzeRequest carries a sequence capture plus the parameters of one analysis.
type AnalyzeRequest struct {
	Analysis   string      `json:"analysis"`
	Capture    seq.Capture `json:"capture"`
	Position   int         `json:"position,omitempty"`
	TopK       int         `json:"topk,omitempty"`
	Layer      *int        `json:"layer,omitempty"`
	Watch      []int       `json:"watch,omitempty"`
	Method     string      `json:"method,omitempty"`
	Components int         `json:"components,omitempty"`
	FromLayer  *int        `json:"from_layer,omitempty"`
	ToLayer    *int        `json:"to_layer,omitempty"`
	LayerIDs   []int       `json:"layer_ids,omitempty"`
	Seed       int64       `json:"seed,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func AnalyzeHandler(defaults config.Analysis) http.HandlerFunc {
	log := logger.Log.Component("analyze")

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "POST required")
			return
		}

		var req AnalyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		rec, err := seq.FromCapture(&req.Capture, device.NewContext())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := runAnalysis(rec, &req, defaults)
		if err != nil {
			log.Warn("analysis failed", "analysis", req.Analysis, "err", err)
			writeError(w, statusFor(err), err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func runAnalysis(rec *seq.Record, req *AnalyzeRequest, defaults config.Analysis) (interface{}, error) {
	method := req.Method
	if method == "" {
		method = defaults.AttributionMethod
	}
	topk := req.TopK
	if topk <= 0 {
		topk = defaults.TopK
	}

	switch req.Analysis {
	case "explorable":
		return rec.Explorable(), nil
	case "position":
		return rec.PositionView(req.Position, method)
	case "saliency":
		return rec.Saliency(method)
	case "layer-predictions":
		return rec.LayerPredictions(req.Position, topk, req.Layer)
	case "rankings":
		return rec.Rankings()
	case "rankings-watch":
		pos := req.Position
		if pos == 0 {
			pos = -1
		}
		return rec.RankingsWatch(req.Watch, pos)
	case "attention":
		layer := 0
		if req.Layer != nil {
			layer = *req.Layer
		}
		return rec.AttentionView(layer)
	case "nmf":
		sel := nmf.AllLayers()
		switch {
		case len(req.LayerIDs) > 0:
			sel = nmf.ExplicitIDs(req.LayerIDs...)
		case req.FromLayer != nil || req.ToLayer != nil:
			from, to := 0, 0
			if req.FromLayer != nil {
				from = *req.FromLayer
			}
			if req.ToLayer != nil {
				to = *req.ToLayer
			}
			sel = nmf.Range(from, to)
		}
		components := req.Components
		if components <= 0 {
			components = defaults.NMFComponents
		}
		cfg := nmf.FitConfig{
			Components: components,
			MaxIter:    defaults.NMFMaxIter,
			Tol:        defaults.NMFTol,
			Seed:       req.Seed,
		}
		res, err := rec.RunNMF(sel, cfg)
		if err != nil {
			return nil, err
		}
		return rec.FactorView(res), nil
	default:
		return nil, errUnknownAnalysis(req.Analysis)
	}
}

type unknownAnalysisError struct{ name string }

func (e unknownAnalysisError) Error() string { return "unknown analysis: " + e.name }

func errUnknownAnalysis(name string) error { return unknownAnalysisError{name: name} }

// statusFor maps argument validation failures to 400 and everything else to 500.
func statusFor(err error) int {
	var posErr *saliency.InvalidPositionError
	var methodErr *saliency.UnknownAttributionMethodError
	var rangeErr *nmf.InvalidLayerRangeError
	var emptyErr *nmf.EmptyActivationsError
	var tokenErr *rank.TokenNotFoundError
	var unknownErr unknownAnalysisError

	switch {
	case errors.As(err, &posErr),
		errors.As(err, &methodErr),
		errors.As(err, &rangeErr),
		errors.As(err, &emptyErr),
		errors.As(err, &tokenErr),
		errors.As(err, &unknownErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
