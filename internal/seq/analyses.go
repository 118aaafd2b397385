package seq

import (
	"fmt"
	"sync"
	"time"

	"github.com/23skdu/longbow-prism/internal/metrics"
	"github.com/23skdu/longbow-prism/internal/nmf"
	"github.com/23skdu/longbow-prism/internal/rank"
	"github.com/23skdu/longbow-prism/internal/saliency"
	"github.com/23skdu/longbow-prism/internal/view"
)

// DefaultAttributionMethod is the attribution key model runners record by
// default (gradient times input, L2-normed over embedding dimensions).
const DefaultAttributionMethod = "grad_x_input"

// Explorable packages the token sequence for the basic explorable.
func (r *Record) Explorable() view.TokenSet {
	defer observe("explorable", time.Now())

	tokens := make([]view.Token, len(r.tokens))
	for idx, tok := range r.tokens {
		tokens[idx] = view.Token{
			Token:   tok,
			TokenID: r.tokenIDs[idx],
			Type:    r.tokenType(idx),
		}
	}
	return view.TokenSet{Tokens: tokens}
}

// validatePosition checks that position addresses a generated token.
func (r *Record) validatePosition(position int) error {
	if position < r.nInputTokens || position > len(r.tokens)-1 {
		metrics.RecordValidationError("position", "invalid_position")
		return &saliency.InvalidPositionError{
			Position: position,
			Min:      r.nInputTokens,
			Max:      len(r.tokens) - 1,
		}
	}
	return nil
}

// PositionView highlights the attribution map for one generated position.
// Tokens beyond the attributed prefix carry the value "-1".
func (r *Record) PositionView(position int, method string) (view.TokenSet, error) {
	defer observe("position", time.Now())

	if err := r.validatePosition(position); err != nil {
		return view.TokenSet{}, err
	}
	vec, err := r.attributions.AttributionFor(method, position-r.nInputTokens)
	if err != nil {
		return view.TokenSet{}, err
	}

	tokens := make([]view.Token, len(r.tokens))
	for idx, tok := range r.tokens {
		value := -1.0
		if idx < len(vec) {
			value = vec[idx]
		}
		tokens[idx] = view.Token{
			Token:   tok,
			TokenID: r.tokenIDs[idx],
			Type:    r.tokenType(idx),
			Value:   view.FormatFloat(value),
		}
	}
	return view.TokenSet{Tokens: tokens}, nil
}

// Saliency packages the full attribution map for a method: per-token values
// for the first generated position plus the raw attribution matrix.
func (r *Record) Saliency(method string) (view.SaliencyData, error) {
	defer observe("saliency", time.Now())

	vec, err := r.attributions.AttributionFor(method, 0)
	if err != nil {
		return view.SaliencyData{}, err
	}

	tokens := make([]view.Token, len(r.tokens))
	for idx, tok := range r.tokens {
		value := 0.0
		if idx < len(vec) {
			value = vec[idx]
		}
		tokens[idx] = view.Token{
			Token:    tok,
			TokenID:  r.tokenIDs[idx],
			Type:     r.tokenType(idx),
			Value:    view.FormatFloat(value),
			Position: view.IntPtr(idx),
		}
	}

	attributions := make([][]float64, r.attributions.Len(method))
	for offset := range attributions {
		row, err := r.attributions.AttributionFor(method, offset)
		if err != nil {
			return view.SaliencyData{}, err
		}
		attributions[offset] = row
	}
	return view.SaliencyData{Tokens: tokens, Attributions: attributions}, nil
}

// NormalizedAttribution returns fractional per-token contributions toward the
// token generated at position.
func (r *Record) NormalizedAttribution(method string, position int) ([]float64, error) {
	if err := r.validatePosition(position); err != nil {
		return nil, err
	}
	vec, err := r.attributions.AttributionFor(method, position-r.nInputTokens)
	if err != nil {
		return nil, err
	}
	return saliency.Normalize(vec), nil
}

// LayerPredictions traces the top-k vocabulary projections of every layer's
// hidden state at one position. Layer 0 (the embedding layer) has no
// prediction-head semantics and is excluded; pass layer to restrict the trace
// to a single transformer layer.
func (r *Record) LayerPredictions(position, topk int, layer *int) ([][]view.LayerPrediction, error) {
	defer observe("layer_predictions", time.Now())

	if err := r.requireRankable(); err != nil {
		return nil, err
	}
	positions := len(r.hiddenStates[0])
	if position < 1 || position > positions {
		metrics.RecordValidationError("layer_predictions", "invalid_position")
		return nil, &saliency.InvalidPositionError{Position: position, Min: 1, Max: positions}
	}

	levels := r.hiddenStates[1:]
	layerBase := 0
	if layer != nil {
		if *layer < 0 || *layer >= len(levels) {
			metrics.RecordValidationError("layer_predictions", "invalid_layer_range")
			return nil, &nmf.InvalidLayerRangeError{
				Detail: fmt.Sprintf("layer %d out of range: this sequence has layers 0 to %d", *layer, len(levels)-1),
			}
		}
		levels = levels[*layer : *layer+1]
		layerBase = *layer
	}

	data := make([][]view.LayerPrediction, len(levels))
	for layerNo, level := range levels {
		top, err := rank.LayerTopK(r.ctx, r.head, level[position-1], topk)
		if err != nil {
			return nil, err
		}
		layerData := make([]view.LayerPrediction, len(top))
		for i, pred := range top {
			layerData[i] = view.LayerPrediction{
				Token:   r.tokenText(pred.TokenID),
				Prob:    view.FormatFloat(pred.Prob),
				Ranking: i + 1,
				Layer:   layerBase + layerNo,
			}
		}
		data[layerNo] = layerData
	}
	return data, nil
}

// Rankings traces, for every generated token, its rank in each layer's
// projected distribution at the moment it was generated. Rows are layers
// (embedding excluded), columns are generated positions. Layers are
// independent; they run concurrently and land in the matrix by index.
func (r *Record) Rankings() (view.RankingsData, error) {
	defer observe("rankings", time.Now())

	if err := r.requireRankable(); err != nil {
		return view.RankingsData{}, err
	}
	if r.nInputTokens < 1 {
		return view.RankingsData{}, fmt.Errorf("rankings need at least one input token to anchor the first generated position (n_input_tokens=%d)", r.nInputTokens)
	}
	nOutput := len(r.tokens) - r.nInputTokens
	if nOutput < 1 {
		return view.RankingsData{}, fmt.Errorf("sequence has no generated tokens to rank (n_input_tokens=%d of %d)", r.nInputTokens, len(r.tokens))
	}
	positions := len(r.hiddenStates[0])
	if r.nInputTokens-1+nOutput > positions {
		return view.RankingsData{}, fmt.Errorf("hidden states cover %d positions, ranking needs %d", positions, r.nInputTokens-1+nOutput)
	}

	levels := r.hiddenStates[1:]
	rankings := make([][]int, len(levels))
	predicted := make([][]string, len(levels))
	errs := make([]error, len(levels))

	var wg sync.WaitGroup
	for i, level := range levels {
		wg.Add(1)
		go func(i int, level [][]float32) {
			defer wg.Done()
			row := make([]int, nOutput)
			names := make([]string, nOutput)
			for j := 0; j < nOutput; j++ {
				tokenID := r.tokenIDs[r.nInputTokens+j]
				ranking, err := rank.RankOf(r.ctx, r.head, level[r.nInputTokens-1+j], tokenID)
				if err != nil {
					errs[i] = err
					return
				}
				row[j] = ranking
				names[j] = r.tokens[r.nInputTokens+j]
			}
			rankings[i] = row
			predicted[i] = names
		}(i, level)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return view.RankingsData{}, err
		}
	}
	metrics.RecordRankingCells(len(levels) * nOutput)

	return view.RankingsData{
		InputTokens:     append([]string(nil), r.tokens[r.nInputTokens-1:len(r.tokens)-1]...),
		OutputTokens:    append([]string(nil), r.tokens[r.nInputTokens:]...),
		Rankings:        rankings,
		PredictedTokens: predicted,
	}, nil
}

// RankingsWatch ranks a set of candidate token ids at a single position
// across all layers. position -1 means the last position. Rows are layers
// (embedding excluded), columns are watched tokens.
func (r *Record) RankingsWatch(watch []int, position int) (view.RankingsData, error) {
	defer observe("rankings_watch", time.Now())

	if err := r.requireRankable(); err != nil {
		return view.RankingsData{}, err
	}
	if len(watch) == 0 {
		return view.RankingsData{}, fmt.Errorf("watch list is empty: supply at least one token id to rank")
	}
	positions := len(r.hiddenStates[0])
	idx := positions - 1
	if position != -1 {
		if position < 1 || position > positions {
			metrics.RecordValidationError("rankings_watch", "invalid_position")
			return view.RankingsData{}, &saliency.InvalidPositionError{Position: position, Min: 1, Max: positions}
		}
		idx = position - 1
	}

	levels := r.hiddenStates[1:]
	rankings := make([][]int, len(levels))
	errs := make([]error, len(levels))

	var wg sync.WaitGroup
	for i, level := range levels {
		wg.Add(1)
		go func(i int, hidden []float32) {
			defer wg.Done()
			row := make([]int, len(watch))
			for j, tokenID := range watch {
				ranking, err := rank.RankOf(r.ctx, r.head, hidden, tokenID)
				if err != nil {
					errs[i] = err
					return
				}
				row[j] = ranking
			}
			rankings[i] = row
		}(i, level[idx])
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return view.RankingsData{}, err
		}
	}
	metrics.RecordRankingCells(len(levels) * len(watch))

	watched := make([]string, len(watch))
	for j, id := range watch {
		watched[j] = r.tokenText(id)
	}
	return view.RankingsData{
		InputTokens:  append([]string(nil), r.tokens...),
		OutputTokens: watched,
		Rankings:     rankings,
	}, nil
}

// AttentionView packages the head-averaged attention of one layer as a
// saliency-style explorable. The layer index is validated against the
// recorded attention tensors.
func (r *Record) AttentionView(layer int) (view.SaliencyData, error) {
	defer observe("attention", time.Now())

	if len(r.attention) == 0 {
		return view.SaliencyData{}, fmt.Errorf("no attention recorded for this sequence")
	}
	if layer < 0 || layer >= len(r.attention) {
		metrics.RecordValidationError("attention", "invalid_layer_range")
		return view.SaliencyData{}, &nmf.InvalidLayerRangeError{
			Detail: fmt.Sprintf("attention layer %d out of range: recorded layers are 0 to %d", layer, len(r.attention)-1),
		}
	}

	heads := r.attention[layer]
	nHeads := len(heads)
	if nHeads == 0 {
		return view.SaliencyData{}, fmt.Errorf("attention layer %d has no heads", layer)
	}

	// Average over heads.
	nQuery := len(heads[0])
	avg := make([][]float64, nQuery)
	for q := 0; q < nQuery; q++ {
		avg[q] = make([]float64, len(heads[0][q]))
		for h := 0; h < nHeads; h++ {
			for k, v := range heads[h][q] {
				avg[q][k] += float64(v)
			}
		}
		for k := range avg[q] {
			avg[q][k] /= float64(nHeads)
		}
	}

	importanceRow := r.nInputTokens - 1
	if importanceRow < 0 || importanceRow >= nQuery {
		return view.SaliencyData{}, fmt.Errorf("attention covers %d query positions, boundary position %d is outside them", nQuery, importanceRow)
	}

	tokens := make([]view.Token, len(r.tokens))
	for idx, tok := range r.tokens {
		value := 0.0
		if idx < len(avg[importanceRow]) {
			value = avg[importanceRow][idx]
		}
		tokens[idx] = view.Token{
			Token:    tok,
			TokenID:  r.tokenIDs[idx],
			Type:     r.tokenType(idx),
			Value:    view.FormatFloat(value),
			Position: view.IntPtr(idx),
		}
	}
	return view.SaliencyData{Tokens: tokens, Attributions: avg}, nil
}

// RunNMF reshapes the recorded activations per the layer selection and
// factorizes them into component activation curves.
func (r *Record) RunNMF(sel nmf.LayerSelection, cfg nmf.FitConfig) (*nmf.Result, error) {
	defer observe("nmf", time.Now())

	if r.activations == nil {
		return nil, &nmf.EmptyActivationsError{}
	}
	merged, err := nmf.Reshape(r.activations, sel, r.collectedIDs)
	if err != nil {
		return nil, err
	}
	return nmf.Factorize(merged, cfg)
}

// FactorView packages a factorization result as the NMF explorable payload,
// duplicating the boundary value when the sequence mixes input and generated
// tokens.
func (r *Record) FactorView(res *nmf.Result) view.FactorData {
	tokens := make([]view.Token, len(r.tokens))
	for idx, tok := range r.tokens {
		tokens[idx] = view.Token{
			Token:    tok,
			TokenID:  r.tokenIDs[idx],
			Type:     r.tokenType(idx),
			Position: view.IntPtr(idx),
		}
	}
	factors := res.FactorCurves(r.nInputTokens, len(r.tokens))
	return view.FactorData{
		Tokens:  tokens,
		Factors: [][][]float64{factors},
	}
}

func observe(name string, start time.Time) {
	metrics.RecordAnalysis(name, time.Since(start))
}
