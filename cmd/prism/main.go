package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/23skdu/longbow-prism/internal/arrow_client"
	"github.com/23skdu/longbow-prism/internal/config"
	"github.com/23skdu/longbow-prism/internal/logger"
	"github.com/23skdu/longbow-prism/internal/nmf"
	"github.com/23skdu/longbow-prism/internal/seq"
	"github.com/23skdu/longbow-prism/internal/view"
)

var (
	capturePath = flag.String("capture", "", "Path to a sequence capture JSON file")
	analysis    = flag.String("analysis", "explorable", "Analysis to run: explorable, position, saliency, layer-predictions, rankings, rankings-watch, attention, nmf")
	position    = flag.Int("position", -1, "Sequence position for position/layer-predictions/rankings-watch")
	topk        = flag.Int("topk", 10, "Top-k size for layer-predictions")
	layer       = flag.Int("layer", -1, "Restrict to one layer (-1 = all) for layer-predictions/attention")
	watch       = flag.String("watch", "", "Comma-separated token ids for rankings-watch")
	method      = flag.String("method", seq.DefaultAttributionMethod, "Attribution method for position/saliency")
	components  = flag.Int("components", 10, "Number of NMF components")
	fromLayer   = flag.Int("from-layer", -1, "NMF layer range start (inclusive)")
	toLayer     = flag.Int("to-layer", -1, "NMF layer range end (exclusive)")
	seed        = flag.Int64("seed", 0, "NMF random seed")
	outPath     = flag.String("out", "", "Write view-data JSON to this file instead of stdout")
	arrowPath   = flag.String("arrow", "", "Also write rankings/nmf output as an Arrow IPC file")
	flightAddr  = flag.String("flight", "", "Also push rankings/nmf output to this Arrow Flight host:port")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat   = flag.String("log-format", "console", "Log format: console or json")
)

func main() {
	flag.Parse()
	logger.Setup(*logLevel, *logFormat)
	log := logger.Log.Component("prism")

	if *capturePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --capture flag is required")
		flag.Usage()
		os.Exit(1)
	}

	rec, err := seq.LoadFile(*capturePath)
	if err != nil {
		log.Error("load capture", "path", *capturePath, "err", err)
		os.Exit(1)
	}
	log.Info("loaded capture", "path", *capturePath, "tokens", rec.Len(), "layers", rec.NLayers())

	result, err := run(rec, log)
	if err != nil {
		log.Error("analysis failed", "analysis", *analysis, "err", err)
		os.Exit(1)
	}

	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Error("encode view-data", "err", err)
		os.Exit(1)
	}
	if *outPath == "" {
		fmt.Println(string(raw))
	} else if err := os.WriteFile(*outPath, raw, 0o644); err != nil {
		log.Error("write output", "path", *outPath, "err", err)
		os.Exit(1)
	}
}

func run(rec *seq.Record, log *logger.Logger) (interface{}, error) {
	switch *analysis {
	case "explorable":
		return rec.Explorable(), nil

	case "position":
		return rec.PositionView(*position, *method)

	case "saliency":
		return rec.Saliency(*method)

	case "layer-predictions":
		var only *int
		if *layer >= 0 {
			only = layer
		}
		pos := *position
		if pos < 0 {
			pos = 1
		}
		return rec.LayerPredictions(pos, *topk, only)

	case "rankings":
		data, err := rec.Rankings()
		if err != nil {
			return nil, err
		}
		return data, exportRankings(data, log)

	case "rankings-watch":
		ids, err := parseWatch(*watch)
		if err != nil {
			return nil, err
		}
		data, err := rec.RankingsWatch(ids, *position)
		if err != nil {
			return nil, err
		}
		return data, exportRankings(data, log)

	case "attention":
		l := *layer
		if l < 0 {
			l = 0
		}
		return rec.AttentionView(l)

	case "nmf":
		sel := nmf.AllLayers()
		if *fromLayer >= 0 || *toLayer >= 0 {
			sel = nmf.Range(*fromLayer, *toLayer)
		}
		cfg := nmf.FitConfig{
			Components: *components,
			MaxIter:    config.Default().NMFMaxIter,
			Tol:        config.Default().NMFTol,
			Seed:       *seed,
		}
		res, err := rec.RunNMF(sel, cfg)
		if err != nil {
			return nil, err
		}
		for i := 0; i < res.NumComponents(); i++ {
			mean, std := res.ComponentStats(i)
			log.Debug("component", "index", i, "mean", mean, "std", std)
		}
		data := rec.FactorView(res)
		return data, exportFactors(data, log)

	default:
		return nil, fmt.Errorf("unknown analysis %q", *analysis)
	}
}

func exportRankings(data view.RankingsData, log *logger.Logger) error {
	if *arrowPath == "" && *flightAddr == "" {
		return nil
	}
	rec := arrow_client.NewExporter().RankingsRecord(data)
	defer rec.Release()
	return export(rec, "rankings", log)
}

func exportFactors(data view.FactorData, log *logger.Logger) error {
	if *arrowPath == "" && *flightAddr == "" {
		return nil
	}
	rec := arrow_client.NewExporter().FactorRecord(data)
	defer rec.Release()
	return export(rec, "factors", log)
}

func export(rec arrow.Record, name string, log *logger.Logger) error {
	if *arrowPath != "" {
		if err := arrow_client.WriteIPCFile(*arrowPath, rec); err != nil {
			return err
		}
		log.Info("wrote arrow file", "path", *arrowPath, "rows", rec.NumRows())
	}
	if *flightAddr != "" {
		host, port, err := splitHostPort(*flightAddr)
		if err != nil {
			return err
		}
		fc := arrow_client.NewFlightClient(host, port)
		if err := fc.Connect(); err != nil {
			return err
		}
		defer fc.Close()
		if err := fc.DoPut(context.Background(), name, rec); err != nil {
			return err
		}
		log.Info("pushed to flight", "addr", *flightAddr, "name", name)
	}
	return nil
}

func parseWatch(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("--watch is required for rankings-watch (comma-separated token ids)")
	}
	parts := strings.Split(s, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid watch token id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func splitHostPort(addr string) (string, int, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return addr, 0, nil
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid flight address %q: %w", addr, err)
	}
	return addr[:i], port, nil
}
