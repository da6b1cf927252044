// Command evaluate compares the base, MalWhiteout and robust models of a
// label-noise split on each held-out malware family and records the results.
//
//	evaluate -config malcleanse.yaml -noise_type thr_1_18
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/malcleanse/malcleanse/feature"
	"github.com/malcleanse/malcleanse/feature/callgraph"
	"github.com/malcleanse/malcleanse/internal/app"
	"github.com/malcleanse/malcleanse/pkg/config"
	"github.com/malcleanse/malcleanse/pkg/errors"
	"github.com/malcleanse/malcleanse/pkg/log"
	"github.com/malcleanse/malcleanse/tracking"
)

const threshold = 0.5

func main() {
	configPath := flag.String("config", "", "YAML config file")
	noiseType := flag.String("noise_type", "thr_1_18", "label-noise split thr_<index>_<ratio>")
	centrality := flag.String("centrality", "", "evaluate models trained on MalScan centrality CSVs")
	flag.Parse()

	if err := run(*configPath, *noiseType, *centrality); err != nil {
		fmt.Fprintf(os.Stderr, "evaluate: %+v\n", err)
		os.Exit(1)
	}
}

func run(configPath, noiseType, centrality string) error {
	a, err := app.Setup(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	tag, err := config.ParseNoiseType(noiseType)
	if err != nil {
		return err
	}
	var kind callgraph.Kind
	if centrality != "" {
		if kind, err = callgraph.ParseKind(centrality); err != nil {
			return err
		}
	}

	ctx, cancel := a.Context()
	defer cancel()
	logger := a.Logger("evaluate")

	store, err := tracking.Open(a.Config.Tracking.DSN, a.Logger("tracking"))
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline, err := a.Pipeline(nil)
	if err != nil {
		return err
	}

	models := []struct {
		kind  string
		split string
	}{
		{"base", tag.String()},
		{"mwo", tag.MWO()},
		{"robust", tag.Robust()},
	}

	failed := 0
	for _, family := range config.EvaluationFamilies {
		for _, m := range models {
			if err := ctx.Err(); err != nil {
				return errors.Wrap(err, "evaluation cancelled")
			}
			err := evaluate(ctx, a, store, pipeline, tag, kind, family, m.kind, m.split)
			if err != nil {
				failed++
				logger.Error("Evaluation failed", err,
					log.DatasetKey, family,
					"model", m.kind,
					log.NoiseTypeKey, m.split,
				)
			}
		}
	}

	if failed > 0 {
		return errors.Newf("%d of %d evaluations failed", failed, len(config.EvaluationFamilies)*len(models))
	}
	return nil
}

func evaluate(ctx context.Context, a *app.App, store *tracking.Store, pipeline *feature.Pipeline,
	tag config.NoiseTag, kind callgraph.Kind, family, modelKind, split string) error {
	e, err := a.Ensemble(split)
	if err != nil {
		return err
	}

	var data *app.Split
	if kind != "" {
		data, err = a.CentralitySplit(family, kind, e.SaveDir(), false)
	} else {
		data, err = a.DrebinSplit(pipeline, family, split, false)
	}
	if err != nil {
		return err
	}

	_, report, err := e.Evaluate(data.X, data.Labels, threshold, family)
	if err != nil {
		return err
	}
	run := tracking.NewRun(e.Name(), e.Type(), tag.String(), modelKind, family, len(data.Labels), threshold, report)
	return store.Record(ctx, run)
}
