// Command train fits the configured ensemble on the MalWhiteout-cleaned and
// robust-cleaned variants of a label-noise split.
//
//	train -config malcleanse.yaml -noise_type thr_1_18
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/malcleanse/malcleanse/ensemble"
	"github.com/malcleanse/malcleanse/feature/callgraph"
	"github.com/malcleanse/malcleanse/internal/app"
	"github.com/malcleanse/malcleanse/pkg/config"
	"github.com/malcleanse/malcleanse/pkg/log"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	noiseType := flag.String("noise_type", "thr_1_18", "label-noise split thr_<index>_<ratio>")
	centrality := flag.String("centrality", "", "train on MalScan centrality CSVs (degree, katz, closeness, harmonic) instead of drebin features")
	flag.Parse()

	if err := run(*configPath, *noiseType, *centrality); err != nil {
		fmt.Fprintf(os.Stderr, "train: %+v\n", err)
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
	logger := a.Logger("train")

	pipeline, err := a.Pipeline(nil)
	if err != nil {
		return err
	}

	for _, split := range []string{tag.MWO(), tag.Robust()} {
		e, err := a.Ensemble(split)
		if err != nil {
			return err
		}

		var data *app.Split
		if kind != "" {
			data, err = a.CentralitySplit(split, kind, e.SaveDir(), true)
		} else {
			data, err = a.DrebinSplit(pipeline, split, split, true)
		}
		if err != nil {
			return err
		}
		ds, err := a.Dataset(data)
		if err != nil {
			return err
		}

		logger.Info("Training started",
			log.NoiseTypeKey, split,
			log.EnsembleNameKey, e.Name(),
			log.SamplesKey, ds.Len(),
			log.FeaturesKey, ds.Dim(),
		)
		result, err := e.Fit(ctx, ds, ds, ensemble.FitOptions{Epochs: a.Config.Train.Epochs})
		if err != nil {
			return err
		}

		plotPath := filepath.Join(e.SaveDir(), "training.png")
		if err := result.Log.Plot(plotPath); err != nil {
			logger.Warn("Training curve not written", log.ErrAttrKey, err)
		}
		logger.Info("Training finished",
			log.NoiseTypeKey, split,
			log.MemberCountKey, e.NMembers(),
			"model.dir", e.SaveDir(),
		)
	}
	return nil
}
