// Package app wires configuration, logging and storage for the command line
// drivers under cmd/.
package app

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/dataset"
	"github.com/malcleanse/malcleanse/ensemble"
	"github.com/malcleanse/malcleanse/feature"
	"github.com/malcleanse/malcleanse/feature/callgraph"
	"github.com/malcleanse/malcleanse/pkg/config"
	"github.com/malcleanse/malcleanse/pkg/errors"
	"github.com/malcleanse/malcleanse/pkg/log"
	"github.com/malcleanse/malcleanse/preprocessing"
)

// App holds the process-wide configuration and log sink.
type App struct {
	Config *config.Config
	sink   *log.Sink
}

// Setup loads the config at path (may be empty) and opens the log sink.
func Setup(path string) (*App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	sink, err := log.Open(cfg.Log.Sink())
	if err != nil {
		return nil, err
	}
	return &App{Config: cfg, sink: sink}, nil
}

// Close flushes and detaches the log sink.
func (a *App) Close() error { return a.sink.Close() }

// Logger returns a component logger.
func (a *App) Logger(name string) log.Logger { return a.sink.Logger(name) }

// Context is cancelled on SIGINT or SIGTERM.
func (a *App) Context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ModelDir is the directory of the model trained on split.
func (a *App) ModelDir(split string) string {
	return filepath.Join(a.Config.Ensemble.ModelDir, split)
}

// Ensemble builds the configured ensemble for split.
func (a *App) Ensemble(split string) (*ensemble.Ensemble, error) {
	return ensemble.FromConfig(a.Config,
		ensemble.WithModelDirectory(a.ModelDir(split)),
		ensemble.WithLogger(a.Logger("ensemble").With(log.NoiseTypeKey, split)),
	)
}

// Pipeline returns the drebin feature pipeline. extractor may be nil when
// only cached features are read.
func (a *App) Pipeline(extractor feature.Extractor, opts ...feature.PipelineOption) (*feature.Pipeline, error) {
	opts = append([]feature.PipelineOption{feature.WithPipelineLogger(a.Logger("feature"))}, opts...)
	return feature.NewPipeline(a.Config.Feature, extractor, opts...)
}

// Split is the feature matrix and labels of one manifest entry.
type Split struct {
	X      *mat.Dense
	Labels []float64
}

// DrebinSplit maps the split manifest onto the vocabulary vocabKey. With
// training set, noisy labels are used and a missing vocabulary is built.
func (a *App) DrebinSplit(p *feature.Pipeline, split, vocabKey string, training bool) (*Split, error) {
	m, err := feature.LoadManifest(a.Config.Feature.MetaDir, split)
	if err != nil {
		return nil, err
	}
	paths := m.FeaturePaths(a.Config.Feature.NaiveDir, a.Config.Feature.FileExt)
	labels := m.GTLabels
	if training {
		labels = m.TrainingLabels()
		if err := p.Preprocess(paths, labels, vocabKey); err != nil {
			return nil, err
		}
	}
	x, kept, err := p.ToMatrix(paths, vocabKey)
	if err != nil {
		return nil, err
	}
	y := make([]float64, len(kept))
	for i, k := range kept {
		y[i] = labels[k]
	}
	return &Split{X: x, Labels: y}, nil
}

// CentralitySplit reads <meta_dir>/<split>_<kind>_malscan_features.csv and
// standardizes it. With training set the scaler is fitted and saved to
// scalerDir, otherwise it is loaded from there.
func (a *App) CentralitySplit(split string, kind callgraph.Kind, scalerDir string, training bool) (*Split, error) {
	frame, err := dataset.ReadCSV(callgraph.CSVPath(a.Config.Feature.MetaDir, split, kind))
	if err != nil {
		return nil, err
	}

	var scaler *preprocessing.StandardScaler
	if training {
		scaler = preprocessing.NewStandardScaler(true, true)
		if err := scaler.Fit(frame.X); err != nil {
			return nil, err
		}
		if err := scaler.Save(scalerDir); err != nil {
			return nil, err
		}
	} else if scaler, err = preprocessing.LoadStandardScaler(scalerDir); err != nil {
		return nil, err
	}

	xs, err := scaler.Transform(frame.X)
	if err != nil {
		return nil, err
	}
	dense, ok := xs.(*mat.Dense)
	if !ok {
		return nil, errors.Newf("unexpected matrix type %T", xs)
	}
	return &Split{X: dense, Labels: frame.Y}, nil
}

// Dataset wraps s with the configured batching.
func (a *App) Dataset(s *Split) (*dataset.Dataset, error) {
	return dataset.New(s.X, s.Labels,
		dataset.WithBatchSize(a.Config.Train.BatchSize),
		dataset.WithShuffle(true),
		dataset.WithSeed(a.Config.Train.RandomSeed),
	)
}
