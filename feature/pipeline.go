package feature

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/core/model"
	"github.com/malcleanse/malcleanse/dataset"
	"github.com/malcleanse/malcleanse/pkg/config"
	"github.com/malcleanse/malcleanse/pkg/errors"
	"github.com/malcleanse/malcleanse/pkg/log"
)

// Extractor produces the raw drebin string features of one APK.
type Extractor interface {
	Extract(ctx context.Context, apkPath string) ([]string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, apkPath string) ([]string, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, apkPath string) ([]string, error) {
	return f(ctx, apkPath)
}

// Sample is a successfully extracted APK.
type Sample struct {
	APK         string
	SHA256      string
	FeaturePath string
}

// Pipeline extracts, caches and vectorizes drebin features.
type Pipeline struct {
	extractor Extractor
	cfg       config.FeatureConfig
	vocab     *VocabStore
	metrics   *Metrics
	logger    log.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger.
func WithPipelineLogger(logger log.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the progress counters.
func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline creates the naive and meta directories and returns a pipeline.
func NewPipeline(cfg config.FeatureConfig, extractor Extractor, opts ...PipelineOption) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	for _, dir := range []string{cfg.NaiveDir, cfg.MetaDir} {
		if dir == "" {
			return nil, errors.NewConfigurationError("NewPipeline", "naive_dir/meta_dir", "directory is required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create %s", dir)
		}
	}
	p := &Pipeline{
		extractor: extractor,
		cfg:       cfg,
		vocab:     NewVocabStore(cfg.MetaDir),
		logger:    log.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics("", nil)
	}
	p.logger = p.logger.With(log.ComponentKey, "feature")
	return p, nil
}

// Vocab returns the vocabulary store.
func (p *Pipeline) Vocab() *VocabStore { return p.vocab }

// ListSamples returns the files under root with the given extension, or root
// itself when it is a file.
func ListSamples(root, ext string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewArtifactNotFoundError("sample directory", root)
		}
		return nil, errors.Wrapf(err, "stat %s", root)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && (ext == "" || strings.EqualFold(filepath.Ext(path), ext)) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", root)
	}
	if len(paths) == 0 {
		return nil, errors.NewValueError("ListSamples", "no samples under "+root)
	}
	return paths, nil
}

// Extract runs the extractor on every APK with a fixed-size worker pool.
// Results are cached as <naive_dir>/<sha256><ext> and reused unless Update is
// set. A failing sample is logged and skipped. The returned samples keep the
// input order.
func (p *Pipeline) Extract(ctx context.Context, apkPaths []string) ([]Sample, error) {
	if p.extractor == nil {
		return nil, errors.NewConfigurationError("Pipeline.Extract", "extractor", "no extractor configured")
	}
	results := make([]*Sample, len(apkPaths))
	logger := p.logger.With(log.OperationKey, log.OperationExtract)

	wp := pool.New().WithMaxGoroutines(p.cfg.Workers)
	for i, apk := range apkPaths {
		wp.Go(func() {
			if ctx.Err() != nil {
				return
			}
			s, cached, err := p.extractOne(ctx, apk)
			if err != nil {
				p.metrics.record(StatusFailed)
				logger.Warn("Feature extraction failed", log.ErrAttrKey, err, log.SamplePathKey, apk)
				errors.Warn(errors.NewSkippedSampleWarning(apk, err.Error()))
				return
			}
			if cached {
				p.metrics.record(StatusCached)
			} else {
				p.metrics.record(StatusExtracted)
			}
			results[i] = s
		})
	}
	wp.Wait()
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "feature extraction cancelled")
	}

	samples := make([]Sample, 0, len(results))
	for _, s := range results {
		if s != nil {
			samples = append(samples, *s)
		}
	}
	logger.Info("Feature extraction finished",
		log.SamplesKey, len(apkPaths),
		"samples.ok", len(samples),
	)
	return samples, nil
}

func (p *Pipeline) extractOne(ctx context.Context, apk string) (s *Sample, cached bool, err error) {
	err = errors.SafeExecute("feature.Extract", func() error {
		sum, err := FileSHA256(apk)
		if err != nil {
			return err
		}
		save := filepath.Join(p.cfg.NaiveDir, sum+p.cfg.FileExt)
		s = &Sample{APK: apk, SHA256: sum, FeaturePath: save}
		if model.Exists(save) && !p.cfg.Update {
			cached = true
			return nil
		}
		features, err := p.extractor.Extract(ctx, apk)
		if err != nil {
			return err
		}
		if features == nil {
			features = []string{}
		}
		return model.SaveJSON(features, save)
	})
	if err != nil {
		return nil, false, err
	}
	return s, cached, nil
}

// LoadFeatures reads cached feature lists concurrently. Unreadable files are
// logged and skipped; kept holds the indices of the files that were read.
func (p *Pipeline) LoadFeatures(featurePaths []string) (features [][]string, kept []int) {
	loaded := make([][]string, len(featurePaths))
	ok := make([]bool, len(featurePaths))
	var mu sync.Mutex

	wp := pool.New().WithMaxGoroutines(p.cfg.Workers)
	for i, path := range featurePaths {
		wp.Go(func() {
			var fl []string
			if err := model.LoadJSON(&fl, path, "feature list"); err != nil {
				p.logger.Warn("Failed to load features", log.ErrAttrKey, err, log.SamplePathKey, path)
				return
			}
			mu.Lock()
			loaded[i], ok[i] = fl, true
			mu.Unlock()
		})
	}
	wp.Wait()

	for i := range featurePaths {
		if ok[i] {
			features = append(features, loaded[i])
			kept = append(kept, i)
		}
	}
	return features, kept
}

// Preprocess builds and saves the vocabulary of noiseType from the training
// feature files. An existing vocabulary is kept unless Update is set.
func (p *Pipeline) Preprocess(featurePaths []string, labels []float64, noiseType string) error {
	if p.vocab.Exists(noiseType) && !p.cfg.Update {
		return nil
	}
	if len(featurePaths) != len(labels) {
		return errors.NewDimensionError("Preprocess", len(featurePaths), len(labels), 0)
	}
	features, kept := p.LoadFeatures(featurePaths)
	if len(features) == 0 {
		return errors.ErrEmptyData
	}
	y := make([]float64, len(kept))
	for i, k := range kept {
		y[i] = labels[k]
	}

	candidates := Vocabulary(features, MaxVocabulary)
	selected, err := Select(features, y, candidates, p.cfg.VocabSize)
	if err != nil {
		return err
	}
	if err := p.vocab.Save(noiseType, selected); err != nil {
		return err
	}
	p.logger.Info("Vocabulary saved",
		log.NoiseTypeKey, noiseType,
		log.FeaturesKey, len(selected),
		"path", p.vocab.Path(noiseType),
	)
	return nil
}

// ToMatrix maps feature files onto the saved vocabulary of noiseType.
func (p *Pipeline) ToMatrix(featurePaths []string, noiseType string) (*mat.Dense, []int, error) {
	vocab, err := p.vocab.Load(noiseType)
	if err != nil {
		return nil, nil, err
	}
	features, kept := p.LoadFeatures(featurePaths)
	x, err := Representation(features, vocab)
	if err != nil {
		return nil, nil, err
	}
	return x, kept, nil
}

// ToInput returns a labelled dataset over the vocabulary of noiseType. When
// that vocabulary does not exist yet it is built from these samples first.
func (p *Pipeline) ToInput(featurePaths []string, labels []float64, noiseType string, opts ...dataset.Option) (*dataset.Dataset, error) {
	if len(featurePaths) != len(labels) {
		return nil, errors.NewDimensionError("ToInput", len(featurePaths), len(labels), 0)
	}
	if !p.vocab.Exists(noiseType) {
		if err := p.Preprocess(featurePaths, labels, noiseType); err != nil {
			return nil, err
		}
	}
	x, kept, err := p.ToMatrix(featurePaths, noiseType)
	if err != nil {
		return nil, err
	}
	y := make([]float64, len(kept))
	for i, k := range kept {
		y[i] = labels[k]
	}
	return dataset.New(x, y, opts...)
}
