package feature

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malcleanse/malcleanse/pkg/config"
	"github.com/malcleanse/malcleanse/pkg/errors"
	"github.com/malcleanse/malcleanse/pkg/log"
)

// writeAPKs creates fake APK files whose content is the comma-joined feature list.
func writeAPKs(t *testing.T, dir string, contents ...string) []string {
	t.Helper()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, fmt.Sprintf("sample%d.apk", i))
		require.NoError(t, os.WriteFile(paths[i], []byte(c), 0o644))
	}
	return paths
}

// contentExtractor returns the file content split on commas and fails on "broken".
type contentExtractor struct {
	calls atomic.Int32
}

func (e *contentExtractor) Extract(_ context.Context, apkPath string) ([]string, error) {
	e.calls.Add(1)
	data, err := os.ReadFile(apkPath)
	if err != nil {
		return nil, err
	}
	if string(data) == "broken" {
		return nil, errors.New("apktool exited with status 1")
	}
	return strings.Split(string(data), ","), nil
}

func newTestPipeline(t *testing.T, update bool, ex Extractor) (*Pipeline, *Metrics, *log.TestLogger) {
	t.Helper()
	root := t.TempDir()
	cfg := config.FeatureConfig{
		NaiveDir:  filepath.Join(root, "naive"),
		MetaDir:   filepath.Join(root, "meta"),
		FileExt:   ".drebin",
		Workers:   3,
		VocabSize: 10,
		Update:    update,
	}
	metrics := NewMetrics("test", prometheus.NewRegistry())
	logger, _ := log.NewTestLogger(log.LevelDebug)
	p, err := NewPipeline(cfg, ex, WithPipelineLogger(logger), WithMetrics(metrics))
	require.NoError(t, err)
	return p, metrics, logger
}

func TestNewPipeline_RequiresDirectories(t *testing.T) {
	_, err := NewPipeline(config.FeatureConfig{}, &contentExtractor{})
	require.Error(t, err)

	var cfgErr *errors.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestPipeline_ExtractCachesBySHA256(t *testing.T) {
	ex := &contentExtractor{}
	p, metrics, logger := newTestPipeline(t, false, ex)
	apks := writeAPKs(t, t.TempDir(), "a,b", "broken", "b,c")

	samples, err := p.Extract(context.Background(), apks)
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, apks[0], samples[0].APK)
	assert.Equal(t, apks[2], samples[1].APK)

	sum, err := FileSHA256(apks[0])
	require.NoError(t, err)
	assert.Equal(t, sum, samples[0].SHA256)
	assert.Equal(t, filepath.Join(p.cfg.NaiveDir, sum+".drebin"), samples[0].FeaturePath)

	counter := metrics.Collector()
	assert.Equal(t, 2.0, testutil.ToFloat64(counter.WithLabelValues(StatusExtracted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter.WithLabelValues(StatusFailed)))
	assert.True(t, logger.ContainsMessage("Feature extraction failed"))
	assert.True(t, logger.ContainsField(log.SamplePathKey, apks[1]))

	// Second run hits the cache for the good samples.
	calls := ex.calls.Load()
	samples, err = p.Extract(context.Background(), apks)
	require.NoError(t, err)
	assert.Len(t, samples, 2)
	assert.Equal(t, calls+1, ex.calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(counter.WithLabelValues(StatusCached)))
}

func TestPipeline_ExtractUpdateIgnoresCache(t *testing.T) {
	ex := &contentExtractor{}
	p, _, _ := newTestPipeline(t, true, ex)
	apks := writeAPKs(t, t.TempDir(), "a", "b")

	_, err := p.Extract(context.Background(), apks)
	require.NoError(t, err)
	_, err = p.Extract(context.Background(), apks)
	require.NoError(t, err)
	assert.Equal(t, int32(4), ex.calls.Load())
}

func TestPipeline_ExtractRecoversPanics(t *testing.T) {
	ex := ExtractorFunc(func(context.Context, string) ([]string, error) {
		panic("decoder crashed")
	})
	p, metrics, _ := newTestPipeline(t, false, ex)
	apks := writeAPKs(t, t.TempDir(), "a")

	samples, err := p.Extract(context.Background(), apks)
	require.NoError(t, err)
	assert.Empty(t, samples)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Collector().WithLabelValues(StatusFailed)))
}

func TestPipeline_ExtractCancelled(t *testing.T) {
	p, _, _ := newTestPipeline(t, false, &contentExtractor{})
	apks := writeAPKs(t, t.TempDir(), "a", "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Extract(ctx, apks)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_LoadFeaturesKeepsIndices(t *testing.T) {
	p, _, _ := newTestPipeline(t, false, &contentExtractor{})
	samples, err := p.Extract(context.Background(), writeAPKs(t, t.TempDir(), "a,b", "c"))
	require.NoError(t, err)

	paths := []string{samples[0].FeaturePath, filepath.Join(p.cfg.NaiveDir, "missing.drebin"), samples[1].FeaturePath}
	features, kept := p.LoadFeatures(paths)
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, features)
	assert.Equal(t, []int{0, 2}, kept)
}

func TestPipeline_ToInput(t *testing.T) {
	p, _, logger := newTestPipeline(t, false, &contentExtractor{})
	samples, err := p.Extract(context.Background(), writeAPKs(t, t.TempDir(), "a,b", "a", "b", "b,d"))
	require.NoError(t, err)
	require.Len(t, samples, 4)

	paths := make([]string, len(samples))
	for i, s := range samples {
		paths[i] = s.FeaturePath
	}
	labels := []float64{1, 1, 0, 0}

	ds, err := p.ToInput(paths, labels, "thr_1_18")
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Len())
	assert.Equal(t, 3, ds.Dim())
	assert.Equal(t, labels, ds.Labels())
	assert.True(t, p.Vocab().Exists("thr_1_18"))
	assert.True(t, logger.ContainsMessage("Vocabulary saved"))

	vocab, err := p.Vocab().Load("thr_1_18")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "d"}, vocab)

	x, kept, err := p.ToMatrix(paths[:1], "thr_1_18")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, kept)
	_, cols := x.Dims()
	assert.Equal(t, len(vocab), cols)
}

func TestPipeline_ToMatrixWithoutVocabulary(t *testing.T) {
	p, _, _ := newTestPipeline(t, false, &contentExtractor{})

	_, _, err := p.ToMatrix([]string{"x.drebin"}, "thr_2_18")
	var notFound *errors.ArtifactNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestListSamples(t *testing.T) {
	dir := t.TempDir()
	apks := writeAPKs(t, dir, "a", "b")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	got, err := ListSamples(dir, ".apk")
	require.NoError(t, err)
	assert.ElementsMatch(t, apks, got)

	got, err = ListSamples(apks[0], ".apk")
	require.NoError(t, err)
	assert.Equal(t, []string{apks[0]}, got)

	_, err = ListSamples(filepath.Join(dir, "absent"), ".apk")
	assert.Error(t, err)
}
