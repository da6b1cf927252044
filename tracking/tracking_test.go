package tracking

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malcleanse/malcleanse/metrics"
	"github.com/malcleanse/malcleanse/pkg/errors"
	"github.com/malcleanse/malcleanse/pkg/log"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(MemoryDSN, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// TestStore_RecordAndGet 記録した run を ID で取得できること
func TestStore_RecordAndGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	report := metrics.Report{Accuracy: 0.9, BalancedAccuracy: 0.85, FNR: 0.1, FPR: 0.2, F1: 0.88}
	run := NewRun("vanilla", "vanilla", "thr_1_18", "robust", "ransomware", 120, 0.5, report)
	require.NoError(t, s.Record(ctx, run))
	assert.Len(t, run.ID, 36)

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "ransomware", got.Dataset)
	assert.Equal(t, "robust", got.Model)
	assert.Equal(t, 120, got.Samples)
	assert.InDelta(t, 0.85, got.BalancedAccuracy, 1e-12)
	assert.False(t, got.CreatedAt.IsZero())
}

// TestStore_GetMissing 存在しない ID は ArtifactNotFoundError
func TestStore_GetMissing(t *testing.T) {
	s := setupStore(t)

	_, err := s.Get(context.Background(), "00000000-0000-0000-0000-000000000000")
	var notFound *errors.ArtifactNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

// TestStore_ListByNoiseType ノイズ条件で絞り込めること
func TestStore_ListByNoiseType(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, ds := range []string{"ransomware", "adware"} {
		require.NoError(t, s.Record(ctx, NewRun("vanilla", "vanilla", "thr_1_18", "mwo", ds, 10, 0.5, metrics.Report{})))
	}
	require.NoError(t, s.Record(ctx, NewRun("vanilla", "vanilla", "thr_2_18", "mwo", "ransomware", 10, 0.5, metrics.Report{})))

	runs, err := s.ListByNoiseType(ctx, "thr_1_18")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	datasets := []string{runs[0].Dataset, runs[1].Dataset}
	assert.ElementsMatch(t, []string{"ransomware", "adware"}, datasets)

	runs, err = s.ListByNoiseType(ctx, "thr_9_99")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// TestOpen_File ファイル DSN では親ディレクトリを作成し、再オープン後も残ること
func TestOpen_File(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "nested", "runs.db")
	logger, _ := log.NewTestLogger(log.LevelDebug)

	s, err := Open(dsn, logger)
	require.NoError(t, err)
	run := NewRun("deep", "deep_ensemble", "thr_1_18", "base", "trojan", 5, 0.5, metrics.Report{SingleClass: true})
	require.NoError(t, s.Record(context.Background(), run))
	require.NoError(t, s.Close())
	assert.True(t, logger.ContainsMessage("Evaluation recorded"))

	s, err = Open(dsn, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, got.SingleClass)
}

// TestOpen_EmptyDSN DSN なしは設定エラー
func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open("", nil)
	var cfgErr *errors.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}
