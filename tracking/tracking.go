// Package tracking は評価結果を sqlite に記録し、ノイズ条件ごとに比較できるようにする
package tracking

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/malcleanse/malcleanse/metrics"
	"github.com/malcleanse/malcleanse/pkg/errors"
	"github.com/malcleanse/malcleanse/pkg/log"
)

// MemoryDSN はプロセス内だけで完結するデータベース
const MemoryDSN = ":memory:"

// Run は1回の評価結果
type Run struct {
	ID           string `gorm:"type:varchar(36);primaryKey" json:"id"`
	EnsembleName string `gorm:"type:varchar(64);index:idx_ensemble" json:"ensemble_name"`
	EnsembleType string `gorm:"type:varchar(32)" json:"ensemble_type"`
	// NoiseType は学習データのノイズ条件 (例: thr_1_18)
	NoiseType string `gorm:"type:varchar(32);index:idx_noise_type" json:"noise_type"`
	// Model は base / mwo / robust などの学習データの種類
	Model   string `gorm:"type:varchar(32)" json:"model"`
	Dataset string `gorm:"type:varchar(64)" json:"dataset"`

	Samples          int     `json:"samples"`
	Threshold        float64 `json:"threshold"`
	Accuracy         float64 `json:"accuracy"`
	BalancedAccuracy float64 `json:"balanced_accuracy"`
	FNR              float64 `json:"fnr"`
	FPR              float64 `json:"fpr"`
	F1               float64 `json:"f1"`
	SingleClass      bool    `json:"single_class"`

	CreatedAt time.Time `json:"created_at"`
}

// NewRun は評価レポートから Run を組み立てる
func NewRun(ensembleName, ensembleType, noiseType, modelKind, dataset string, samples int, threshold float64, report metrics.Report) *Run {
	return &Run{
		EnsembleName:     ensembleName,
		EnsembleType:     ensembleType,
		NoiseType:        noiseType,
		Model:            modelKind,
		Dataset:          dataset,
		Samples:          samples,
		Threshold:        threshold,
		Accuracy:         report.Accuracy,
		BalancedAccuracy: report.BalancedAccuracy,
		FNR:              report.FNR,
		FPR:              report.FPR,
		F1:               report.F1,
		SingleClass:      report.SingleClass,
	}
}

// Store は評価結果のリポジトリ
type Store struct {
	db     *gorm.DB
	logger log.Logger
}

// Open は dsn の sqlite を開いてテーブルを移行する
// dsn がファイルパスの場合は親ディレクトリを作成する
func Open(dsn string, lg log.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.NewConfigurationError("tracking.Open", "tracking.dsn", "dsn is required")
	}
	if dsn != MemoryDSN {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create directory for %s", dsn)
		}
	}
	if lg == nil {
		lg = log.Nop()
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open tracking database %s", dsn)
	}
	if dsn == MemoryDSN {
		// 接続ごとに別の DB になるため1本に固定する
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "tracking database handle")
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Run{}); err != nil {
		return nil, errors.Wrap(err, "migrate tracking database")
	}

	return &Store{db: db, logger: lg.With(log.ComponentKey, "tracking")}, nil
}

// Record は run を保存する。ID が空なら UUID を割り当てる
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return errors.Wrapf(err, "record run %s", run.ID)
	}
	s.logger.Debug("Evaluation recorded",
		"run.id", run.ID,
		log.NoiseTypeKey, run.NoiseType,
		log.DatasetKey, run.Dataset,
	)
	return nil
}

// Get は ID で run を取得する
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewArtifactNotFoundError("evaluation run", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get run %s", id)
	}
	return &run, nil
}

// ListByNoiseType はノイズ条件の run を記録順に返す
func (s *Store) ListByNoiseType(ctx context.Context, noiseType string) ([]Run, error) {
	var runs []Run
	err := s.db.WithContext(ctx).
		Where("noise_type = ?", noiseType).
		Order("created_at ASC").
		Find(&runs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list runs for %s", noiseType)
	}
	return runs, nil
}

// Close はデータベース接続を閉じる
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrap(err, "tracking database handle")
	}
	return sqlDB.Close()
}
