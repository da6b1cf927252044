package ensemble

import (
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// EpochRecord は1エポック分のメンバー平均の学習結果
type EpochRecord struct {
	Epoch         int
	TrainAccuracy float64
	TrainLoss     float64
	ValAccuracy   float64
	ValLoss       float64
}

// TrainingLog はエポックごとの記録を追記のみで保持する
type TrainingLog struct {
	mu      sync.RWMutex
	records []EpochRecord
}

// Append は記録を末尾に追加する
func (l *TrainingLog) Append(r EpochRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
}

// Len は記録数を返す
func (l *TrainingLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Records は記録のコピーを返す
func (l *TrainingLog) Records() []EpochRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]EpochRecord(nil), l.records...)
}

// Plot は正解率と損失の推移を path に描画する。形式は拡張子で決まる (png, svg, pdf)。
func (l *TrainingLog) Plot(path string) error {
	records := l.Records()
	if len(records) == 0 {
		return errors.ErrEmptyData
	}

	p := plot.New()
	p.Title.Text = "Training history"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "value"

	series := func(get func(EpochRecord) float64) plotter.XYs {
		pts := make(plotter.XYs, len(records))
		for i, r := range records {
			pts[i].X = float64(r.Epoch + 1)
			pts[i].Y = get(r)
		}
		return pts
	}
	if err := plotutil.AddLinePoints(p,
		"train accuracy", series(func(r EpochRecord) float64 { return r.TrainAccuracy }),
		"val accuracy", series(func(r EpochRecord) float64 { return r.ValAccuracy }),
		"train loss", series(func(r EpochRecord) float64 { return r.TrainLoss }),
		"val loss", series(func(r EpochRecord) float64 { return r.ValLoss }),
	); err != nil {
		return errors.Wrap(err, "failed to add training curves")
	}
	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "failed to save plot to %s", path)
	}
	return nil
}
