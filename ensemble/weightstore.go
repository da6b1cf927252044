package ensemble

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/malcleanse/malcleanse/core/model"
	"github.com/malcleanse/malcleanse/nn"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

// optimizerRecord は gob がスライス中の nil ポインタを扱えないため、状態の有無を明示する
type optimizerRecord struct {
	Present bool
	State   nn.OptimizerState
}

type weightsFile struct {
	Members []model.Tensors
}

type metadataFile struct {
	Optimizers []optimizerRecord
}

// WeightStore はメンバーごとの (重み, オプティマイザ状態) を順序付きで保持する。
// len(weights) == len(optimizers) は常に成り立つ。
type WeightStore struct {
	mu         sync.RWMutex
	weights    []model.Tensors
	optimizers []*nn.OptimizerState
}

// NewWeightStore は空のストアを作成する
func NewWeightStore() *WeightStore {
	return &WeightStore{}
}

// UpdateOrAppend は index < Count() なら上書き、index == Count() なら末尾に追加する。
// それ以外の index は穴を作るため OutOfRangeError を返す。
func (s *WeightStore) UpdateOrAppend(index int, weights model.Tensors, opt *nn.OptimizerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch n := len(s.weights); {
	case index >= 0 && index < n:
		s.weights[index] = weights.Clone()
		s.optimizers[index] = opt.Clone()
	case index == n:
		s.weights = append(s.weights, weights.Clone())
		s.optimizers = append(s.optimizers, opt.Clone())
	default:
		return errors.NewOutOfRangeError("UpdateOrAppend", index, n)
	}
	return nil
}

// Count は保存されているメンバー数を返す
func (s *WeightStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.weights)
}

// Get は index 番目のメンバーのコピーを返す。状態が未保存なら opt は nil。
func (s *WeightStore) Get(index int) (model.Tensors, *nn.OptimizerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.weights) {
		return nil, nil, errors.NewNotFoundError("Get", index, len(s.weights))
	}
	return s.weights[index].Clone(), s.optimizers[index].Clone(), nil
}

// Truncate はメンバー数を n 以下に切り詰め、削除した数を返す
func (s *WeightStore) Truncate(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	if n >= len(s.weights) {
		return 0
	}
	removed := len(s.weights) - n
	s.weights = s.weights[:n]
	s.optimizers = s.optimizers[:n]
	return removed
}

// Reset は全メンバーを破棄する
func (s *WeightStore) Reset() {
	s.Truncate(0)
}

// WeightsPath は <dir>/<arch>.model を返す
func WeightsPath(dir, arch string) string {
	return filepath.Join(dir, arch+".model")
}

// MetadataPath は <dir>/<arch>.model.metadata を返す
func MetadataPath(dir, arch string) string {
	return WeightsPath(dir, arch) + ".metadata"
}

// Save は重みとオプティマイザ状態を別ファイルに書き出す
func (s *WeightStore) Save(dir, arch string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]optimizerRecord, len(s.optimizers))
	for i, opt := range s.optimizers {
		if opt != nil {
			records[i] = optimizerRecord{Present: true, State: *opt}
		}
	}
	if err := model.SaveGob(weightsFile{Members: s.weights}, WeightsPath(dir, arch)); err != nil {
		return err
	}
	return model.SaveGob(metadataFile{Optimizers: records}, MetadataPath(dir, arch))
}

// Load はストアの内容をディスク上の内容で置き換える。
// 重みファイルがなければ ArtifactNotFoundError、メタデータがなければ全メンバーの状態を nil とする。
func (s *WeightStore) Load(dir, arch string) error {
	var wf weightsFile
	if err := model.LoadGob(&wf, WeightsPath(dir, arch), "model weights"); err != nil {
		return err
	}
	weights := wf.Members
	for i, w := range weights {
		if err := w.Validate(); err != nil {
			return errors.Wrapf(err, "member %d", i)
		}
	}

	optimizers := make([]*nn.OptimizerState, len(weights))
	var mf metadataFile
	err := model.LoadGob(&mf, MetadataPath(dir, arch), "optimizer state")
	switch records := mf.Optimizers; {
	case err == nil:
		if len(records) != len(weights) {
			return errors.NewValueError("Load", fmt.Sprintf("%d optimizer states for %d members", len(records), len(weights)))
		}
		for i, r := range records {
			if r.Present {
				st := r.State
				optimizers[i] = &st
			}
		}
	case errors.As(err, new(*errors.ArtifactNotFoundError)):
		// 推論のみの読み込みではオプティマイザ状態は不要
	default:
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights = weights
	s.optimizers = optimizers
	return nil
}
