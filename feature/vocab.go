// Package feature turns drebin string features extracted from APKs into the
// fixed-width binary matrices consumed by the ensemble package.
//
// The flow mirrors the training scripts: Pipeline.Extract caches one feature
// list per APK, Preprocess selects a vocabulary for a noise split and saves it
// as <meta_dir>/<noise_type>.vocab, and ToInput maps feature lists onto that
// vocabulary.
package feature

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/core/model"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

// MaxVocabulary bounds the candidate vocabulary before selection.
const MaxVocabulary = 300000

// Vocabulary returns at most n features ordered by how many samples contain
// them. Ties keep first-seen order. n <= 0 means no limit.
func Vocabulary(featureLists [][]string, n int) []string {
	type entry struct {
		word  string
		count int
		first int
	}
	index := make(map[string]int)
	var entries []entry
	for _, features := range featureLists {
		for _, f := range features {
			i, ok := index[f]
			if !ok {
				i = len(entries)
				index[f] = i
				entries = append(entries, entry{word: f, first: i})
			}
			entries[i].count++
		}
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].count > entries[b].count
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	vocab := make([]string, len(entries))
	for i, e := range entries {
		vocab[i] = e.word
	}
	return vocab
}

// Representation maps each feature list to a binary row over vocab.
// Rows without any known feature stay zero and raise a warning.
func Representation(featureLists [][]string, vocab []string) (*mat.Dense, error) {
	if len(featureLists) == 0 || len(vocab) == 0 {
		return nil, errors.ErrEmptyData
	}
	position := make(map[string]int, len(vocab))
	for i, w := range vocab {
		position[w] = i
	}

	x := mat.NewDense(len(featureLists), len(vocab), nil)
	for i, features := range featureLists {
		filled := 0
		for _, f := range features {
			if j, ok := position[f]; ok {
				x.Set(i, j, 1)
				filled++
			}
		}
		if len(features) > 0 && filled == 0 {
			errors.Warn(errors.Newf("sample %d produced a zero feature vector", i))
		}
	}
	return x, nil
}

// Select keeps at most dim features of vocab. Features that occur in no sample
// of either class are dropped first; if more than dim remain, the ones with
// the largest |malware frequency - benign frequency| are kept, ties in
// vocabulary order. Single-class input returns vocab unchanged.
func Select(featureLists [][]string, labels []float64, vocab []string, dim int) ([]string, error) {
	if len(featureLists) != len(labels) {
		return nil, errors.NewDimensionError("Select", len(featureLists), len(labels), 0)
	}
	var mal, ben [][]string
	for i, features := range featureLists {
		if labels[i] == 1 {
			mal = append(mal, features)
		} else {
			ben = append(ben, features)
		}
	}
	if len(mal) == 0 || len(ben) == 0 || len(vocab) == 0 {
		return append([]string(nil), vocab...), nil
	}

	malFreq, err := frequency(mal, vocab)
	if err != nil {
		return nil, err
	}
	benFreq, err := frequency(ben, vocab)
	if err != nil {
		return nil, err
	}
	return selectByFrequency(vocab, malFreq, benFreq, dim), nil
}

// frequency returns the fraction of samples containing each vocab entry.
func frequency(featureLists [][]string, vocab []string) ([]float64, error) {
	x, err := Representation(featureLists, vocab)
	if err != nil {
		return nil, err
	}
	rows, cols := x.Dims()
	freq := make([]float64, cols)
	for j := 0; j < cols; j++ {
		freq[j] = mat.Sum(x.ColView(j)) / float64(rows)
	}
	return freq, nil
}

func selectByFrequency(vocab []string, malFreq, benFreq []float64, dim int) []string {
	type candidate struct {
		word string
		diff float64
	}
	var kept []candidate
	for i, w := range vocab {
		if malFreq[i] == 0 && benFreq[i] == 0 {
			continue
		}
		kept = append(kept, candidate{word: w, diff: math.Abs(malFreq[i] - benFreq[i])})
	}

	if len(kept) > dim {
		sort.SliceStable(kept, func(a, b int) bool { return kept[a].diff > kept[b].diff })
		kept = kept[:dim]
	}
	out := make([]string, len(kept))
	for i, c := range kept {
		out[i] = c.word
	}
	return out
}

// VocabStore persists selected vocabularies as <dir>/<noise_type>.vocab.
type VocabStore struct {
	dir string
}

// NewVocabStore returns a store rooted at dir.
func NewVocabStore(dir string) *VocabStore {
	return &VocabStore{dir: dir}
}

// Path returns the vocabulary file of a noise split.
func (s *VocabStore) Path(noiseType string) string {
	return filepath.Join(s.dir, noiseType+".vocab")
}

// Exists reports whether a vocabulary was saved for noiseType.
func (s *VocabStore) Exists(noiseType string) bool {
	return model.Exists(s.Path(noiseType))
}

// Save writes vocab for noiseType.
func (s *VocabStore) Save(noiseType string, vocab []string) error {
	if len(vocab) == 0 {
		return errors.NewValueError("VocabStore.Save", fmt.Sprintf("empty vocabulary for %s", noiseType))
	}
	return model.SaveJSON(vocab, s.Path(noiseType))
}

// Load reads the vocabulary of noiseType.
func (s *VocabStore) Load(noiseType string) ([]string, error) {
	var vocab []string
	if err := model.LoadJSON(&vocab, s.Path(noiseType), "vocabulary"); err != nil {
		return nil, err
	}
	return vocab, nil
}
