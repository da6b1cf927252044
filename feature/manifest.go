package feature

import (
	"fmt"
	"path/filepath"

	"github.com/malcleanse/malcleanse/core/model"
	"github.com/malcleanse/malcleanse/pkg/errors"
)

// Manifest lists the samples of a dataset split. Filenames are sha256 hashes
// of the APKs; NoiseLabels carries the possibly corrupted training labels.
type Manifest struct {
	Filenames   []string  `json:"filenames"`
	GTLabels    []float64 `json:"gt_labels"`
	NoiseLabels []float64 `json:"noise_labels,omitempty"`
}

// ManifestPath returns <metaDir>/databases_<split>.json.
func ManifestPath(metaDir, split string) string {
	return filepath.Join(metaDir, "databases_"+split+".json")
}

// LoadManifest reads and checks the manifest of split.
func LoadManifest(metaDir, split string) (*Manifest, error) {
	var m Manifest
	if err := model.LoadJSON(&m, ManifestPath(metaDir, split), "dataset manifest"); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrapf(err, "manifest %s", split)
	}
	return &m, nil
}

// Save writes the manifest of split.
func (m *Manifest) Save(metaDir, split string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return model.SaveJSON(m, ManifestPath(metaDir, split))
}

// Validate checks that labels line up with filenames.
func (m *Manifest) Validate() error {
	if len(m.Filenames) == 0 {
		return errors.ErrEmptyData
	}
	if len(m.GTLabels) != len(m.Filenames) {
		return errors.NewDimensionError("Manifest", len(m.Filenames), len(m.GTLabels), 0)
	}
	if m.NoiseLabels != nil && len(m.NoiseLabels) != len(m.Filenames) {
		return errors.NewValueError("Manifest", fmt.Sprintf("%d noise labels for %d files", len(m.NoiseLabels), len(m.Filenames)))
	}
	return nil
}

// TrainingLabels returns the noisy labels, or the ground truth when the split
// has none.
func (m *Manifest) TrainingLabels() []float64 {
	if m.NoiseLabels != nil {
		return m.NoiseLabels
	}
	return m.GTLabels
}

// FeaturePaths maps filenames onto cached feature files.
func (m *Manifest) FeaturePaths(naiveDir, ext string) []string {
	paths := make([]string, len(m.Filenames))
	for i, name := range m.Filenames {
		paths[i] = filepath.Join(naiveDir, name+ext)
	}
	return paths
}
