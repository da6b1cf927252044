package callgraph

import (
	"bufio"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"github.com/malcleanse/malcleanse/pkg/errors"
	"github.com/malcleanse/malcleanse/pkg/log"
)

// Row is the centrality vector of one APK.
type Row struct {
	SHA256 string
	Values []float64
	Label  float64
}

// CSVPath returns <dir>/<split>_<kind>_malscan_features.csv.
func CSVPath(dir, split string, kind Kind) string {
	return filepath.Join(dir, split+"_"+string(kind)+"_malscan_features.csv")
}

// ReadSensitiveAPIs reads one API signature per line, skipping blank lines.
func ReadSensitiveAPIs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewArtifactNotFoundError("sensitive api list", path)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var apis []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			apis = append(apis, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if len(apis) == 0 {
		return nil, errors.ErrEmptyData
	}
	return apis, nil
}

// Vector computes kind over one GEXF file and projects it onto apis. APIs
// absent from the graph get 0. The hash is the file name up to its first dot.
func Vector(path string, apis []string, kind Kind) (Row, error) {
	cg, err := ReadGEXF(path)
	if err != nil {
		return Row{}, err
	}
	centrality, err := cg.Centrality(kind)
	if err != nil {
		return Row{}, errors.Wrapf(err, "centrality of %s", path)
	}
	row := Row{
		SHA256: strings.SplitN(filepath.Base(path), ".", 2)[0],
		Values: make([]float64, len(apis)),
	}
	for i, api := range apis {
		row.Values[i] = centrality[api]
	}
	return row, nil
}

// Vectors runs Vector over files with a bounded pool. Labels are copied onto
// the rows. Files that fail are logged and dropped, so the result may be
// shorter than files but keeps their order.
func Vectors(ctx context.Context, files []string, labels []float64, apis []string, kind Kind, workers int, logger log.Logger) ([]Row, error) {
	if len(files) != len(labels) {
		return nil, errors.NewDimensionError("Vectors", len(files), len(labels), 0)
	}
	if _, err := ParseKind(string(kind)); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.With(log.OperationKey, log.OperationExtract, "centrality", string(kind))

	rows := make([]*Row, len(files))
	wp := pool.New().WithMaxGoroutines(workers)
	for i, file := range files {
		wp.Go(func() {
			if ctx.Err() != nil {
				return
			}
			var row Row
			err := errors.SafeExecute("callgraph.Vector", func() error {
				var err error
				row, err = Vector(file, apis, kind)
				return err
			})
			if err != nil {
				logger.Warn("Call graph skipped", log.ErrAttrKey, err, log.SamplePathKey, file)
				errors.Warn(errors.NewSkippedSampleWarning(file, err.Error()))
				return
			}
			row.Label = labels[i]
			rows[i] = &row
		})
	}
	wp.Wait()
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "centrality extraction cancelled")
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if r != nil {
			out = append(out, *r)
		}
	}
	logger.Info("Centrality vectors computed", log.SamplesKey, len(out), log.FeaturesKey, len(apis))
	return out, nil
}

// WriteCSV writes rows as SHA256,<apis...>,Label.
func WriteCSV(path string, rows []Row, apis []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append(append([]string{"SHA256"}, apis...), "Label")
	if err := w.Write(header); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, r := range rows {
		if len(r.Values) != len(apis) {
			return errors.NewDimensionError("WriteCSV", len(apis), len(r.Values), 1)
		}
		rec := make([]string, 0, len(apis)+2)
		rec = append(rec, r.SHA256)
		for _, v := range r.Values {
			rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
		}
		rec = append(rec, strconv.FormatFloat(r.Label, 'g', -1, 64))
		if err := w.Write(rec); err != nil {
			return errors.Wrapf(err, "write row %s", r.SHA256)
		}
	}
	w.Flush()
	return errors.Wrapf(w.Error(), "flush %s", path)
}
