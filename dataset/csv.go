package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// Frame は "SHA256,<api...>,Label" 形式のCSVを読み込んだもの
type Frame struct {
	Hashes  []string
	Columns []string
	X       *mat.Dense
	Y       []float64
}

// ReadCSV は中心性特徴量のCSVを読み込む
func ReadCSV(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewArtifactNotFoundError("feature csv", path)
		}
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return decodeCSV(f, path)
}

func decodeCSV(r io.Reader, path string) (*Frame, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", path)
	}
	if len(header) < 3 || header[0] != "SHA256" || header[len(header)-1] != "Label" {
		return nil, errors.NewValueError("ReadCSV", "header must be SHA256,<features...>,Label")
	}

	frame := &Frame{Columns: append([]string(nil), header[1:len(header)-1]...)}
	width := len(frame.Columns)
	var data []float64
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d", path, line)
		}
		frame.Hashes = append(frame.Hashes, rec[0])
		for _, cell := range rec[1 : len(rec)-1] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "%s:%d", path, line)
			}
			data = append(data, v)
		}
		label, err := strconv.ParseFloat(rec[len(rec)-1], 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s:%d label", path, line)
		}
		frame.Y = append(frame.Y, label)
	}
	if len(frame.Y) == 0 {
		return nil, errors.ErrEmptyData
	}
	frame.X = mat.NewDense(len(frame.Y), width, data)
	return frame, nil
}

// Dataset は Frame を学習用 Dataset に変換する
func (f *Frame) Dataset(opts ...Option) (*Dataset, error) {
	return New(f.X, f.Y, opts...)
}
