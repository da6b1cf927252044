package model

import (
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// SaveGob は v を gob 形式でファイルに保存する。親ディレクトリは作成される。
//
// 使用例:
//
//	err := model.SaveGob(store.Snapshot(), "models/vanilla/dnn.model")
func SaveGob(v interface{}, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", filename)
	}
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(v); err != nil {
		return errors.Wrapf(err, "failed to encode %s", filename)
	}
	return nil
}

// LoadGob はファイルから gob 形式で読み込む。
// ファイルが存在しない場合は artifact 名を含む ArtifactNotFoundError を返す。
func LoadGob(v interface{}, filename, artifact string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewArtifactNotFoundError(artifact, filename)
		}
		return errors.Wrap(err, "failed to open file")
	}
	defer file.Close()

	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", filename)
	}
	return nil
}

// SaveJSON は v をインデント付き JSON で保存する
func SaveJSON(v interface{}, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", filename)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode json")
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", filename)
	}
	return nil
}

// LoadJSON は JSON ファイルを読み込む
func LoadJSON(v interface{}, filename, artifact string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewArtifactNotFoundError(artifact, filename)
		}
		return errors.Wrap(err, "failed to read file")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "failed to decode %s", filename)
	}
	return nil
}

// Exists はファイルが存在するかどうかを返す
func Exists(filename string) bool {
	_, err := os.Stat(filename)
	return err == nil
}
