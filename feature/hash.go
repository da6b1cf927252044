package feature

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// FileSHA256 streams a file through sha256 and returns the hex digest.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
