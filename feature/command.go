package feature

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/malcleanse/malcleanse/pkg/errors"
)

// CommandExtractor runs an external drebin extractor as
// `<Path> <Args...> <apk>` and reads one feature per line from its stdout.
type CommandExtractor struct {
	Path string
	Args []string
}

// NewCommandExtractor splits a command line such as "python2 drebin.py".
func NewCommandExtractor(commandLine string) (*CommandExtractor, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, errors.NewConfigurationError("NewCommandExtractor", "extractor", "command is empty")
	}
	return &CommandExtractor{Path: fields[0], Args: fields[1:]}, nil
}

// Extract implements Extractor.
func (c *CommandExtractor) Extract(ctx context.Context, apkPath string) ([]string, error) {
	args := append(append([]string(nil), c.Args...), apkPath)
	cmd := exec.CommandContext(ctx, c.Path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "%s failed: %s", c.Path, strings.TrimSpace(stderr.String()))
	}

	var features []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			features = append(features, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s output", c.Path)
	}
	return features, nil
}
