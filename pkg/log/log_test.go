package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	merrors "github.com/malcleanse/malcleanse/pkg/errors"
)

func TestTestLogger(t *testing.T) {
	logger, _ := NewTestLogger(LevelInfo)

	logger.Debug("dropped")
	member := logger.With(EnsembleNameKey, "vanilla")
	member.Info("Epoch finished", EpochKey, 3, AccuracyKey, 0.9)

	if logger.ContainsMessage("dropped") {
		t.Error("debug message should be filtered at info level")
	}
	if !logger.ContainsField(EnsembleNameKey, "vanilla") {
		t.Error("With fields should be shared with the parent buffer")
	}
	if !logger.ContainsField(EpochKey, 3) {
		t.Error("int fields should match after JSON round trip")
	}
	if logger.Count("Epoch finished") != 1 {
		t.Errorf("Count = %d, want 1", logger.Count("Epoch finished"))
	}
}

func TestTestLoggerConcurrent(t *testing.T) {
	logger, _ := NewTestLogger(LevelDebug)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			logger.With(WorkerIDKey, id).Info("sample done")
		}(i)
	}
	wg.Wait()

	entries, err := logger.GetLogEntries()
	if err != nil {
		t.Fatalf("GetLogEntries: %v", err)
	}
	if len(entries) != 8 {
		t.Errorf("expected 8 entries, got %d", len(entries))
	}
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZerologLogger(zerolog.New(&buf).Level(zerolog.InfoLevel)).
		With(ComponentKey, "ensemble")

	logger.Debug("hidden")
	logger.Error("load failed", merrors.NewArtifactNotFoundError("weights", "/m/dnn.model"), MemberIndexKey, 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("debug record should be filtered")
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &entry); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if entry[ComponentKey] != "ensemble" {
		t.Errorf("component = %v", entry[ComponentKey])
	}
	if entry[MemberIndexKey] != float64(2) {
		t.Errorf("member.index = %v", entry[MemberIndexKey])
	}
	if !strings.Contains(entry["error"].(string), "/m/dnn.model") {
		t.Errorf("error field = %v", entry["error"])
	}
	if !logger.Enabled(context.Background(), LevelWarn) || logger.Enabled(context.Background(), LevelDebug) {
		t.Error("Enabled should follow the zerolog level")
	}
}

func TestOpenFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.log")
	sink, err := Open(Config{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	sink.Logger("feature").Info("vocabulary saved", NoiseTypeKey, "thr_1_18")
	merrors.Warn(merrors.NewUndefinedMetricWarning("f1", "single class labels", 0))

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), data)
	}
	if !strings.Contains(lines[0], `"ml.component":"feature"`) {
		t.Errorf("missing component: %s", lines[0])
	}
	if !strings.Contains(lines[1], "UndefinedMetricWarning") {
		t.Errorf("warning should be routed to the sink: %s", lines[1])
	}
}

func TestOpenInvalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "level", cfg: Config{Level: "verbose"}},
		{name: "format", cfg: Config{Format: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSlogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogLogger(NewSlogHandler(&buf, slog.LevelInfo))

	logger.With(EnsembleNameKey, "mc_dropout").Error("predict failed", merrors.New("boom"))

	out := buf.String()
	if !strings.Contains(out, `"message":"predict failed"`) {
		t.Errorf("message key should be renamed: %s", out)
	}
	if !strings.Contains(out, `"ensemble.name":"mc_dropout"`) {
		t.Errorf("missing field: %s", out)
	}
	if !strings.Contains(out, StacktraceAttrKey) {
		t.Errorf("ErrFmtHandler should add a stacktrace: %s", out)
	}
}

func TestNop(t *testing.T) {
	l := Nop().With("k", "v")
	l.Info("nothing")
	if l.Enabled(context.Background(), LevelError) {
		t.Error("Nop should never be enabled")
	}
}
