// Package inference loads scoring models and maps feature vectors to score
// vectors.
//
// Extract is currently a placeholder: it does not execute the loaded graph
// and always returns the fixed vector [0.99, 0.1, 0.5]. Loading still
// validates the model file so callers see real MODEL_LOAD_FAILED errors.
package inference

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/use-agent/scram/models"
	"google.golang.org/protobuf/encoding/protowire"
)

// graphField is the ModelProto field number holding the graph.
const graphField protowire.Number = 7

// defaultMaxModelBytes caps the model file size read by Load.
const defaultMaxModelBytes = 256 << 20

// placeholderScores is returned by Extract for every input.
var placeholderScores = [...]float32{0.99, 0.1, 0.5}

// Level is a graph optimization level.
type Level int

const (
	LevelDisabled Level = iota
	LevelBasic
	LevelExtended
	LevelAll
)

func (l Level) String() string {
	switch l {
	case LevelDisabled:
		return "disabled"
	case LevelBasic:
		return "basic"
	case LevelExtended:
		return "extended"
	case LevelAll:
		return "all"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

type options struct {
	intraOpThreads int
	optLevel       Level
	maxBytes       int64
}

// Option tunes the runtime configured by Load.
type Option func(*options)

// IntraOpThreads sets the intra-op parallelism degree. Values < 1 are ignored.
func IntraOpThreads(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.intraOpThreads = n
		}
	}
}

// OptimizationLevel sets the graph optimization level.
func OptimizationLevel(l Level) Option {
	return func(o *options) { o.optLevel = l }
}

// MaxModelBytes caps the model file size. Values < 1 are ignored.
func MaxModelBytes(n int64) Option {
	return func(o *options) {
		if n >= 1 {
			o.maxBytes = n
		}
	}
}

// Engine is a loaded model. It is read-only after Load and safe for
// concurrent Extract calls.
type Engine struct {
	path      string
	opts      options
	graphSize int
}

// Load reads and validates the model at path. Only regular files within the
// size cap are read.
func Load(path string, opts ...Option) (*Engine, error) {
	o := options{intraOpThreads: 4, optLevel: LevelAll, maxBytes: defaultMaxModelBytes}
	for _, opt := range opts {
		opt(&o)
	}

	if path == "" {
		return nil, models.NewFetchError(models.ErrCodeModelLoad, "model path is required", nil)
	}
	data, err := readModel(path, o.maxBytes)
	if err != nil {
		return nil, err
	}
	graphSize, err := validateModel(data)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeModelLoad,
			fmt.Sprintf("invalid model %s", filepath.Base(path)), err)
	}

	slog.Info("model loaded", "path", path, "bytes", len(data),
		"intra_op_threads", o.intraOpThreads, "optimization", o.optLevel)

	return &Engine{path: path, opts: o, graphSize: graphSize}, nil
}

// readModel stats path before opening it so FIFOs and devices are never
// opened.
func readModel(path string, maxBytes int64) ([]byte, error) {
	name := filepath.Base(path)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NewFetchError(models.ErrCodeModelLoad,
				fmt.Sprintf("model %s not found", name), nil)
		}
		return nil, models.NewFetchError(models.ErrCodeModelLoad,
			fmt.Sprintf("model %s is not readable", name), nil)
	}
	if !info.Mode().IsRegular() {
		return nil, models.NewFetchError(models.ErrCodeModelLoad,
			fmt.Sprintf("model %s is not a regular file", name), nil)
	}
	if info.Size() > maxBytes {
		return nil, models.NewFetchError(models.ErrCodeModelLoad,
			fmt.Sprintf("model %s exceeds %d bytes", name, maxBytes), nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeModelLoad,
			fmt.Sprintf("model %s is not readable", name), nil)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, models.NewFetchError(models.ErrCodeModelLoad,
			fmt.Sprintf("read model %s", name), err)
	}
	if int64(len(data)) > maxBytes {
		return nil, models.NewFetchError(models.ErrCodeModelLoad,
			fmt.Sprintf("model %s exceeds %d bytes", name, maxBytes), nil)
	}
	return data, nil
}

// ResolvePath maps a caller-supplied model name to a file inside dir.
// Absolute names, names that leave dir and symlinks pointing out of dir are
// rejected with INVALID_INPUT.
func ResolvePath(dir, name string) (string, error) {
	if dir == "" {
		return "", models.NewFetchError(models.ErrCodeInvalidInput,
			"model_path is not accepted: no model directory configured", nil)
	}
	if name == "" || filepath.IsAbs(name) {
		return "", models.NewFetchError(models.ErrCodeInvalidInput,
			"model_path must be relative to the model directory", nil)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", models.NewFetchError(models.ErrCodeModelLoad, "model directory unavailable", err)
	}
	full := filepath.Join(root, name)
	if !within(root, full) {
		return "", escapesDir()
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", models.NewFetchError(models.ErrCodeModelLoad, "model directory unavailable", nil)
	}
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", models.NewFetchError(models.ErrCodeModelLoad,
			fmt.Sprintf("model %s not found", filepath.Base(full)), nil)
	}
	if !within(realRoot, resolved) {
		return "", escapesDir()
	}
	return resolved, nil
}

func escapesDir() error {
	return models.NewFetchError(models.ErrCodeInvalidInput, "model_path escapes the model directory", nil)
}

// within reports whether path is strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// validateModel walks the top-level protobuf fields of data and returns the
// size of the graph field. It fails on empty input, malformed wire data or a
// missing graph.
func validateModel(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, errors.New("model file is empty")
	}
	graphSize := -1
	for b := data; len(b) > 0; {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return 0, fmt.Errorf("malformed field tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		if num == graphField {
			if typ != protowire.BytesType {
				return 0, fmt.Errorf("graph field has wire type %d", typ)
			}
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return 0, fmt.Errorf("malformed graph: %w", protowire.ParseError(m))
			}
			graphSize = len(v)
			b = b[m:]
			continue
		}
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return 0, fmt.Errorf("malformed field %d: %w", num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	if graphSize < 0 {
		return 0, errors.New("model has no graph")
	}
	return graphSize, nil
}

// Path returns the file the engine was loaded from.
func (e *Engine) Path() string { return e.path }

// IntraOpThreads returns the configured intra-op parallelism degree.
func (e *Engine) IntraOpThreads() int { return e.opts.intraOpThreads }

// OptimizationLevel returns the configured graph optimization level.
func (e *Engine) OptimizationLevel() Level { return e.opts.optLevel }

// Extract maps features to scores. Placeholder: the input is ignored and a
// fresh copy of [0.99, 0.1, 0.5] is returned.
func (e *Engine) Extract(features []float32) ([]float32, error) {
	if e == nil {
		return nil, models.NewFetchError(models.ErrCodeInference, "engine is not loaded", nil)
	}
	out := make([]float32, len(placeholderScores))
	copy(out, placeholderScores[:])
	return out, nil
}
