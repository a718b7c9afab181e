package bench

import (
	"errors"
	"fmt"
	"strings"
)

// Supported element types for generated datasets.
const (
	DTypeFloat64 = "float64"
	DTypeFloat32 = "float32"
)

// Report row labels, one per benchmark mode.
const (
	ModeGPU = "gpu_pca"
	ModeCPU = "cpu_pca"
)

// ErrModeConflict is returned when both the GPU and the CPU mode are requested.
var ErrModeConflict = errors.New("num_gpus and num_cpus are mutually exclusive")

// ConfPair is one engine configuration override given as key=value.
type ConfPair struct {
	Key   string
	Value string
}

// ParseConfPair splits s on the first '=' so values may themselves contain '='.
// The key must be non-empty; an empty value is allowed.
func ParseConfPair(s string) (ConfPair, error) {
	key, value, ok := strings.Cut(s, "=")
	if !ok {
		return ConfPair{}, fmt.Errorf("engine conf %q: expected key=value", s)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ConfPair{}, fmt.Errorf("engine conf %q: empty key", s)
	}
	return ConfPair{Key: key, Value: value}, nil
}

// ParseConfPairs parses every entry of a repeatable --spark_confs flag.
func ParseConfPairs(raw []string) ([]ConfPair, error) {
	pairs := make([]ConfPair, 0, len(raw))
	for _, s := range raw {
		p, err := ParseConfPair(s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// Config holds the parameters of one benchmark invocation.
type Config struct {
	NumVecs     int        // rows in the generated dataset
	Dim         int        // columns in the generated dataset
	NComponents int        // principal components to keep
	NumGPUs     int        // >0 selects the accelerated estimator with this many workers/partitions
	NumCPUs     int        // >0 selects the CPU estimator with this many partitions
	DType       string     // "float64" or "float32"
	NumRuns     int        // repetitions, covering cold and warm runs
	ReportPath  string     // CSV file appended after all runs ("" = no file)
	Seed        int64      // master seed for dataset generation
	EngineConfs []ConfPair // session overrides, in command-line order
}

// Mode returns the report label of the active mode.
// Only meaningful on a validated Config.
func (c *Config) Mode() string {
	if c.NumGPUs > 0 {
		return ModeGPU
	}
	return ModeCPU
}

// Partitions returns the dataset partition count for the active mode.
func (c *Config) Partitions() int {
	if c.NumGPUs > 0 {
		return c.NumGPUs
	}
	return c.NumCPUs
}

// Validate checks the configuration and returns the first violation found.
func (c *Config) Validate() error {
	if c.NumGPUs > 0 && c.NumCPUs > 0 {
		return fmt.Errorf("num_gpus=%d, num_cpus=%d: %w", c.NumGPUs, c.NumCPUs, ErrModeConflict)
	}
	if c.NumGPUs <= 0 && c.NumCPUs <= 0 {
		return fmt.Errorf("one of num_gpus or num_cpus must be positive")
	}
	if c.NumVecs <= 0 {
		return fmt.Errorf("num_vecs must be positive, got %d", c.NumVecs)
	}
	if c.Dim <= 0 {
		return fmt.Errorf("dim must be positive, got %d", c.Dim)
	}
	if c.NComponents <= 0 || c.NComponents > c.Dim {
		return fmt.Errorf("n_components must be in [1, %d], got %d", c.Dim, c.NComponents)
	}
	if c.NumRuns <= 0 {
		return fmt.Errorf("num_runs must be positive, got %d", c.NumRuns)
	}
	switch c.DType {
	case DTypeFloat64, DTypeFloat32:
	default:
		return fmt.Errorf("unknown dtype %q; valid: float64, float32", c.DType)
	}
	return nil
}
