package engine

import (
	"fmt"
	"math"
	"runtime"
	"strconv"
	"strings"
)

// Configuration keys understood by the engine. Any other key is stored and
// reported back verbatim.
const (
	KeyMaster             = "spark.master"
	KeyAppName            = "spark.app.name"
	KeyTaskMaxFailures    = "spark.task.maxFailures"
	KeyTaskGPUAmount      = "spark.task.resource.gpu.amount"
	KeyGPUDiscoveryScript = "spark.worker.resource.gpu.discoveryScript"
	KeyWorkerReuse        = "spark.python.worker.reuse"
	KeyDriverHost         = "spark.driver.host"
)

// Defaults applied when a key is absent.
const (
	DefaultMaster          = "local[*]"
	DefaultAppName         = "pcabench"
	DefaultTaskMaxFailures = 4

	// MaxTasksPerDevice bounds how many tasks may share one device.
	MaxTasksPerDevice = 64
)

// staticKeys cannot change once a session exists.
var staticKeys = map[string]bool{
	KeyMaster:             true,
	KeyGPUDiscoveryScript: true,
	KeyTaskGPUAmount:      true,
	KeyDriverHost:         true,
}

// Conf is an insertion-ordered set of string settings.
type Conf struct {
	keys   []string
	values map[string]string
}

// NewConf returns an empty Conf.
func NewConf() *Conf {
	return &Conf{values: make(map[string]string)}
}

// Set stores value under key. Re-setting a key keeps its original position.
func (c *Conf) Set(key, value string) {
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = value
}

// Get returns the value for key, or def when unset.
func (c *Conf) Get(key, def string) string {
	if v, ok := c.values[key]; ok {
		return v
	}
	return def
}

// Lookup reports whether key is set.
func (c *Conf) Lookup(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (c *Conf) Keys() []string {
	out := make([]string, len(c.keys))
	copy(out, c.keys)
	return out
}

func (c *Conf) clone() *Conf {
	out := NewConf()
	for _, k := range c.keys {
		out.Set(k, c.values[k])
	}
	return out
}

// ParseMaster parses a local master URL: "local", "local[N]", "local[*]" or
// "local[N,F]". It returns the core count and the task failure budget given
// in the URL (0 when absent).
func ParseMaster(master string) (cores, maxFailures int, err error) {
	if master == "local" {
		return 1, 0, nil
	}
	inner, ok := strings.CutPrefix(master, "local[")
	if !ok || !strings.HasSuffix(inner, "]") {
		return 0, 0, fmt.Errorf("unsupported master %q; valid: local, local[N], local[*], local[N,F]", master)
	}
	inner = strings.TrimSuffix(inner, "]")
	coresPart, failuresPart, hasFailures := strings.Cut(inner, ",")

	if coresPart == "*" {
		cores = runtime.NumCPU()
	} else {
		cores, err = strconv.Atoi(coresPart)
		if err != nil || cores <= 0 {
			return 0, 0, fmt.Errorf("master %q: core count must be a positive integer or *", master)
		}
	}
	if hasFailures {
		maxFailures, err = strconv.Atoi(failuresPart)
		if err != nil || maxFailures <= 0 {
			return 0, 0, fmt.Errorf("master %q: failure count must be a positive integer", master)
		}
	}
	return cores, maxFailures, nil
}

// settings is the parsed, typed view of a Conf.
type settings struct {
	appName         string
	cores           int
	maxFailures     int
	gpuAmount       float64
	tasksPerDevice  int
	discoveryScript string
}

func parseSettings(c *Conf) (settings, error) {
	st := settings{
		appName:         c.Get(KeyAppName, DefaultAppName),
		maxFailures:     DefaultTaskMaxFailures,
		discoveryScript: c.Get(KeyGPUDiscoveryScript, ""),
	}

	cores, urlFailures, err := ParseMaster(c.Get(KeyMaster, DefaultMaster))
	if err != nil {
		return settings{}, err
	}
	st.cores = cores
	if urlFailures > 0 {
		st.maxFailures = urlFailures
	}

	if v, ok := c.Lookup(KeyTaskMaxFailures); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return settings{}, fmt.Errorf("%s must be a positive integer, got %q", KeyTaskMaxFailures, v)
		}
		st.maxFailures = n
	}

	if v, ok := c.Lookup(KeyTaskGPUAmount); ok {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil || amount < 0 || amount > 1 {
			return settings{}, fmt.Errorf("%s must be in [0, 1], got %q", KeyTaskGPUAmount, v)
		}
		if amount > 0 {
			perDevice, err := tasksPerDevice(amount)
			if err != nil {
				return settings{}, err
			}
			st.tasksPerDevice = perDevice
		}
		st.gpuAmount = amount
	}
	return st, nil
}

// tasksPerDevice returns how many tasks share one device at the given
// per-task amount. A fractional amount must be 1/N for a whole N up to
// MaxTasksPerDevice.
func tasksPerDevice(amount float64) (int, error) {
	inv := 1 / amount
	n := math.Round(inv)
	if math.Abs(inv-n) > 1e-9*inv || n > MaxTasksPerDevice {
		return 0, fmt.Errorf("%s=%v must be 1 or 1/N for a whole N in [1, %d]",
			KeyTaskGPUAmount, amount, MaxTasksPerDevice)
	}
	return int(n), nil
}
