package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/pcabench/devices"
)

// ErrSessionStopped is returned by jobs submitted to a stopped session.
var ErrSessionStopped = errors.New("session is stopped")

var (
	activeMu sync.Mutex
	active   *Session
)

// Session is a local compute engine: a pool of task slots, an optional set of
// accelerator addresses, and the configuration that produced them.
type Session struct {
	id      string
	stageID atomic.Int64
	stopped atomic.Bool

	mu       sync.RWMutex
	conf     *Conf
	settings settings
	devices  []string
}

// Builder accumulates configuration for GetOrCreate.
type Builder struct {
	conf       *Conf
	discoverer devices.Discoverer
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{conf: NewConf()}
}

// Config sets one configuration key.
func (b *Builder) Config(key, value string) *Builder {
	b.conf.Set(key, value)
	return b
}

// AppName is shorthand for Config(KeyAppName, name).
func (b *Builder) AppName(name string) *Builder {
	return b.Config(KeyAppName, name)
}

// Discoverer overrides the device discoverer otherwise built from
// KeyGPUDiscoveryScript.
func (b *Builder) Discoverer(d devices.Discoverer) *Builder {
	b.discoverer = d
	return b
}

// GetOrCreate returns the active session, or creates one from the builder's
// configuration. On an existing session, runtime keys are applied and static
// keys that differ are ignored with a warning.
func (b *Builder) GetOrCreate(ctx context.Context) (*Session, error) {
	activeMu.Lock()
	defer activeMu.Unlock()

	if active != nil && !active.stopped.Load() {
		if err := active.update(b.conf); err != nil {
			return nil, err
		}
		return active, nil
	}

	st, err := parseSettings(b.conf)
	if err != nil {
		return nil, fmt.Errorf("invalid session conf: %w", err)
	}

	s := &Session{
		id:       uuid.NewString(),
		conf:     b.conf.clone(),
		settings: st,
	}

	d := b.discoverer
	if d == nil && st.discoveryScript != "" {
		d = devices.NewScriptDiscoverer(st.discoveryScript)
	}
	if d != nil {
		addrs, err := d.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("discovering devices: %w", err)
		}
		s.devices = addrs
	}
	if st.gpuAmount > 0 && len(s.devices) == 0 {
		return nil, fmt.Errorf("%s=%v requires discovered devices, found none", KeyTaskGPUAmount, st.gpuAmount)
	}

	logrus.Infof("started session %s (app=%s, cores=%d, maxFailures=%d, devices=%v)",
		s.id, st.appName, st.cores, st.maxFailures, s.devices)
	active = s
	return s, nil
}

// ActiveSession returns the running session, or nil.
func ActiveSession() *Session {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active == nil || active.stopped.Load() {
		return nil
	}
	return active
}

func (s *Session) update(c *Conf) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.conf.clone()
	for _, k := range c.Keys() {
		v, _ := c.Lookup(k)
		if old, ok := s.conf.Lookup(k); staticKeys[k] && (!ok || old != v) {
			logrus.Warnf("session %s: ignoring static conf %s=%s on existing session", s.id, k, v)
			continue
		}
		next.Set(k, v)
	}
	st, err := parseSettings(next)
	if err != nil {
		return fmt.Errorf("invalid session conf: %w", err)
	}
	s.conf = next
	s.settings = st
	return nil
}

// ID returns the unique session identifier.
func (s *Session) ID() string { return s.id }

// Conf returns a copy of the effective configuration.
func (s *Session) Conf() *Conf {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conf.clone()
}

// Cores returns the number of concurrent task slots.
func (s *Session) Cores() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.cores
}

// Devices returns the discovered accelerator addresses.
func (s *Session) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.devices))
	copy(out, s.devices)
	return out
}

// SetLogLevel sets the logger level, e.g. "WARN".
func (s *Session) SetLogLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// Stop shuts the session down. Subsequent jobs fail with ErrSessionStopped.
// Stop is idempotent.
func (s *Session) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	activeMu.Lock()
	if active == s {
		active = nil
	}
	activeMu.Unlock()
	logrus.Infof("stopped session %s", s.id)
}

// Stopped reports whether Stop has been called.
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

func (s *Session) snapshot() settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}
