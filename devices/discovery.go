// Package devices discovers accelerator addresses through an external
// discovery script.
//
// The script contract: invoked with no arguments, it prints a JSON object such
// as {"name": "gpu", "addresses": ["0", "1"]} on stdout and exits with 0.
// Any other exit status is a discovery failure.
package devices

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/sirupsen/logrus"
)

// MaxTestDevices caps the number of devices a test session uses.
const MaxTestDevices = 4

// Resource is the decoded output of a discovery script.
type Resource struct {
	Name      string   `json:"name"`
	Addresses []string `json:"addresses"`
}

// Discoverer returns the addresses of the accelerators visible to this host.
type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

// ScriptDiscoverer runs a discovery script.
// Command is split with shell word rules, so "bash ./getGpus.sh" works.
type ScriptDiscoverer struct {
	Command string
}

// NewScriptDiscoverer creates a ScriptDiscoverer for command.
func NewScriptDiscoverer(command string) *ScriptDiscoverer {
	return &ScriptDiscoverer{Command: command}
}

// Discover runs the script and decodes its addresses.
func (d *ScriptDiscoverer) Discover(ctx context.Context) ([]string, error) {
	args, err := shellwords.Parse(d.Command)
	if err != nil {
		return nil, fmt.Errorf("parsing discovery command %q: %w", d.Command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("empty discovery command")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("discovery script %q exited with code %d: %s",
				d.Command, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("running discovery script %q: %w", d.Command, err)
	}

	res, err := ParseResource(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("discovery script %q: %w", d.Command, err)
	}
	logrus.Debugf("discovered %d %s device(s): %v", len(res.Addresses), res.Name, res.Addresses)
	return res.Addresses, nil
}

// ParseResource decodes discovery script output.
// The addresses field is mandatory; an empty array is valid.
func ParseResource(data []byte) (*Resource, error) {
	var raw struct {
		Name      string    `json:"name"`
		Addresses *[]string `json:"addresses"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding discovery output: %w", err)
	}
	if raw.Addresses == nil {
		return nil, fmt.Errorf("discovery output has no addresses field")
	}
	return &Resource{Name: raw.Name, Addresses: *raw.Addresses}, nil
}

// Clamp returns at most limit addresses, keeping discovery order.
func Clamp(addresses []string, limit int) []string {
	limit = max(limit, 0)
	if len(addresses) <= limit {
		return addresses
	}
	return addresses[:limit]
}
