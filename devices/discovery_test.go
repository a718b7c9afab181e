package devices

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScript creates an executable shell script in a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("discovery scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "discover.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func TestScriptDiscoverer_Success(t *testing.T) {
	script := writeScript(t, `echo '{"name": "gpu", "addresses": ["0", "1", "2"]}'`)

	addrs, err := NewScriptDiscoverer(script).Discover(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2"}, addrs)
}

func TestScriptDiscoverer_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "driver not loaded" >&2; exit 3`)

	_, err := NewScriptDiscoverer(script).Discover(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, err.Error(), "driver not loaded")
}

func TestScriptDiscoverer_ShellWords(t *testing.T) {
	script := writeScript(t, `echo "{\"addresses\": [\"$1\"]}"`)

	addrs, err := NewScriptDiscoverer("sh " + script + " 'dev 0'").Discover(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"dev 0"}, addrs)
}

func TestScriptDiscoverer_BadCommands(t *testing.T) {
	_, err := NewScriptDiscoverer("").Discover(context.Background())
	assert.Error(t, err)

	_, err = NewScriptDiscoverer(`"unterminated`).Discover(context.Background())
	assert.Error(t, err)

	_, err = NewScriptDiscoverer(filepath.Join(t.TempDir(), "missing.sh")).Discover(context.Background())
	assert.Error(t, err)
}

func TestParseResource(t *testing.T) {
	res, err := ParseResource([]byte(`{"name": "gpu", "addresses": []}`))
	require.NoError(t, err)
	assert.Equal(t, "gpu", res.Name)
	assert.Empty(t, res.Addresses)

	_, err = ParseResource([]byte(`{"name": "gpu"}`))
	assert.ErrorContains(t, err, "no addresses")

	_, err = ParseResource([]byte(`not json`))
	assert.Error(t, err)
}

func TestClamp(t *testing.T) {
	six := []string{"0", "1", "2", "3", "4", "5"}
	assert.Equal(t, []string{"0", "1", "2", "3"}, Clamp(six, MaxTestDevices))
	assert.Equal(t, []string{"0", "1"}, Clamp(six[:2], MaxTestDevices))
	assert.Empty(t, Clamp(six, 0))
	assert.Empty(t, Clamp(six, -1))
}
