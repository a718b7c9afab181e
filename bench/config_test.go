package bench

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		NumVecs:     100,
		Dim:         8,
		NComponents: 3,
		NumGPUs:     0,
		NumCPUs:     2,
		DType:       DTypeFloat64,
		NumRuns:     2,
		Seed:        42,
	}
}

func TestParseConfPair(t *testing.T) {
	tests := []struct {
		in      string
		want    ConfPair
		wantErr bool
	}{
		{in: "spark.master=local[4]", want: ConfPair{Key: "spark.master", Value: "local[4]"}},
		{in: "spark.executor.extraJavaOptions=-Da=b -Dc=d", want: ConfPair{Key: "spark.executor.extraJavaOptions", Value: "-Da=b -Dc=d"}},
		{in: "key=", want: ConfPair{Key: "key", Value: ""}},
		{in: " key =v", want: ConfPair{Key: "key", Value: "v"}},
		{in: "novalue", wantErr: true},
		{in: "=v", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseConfPair(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseConfPairs_StopsAtFirstError(t *testing.T) {
	_, err := ParseConfPairs([]string{"a=1", "bad", "c=3"})
	assert.ErrorContains(t, err, `"bad"`)

	pairs, err := ParseConfPairs([]string{"a=1", "b=2"})
	require.NoError(t, err)
	assert.Equal(t, []ConfPair{{"a", "1"}, {"b", "2"}}, pairs)
}

func TestConfig_Validate_ModesAreMutuallyExclusive(t *testing.T) {
	// GIVEN a config with both modes positive
	cfg := validConfig()
	cfg.NumGPUs = 1
	cfg.NumCPUs = 6

	// WHEN validated
	err := cfg.Validate()

	// THEN it fails with ErrModeConflict
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrModeConflict))
}

func TestConfig_Validate_ModeSelection(t *testing.T) {
	cfg := validConfig()
	cfg.NumGPUs, cfg.NumCPUs = 2, 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeGPU, cfg.Mode())
	assert.Equal(t, 2, cfg.Partitions())

	cfg.NumGPUs, cfg.NumCPUs = -1, 3
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ModeCPU, cfg.Mode())
	assert.Equal(t, 3, cfg.Partitions())

	cfg.NumGPUs, cfg.NumCPUs = 0, 0
	assert.Error(t, cfg.Validate(), "no active mode must be rejected")
}

func TestConfig_Validate_Ranges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero vecs", func(c *Config) { c.NumVecs = 0 }},
		{"zero dim", func(c *Config) { c.Dim = 0 }},
		{"zero components", func(c *Config) { c.NComponents = 0 }},
		{"components above dim", func(c *Config) { c.NComponents = c.Dim + 1 }},
		{"zero runs", func(c *Config) { c.NumRuns = 0 }},
		{"unknown dtype", func(c *Config) { c.DType = "float16" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
