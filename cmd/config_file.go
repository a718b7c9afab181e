package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML defaults file accepted by --config. Every field is
// optional; a set field overrides the built-in flag default but not an
// explicit flag or environment variable.
type FileConfig struct {
	NumVecs         *int     `yaml:"num_vecs"`
	Dim             *int     `yaml:"dim"`
	NComponents     *int     `yaml:"n_components"`
	NumGPUs         *int     `yaml:"num_gpus"`
	NumCPUs         *int     `yaml:"num_cpus"`
	DType           *string  `yaml:"dtype"`
	NumRuns         *int     `yaml:"num_runs"`
	ReportPath      *string  `yaml:"report_path"`
	SparkConfs      []string `yaml:"spark_confs"`
	Seed            *int64   `yaml:"seed"`
	Log             *string  `yaml:"log"`
	MetricsPath     *string  `yaml:"metrics_path"`
	DiscoveryScript *string  `yaml:"discovery_script"`
}

// loadFileConfig parses path with strict field checking: unknown keys are errors.
func loadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var fc FileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &fc, nil
}

// applyDefaults registers every set field as a viper default.
func (fc *FileConfig) applyDefaults(v *viper.Viper) {
	setInt := func(key string, p *int) {
		if p != nil {
			v.SetDefault(key, *p)
		}
	}
	setString := func(key string, p *string) {
		if p != nil {
			v.SetDefault(key, *p)
		}
	}
	setInt(flagNumVecs, fc.NumVecs)
	setInt(flagDim, fc.Dim)
	setInt(flagNComponents, fc.NComponents)
	setInt(flagNumGPUs, fc.NumGPUs)
	setInt(flagNumCPUs, fc.NumCPUs)
	setString(flagDType, fc.DType)
	setInt(flagNumRuns, fc.NumRuns)
	setString(flagReportPath, fc.ReportPath)
	setString(flagLog, fc.Log)
	setString(flagMetricsPath, fc.MetricsPath)
	setString(flagDiscoveryScript, fc.DiscoveryScript)
	if fc.Seed != nil {
		v.SetDefault(flagSeed, *fc.Seed)
	}
	if fc.SparkConfs != nil {
		v.SetDefault(flagSparkConfs, fc.SparkConfs)
	}
}
