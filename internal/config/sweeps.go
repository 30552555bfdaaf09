package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SweepProfile 允许把参数网格放在独立的 YAML 文件里维护，
// 非空字段覆盖主配置中的同名网格。
type SweepProfile struct {
	Name       string    `yaml:"name"`
	Estimators []string  `yaml:"estimators"`
	Strategies []string  `yaml:"strategies"`
	Alphas     []float64 `yaml:"alphas"`
	Policies   []string  `yaml:"policies"`
	Bands      []float64 `yaml:"bands"`
	Lambdas    []float64 `yaml:"lambdas"`
}

func LoadSweepProfile(path string) (*SweepProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sweep profile failed (%s): %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var p SweepProfile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing sweep profile failed (%s): %w", path, err)
	}
	return &p, nil
}
