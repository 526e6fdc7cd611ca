// Package config loads application configuration from YAML or JSON files and
// layers environment variable overrides on top.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fluxorio/syncpool/pkg/core"
)

// Validator validates configuration
type Validator interface {
	Validate(config interface{}) error
}

// ValidatorFunc is a function that validates configuration
type ValidatorFunc func(config interface{}) error

func (f ValidatorFunc) Validate(config interface{}) error {
	return f(config)
}

// Load decodes the file at path into target. The format follows the file
// extension; anything other than .json is read as YAML.
func Load(path string, target interface{}) error {
	// #nosec G304 -- path comes from the operator (flag or env).
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := core.JSONDecode(data, target); err != nil {
			return fmt.Errorf("load JSON %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, target); err != nil {
			return fmt.Errorf("unmarshal YAML %s: %w", path, err)
		}
	}
	return nil
}

// LoadWithEnv loads configuration from file and applies environment variable
// overrides. An empty path skips the file and only applies the environment.
func LoadWithEnv(path string, prefix string, target interface{}) error {
	if path != "" {
		if err := Load(path, target); err != nil {
			return err
		}
	}

	if err := ApplyEnvOverrides(prefix, target); err != nil {
		return fmt.Errorf("apply env overrides: %w", err)
	}
	return nil
}

// WriteYAML encodes config as YAML to w.
func WriteYAML(w io.Writer, config interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(config); err != nil {
		return fmt.Errorf("encode YAML: %w", err)
	}
	return enc.Close()
}

// Validate runs validators in order and stops at the first failure.
func Validate(config interface{}, validators ...Validator) error {
	for _, validator := range validators {
		if err := validator.Validate(config); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}
