// Copyright (C) 2026 Tracehound Authors (oss@tracehound.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps validation failures.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New()

// DefaultPath returns ~/.tracehound/tracehound.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".tracehound", "tracehound.yaml"), nil
}

// Load reads and validates the config at path. On first run the file
// does not exist yet; the defaults are written there and returned.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "first run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return Config{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	cfg.Store.Path = expandPath(cfg.Store.Path)
	cfg.Logging.LogDir = expandPath(cfg.Logging.LogDir)
	cfg.Notify.MarkdownDir = expandPath(cfg.Notify.MarkdownDir)
	return cfg, nil
}

// Validate runs struct-tag validation plus the cross-field checks the
// tags cannot express.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if cfg.Server.Enabled && cfg.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr required when server.enabled", ErrInvalidConfig)
	}
	if cfg.LLM.Engine == "openai" && cfg.Budget.PerDiagnosisUSD <= 0 {
		return fmt.Errorf("%w: budget.per_diagnosis_usd must be > 0 for the openai engine", ErrInvalidConfig)
	}
	if !cfg.Notify.Stdout && cfg.Notify.MarkdownDir == "" {
		return fmt.Errorf("%w: at least one notify sink must be enabled", ErrInvalidConfig)
	}
	return nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
