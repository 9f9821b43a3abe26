// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/cardrank/internal/logging"
	"github.com/tomtom215/cardrank/internal/validation"
)

// ErrInvalidConfig is wrapped by every ConfigError so callers can test for
// any configuration failure with errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError is fatal: it is raised before any row is processed.
type ConfigError struct {
	Source string
	Err    error
}

func newConfigError(source string, err error) *ConfigError {
	return &ConfigError{Source: source, Err: err}
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrInvalidConfig, e.Err}
}

// Validate checks struct tags first, then the rules tags cannot express.
func (c *Config) Validate() error {
	if errs := validation.ValidateStruct(c); errs != nil {
		return errs
	}

	if err := c.validateProcessing(); err != nil {
		return err
	}

	if err := c.validateColumnMappings(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateProcessing() error {
	seen := make(map[string]bool, len(c.Processing.ExtractSpendKeys))
	for _, key := range c.Processing.ExtractSpendKeys {
		if strings.TrimSpace(key) != key {
			return fmt.Errorf("processing.extract_spend_keys: %q has surrounding whitespace", key)
		}
		if seen[key] {
			return fmt.Errorf("processing.extract_spend_keys: %q listed twice", key)
		}
		seen[key] = true
	}
	return nil
}

// validateColumnMappings rejects two logical fields pointing at the same
// header, which would silently double count spend.
func (c *Config) validateColumnMappings() error {
	owner := make(map[string]string)
	for _, t := range c.ColumnMappings.Targets() {
		key := strings.ToLower(strings.TrimSpace(t.Target))
		if prev, ok := owner[key]; ok {
			return fmt.Errorf("column_mappings.%s and column_mappings.%s both target %q", prev, t.Field, t.Target)
		}
		owner[key] = t.Field
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	return nil
}

// ValidateForRun checks the settings only the batch command needs.
func (c *Config) ValidateForRun() error {
	if c.Excel.InputFile == "" {
		return newConfigError("", errors.New("excel.input_file is required"))
	}
	if c.Excel.OutputFile == "" {
		return newConfigError("", errors.New("excel.output_file is required"))
	}
	if sameFile(c.Excel.InputFile, c.Excel.OutputFile) {
		return newConfigError("", errors.New("excel.output_file must differ from excel.input_file"))
	}
	return nil
}

// ValidateForServe checks the settings only the job server needs.
func (c *Config) ValidateForServe() error {
	if c.Server.APIKey == "" {
		return newConfigError("", errors.New("server.api_key is required to run the job server"))
	}
	return nil
}

func sameFile(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
