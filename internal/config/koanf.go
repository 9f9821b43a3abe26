// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched, in order, when no explicit
// config path is given.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"config.json",
	"/etc/cardrank/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultSpendKeys are the breakdown categories reported when the config
// does not list any.
var DefaultSpendKeys = []string{
	"amazon_spends",
	"flipkart_spends",
	"grocery_spends_online",
	"other_online_spends",
}

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:              "https://card-recommendation-api-v2.bankkaro.com/cg/api/pro",
			Timeout:              30,
			SleepBetweenRequests: 1.2,
			MaxRetries:           3,
			RetryBaseDelay:       1,
			UserAgent:            "CardGenius-Batch-Runner/1.0",
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:      false,
				MinRequests:  10,
				FailureRatio: 0.6,
				Interval:     60,
				OpenTimeout:  30,
			},
		},
		Excel: ExcelConfig{
			SheetName: "0",
		},
		ColumnMappings: ColumnMappingsConfig{
			UserID:         "userid",
			AmazonSpends:   "avg_amazon_gmv",
			FlipkartSpends: "avg_flipkart_gmv",
			Myntra:         "avg_myntra_gmv",
			Ajio:           "avg_ajio_gmv",
			AvgGMV:         "avg_confirmed_gmv",
			Grocery:        "avg_grocery_gmv",
			TotalGMV:       "total_gmv",
		},
		Processing: ProcessingConfig{
			TopNCards:        3,
			ExtractSpendKeys: append([]string(nil), DefaultSpendKeys...),
			SkipEmptyRows:    true,
			ContinueOnError:  true,
			OtherOnlineMode:  ModeSumComponents,
			Workers:          1,
			CardNameMode:     CardNameModeCardGenius,
		},
		CardMapping: CardMappingConfig{
			OverridesFile:       "manual_card_mappings.json",
			Threshold:           0.6,
			ProductionThreshold: 0.95,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			MaxUsersPerJob:  200,
			RateLimitReqs:   30,
			RateLimitWindow: 60,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *Config {
	return defaultConfig()
}

// Load builds the configuration from defaults, the config file at path (or
// the first discovered one when path is empty) and the environment.
// Every failure is returned as a *ConfigError.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, newConfigError("defaults", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, newConfigError(path, err)
	}
	if path != "" {
		// JSON documents are valid YAML, so one parser covers both formats.
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, newConfigError(path, fmt.Errorf("failed to load config file: %w", err))
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, newConfigError("environment", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, newConfigError("environment", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf(cfg)); err != nil {
		return nil, newConfigError(path, fmt.Errorf("failed to unmarshal configuration: %w", err))
	}

	if err := cfg.Validate(); err != nil {
		return nil, newConfigError(path, err)
	}

	return cfg, nil
}

// unmarshalConf is koanf's default decoder with unknown keys rejected, so a
// misspelled setting fails the load instead of silently keeping its default.
func unmarshalConf(cfg *Config) koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			ErrorUnused:      true,
			WeaklyTypedInput: true,
			Result:           cfg,
		},
	}
}

// findConfigFile returns the CONFIG_PATH file if it exists, else the first
// existing entry of DefaultConfigPaths, else "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are split on commas when they arrive as a single string.
var sliceConfigPaths = []string{
	"processing.extract_spend_keys",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings is the complete set of recognised environment variables.
// Anything else in the environment is ignored.
var envMappings = map[string]string{
	"cardrank_api_base_url":            "api.base_url",
	"cardrank_api_timeout":             "api.timeout",
	"cardrank_sleep_between_requests":  "api.sleep_between_requests",
	"cardrank_max_retries":             "api.max_retries",
	"cardrank_retry_base_delay":        "api.retry_base_delay",
	"cardrank_circuit_breaker_enabled": "api.circuit_breaker.enabled",
	"cardrank_input_file":              "excel.input_file",
	"cardrank_output_file":             "excel.output_file",
	"cardrank_sheet_name":              "excel.sheet_name",
	"cardrank_top_n_cards":             "processing.top_n_cards",
	"cardrank_extract_spend_keys":      "processing.extract_spend_keys",
	"cardrank_skip_empty_rows":         "processing.skip_empty_rows",
	"cardrank_continue_on_error":       "processing.continue_on_error",
	"cardrank_other_online_mode":       "processing.other_online_mode",
	"cardrank_workers":                 "processing.workers",
	"cardrank_card_name_mode":          "processing.card_name_mode",
	"cardrank_overrides_file":          "card_mapping.overrides_file",
	"cardrank_match_threshold":         "card_mapping.threshold",
	"cardrank_production_threshold":    "card_mapping.production_threshold",
	"cardrank_server_api_key":          "server.api_key",
	"cardrank_max_users_per_job":       "server.max_users_per_job",
	"cardrank_cors_origins":            "server.cors_origins",
	"http_host":                        "server.host",
	"http_port":                        "server.port",
	"rate_limit_requests":              "server.rate_limit_requests",
	"rate_limit_window":                "server.rate_limit_window",
	"log_level":                        "logging.level",
	"log_format":                       "logging.format",
	"log_caller":                       "logging.caller",
}

// envTransformFunc maps an environment variable name to its koanf path,
// returning "" for variables cardrank does not read.
//
//   - CARDRANK_MAX_RETRIES -> api.max_retries
//   - HTTP_PORT -> server.port
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
