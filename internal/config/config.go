// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

// Package config loads the per-run configuration for cardrank.
//
// Configuration is layered with Koanf v2:
//  1. Defaults: built-in values (see defaultConfig)
//  2. Config file: YAML or JSON document passed with --config, CONFIG_PATH,
//     or found in DefaultConfigPaths
//  3. Environment variables: explicit mapping table in envTransformFunc
//
// The document keys follow the batch runner's historical layout:
//
//	api:
//	  base_url: https://card-recommendation-api-v2.bankkaro.com/cg/api/pro
//	  timeout: 30
//	  sleep_between_requests: 1.2
//	  max_retries: 3
//	excel:
//	  input_file: users.xlsx
//	  output_file: users_with_recommendations.xlsx
//	  sheet_name: 0
//	column_mappings:
//	  user_id: userid
//	  amazon_spends: avg_amazon_gmv
//	  ...
//	processing:
//	  top_n_cards: 3
//	  extract_spend_keys: [amazon_spends, flipkart_spends]
//	  other_online_mode: sum_components
//
// Numeric time values are seconds. A Config is validated once at load and
// treated as read-only for the rest of the run.
package config

import (
	"time"
)

// Config is the complete run configuration.
type Config struct {
	API            APIConfig            `koanf:"api"`
	Excel          ExcelConfig          `koanf:"excel"`
	ColumnMappings ColumnMappingsConfig `koanf:"column_mappings"`
	Processing     ProcessingConfig     `koanf:"processing"`
	CardMapping    CardMappingConfig    `koanf:"card_mapping"`
	Server         ServerConfig         `koanf:"server"`
	Logging        LoggingConfig        `koanf:"logging"`
}

// APIConfig describes the remote scoring service.
type APIConfig struct {
	BaseURL string `koanf:"base_url" validate:"required,http_url"`

	// Timeout is the per-request timeout in seconds.
	Timeout float64 `koanf:"timeout" validate:"gt=0"`

	// SleepBetweenRequests is the minimum spacing, in seconds, between two
	// rows' API calls across the whole run.
	SleepBetweenRequests float64 `koanf:"sleep_between_requests" validate:"gte=0"`

	// MaxRetries is the total number of attempts per row, not extra attempts.
	MaxRetries int `koanf:"max_retries" validate:"min=1,max=10"`

	// RetryBaseDelay scales the 2^attempt backoff, in seconds.
	RetryBaseDelay float64 `koanf:"retry_base_delay" validate:"gte=0"`

	UserAgent string `koanf:"user_agent"`

	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker"`
}

// TimeoutDuration returns Timeout as a time.Duration.
func (a APIConfig) TimeoutDuration() time.Duration {
	return seconds(a.Timeout)
}

// SleepDuration returns SleepBetweenRequests as a time.Duration.
func (a APIConfig) SleepDuration() time.Duration {
	return seconds(a.SleepBetweenRequests)
}

// RetryBaseDuration returns RetryBaseDelay as a time.Duration.
func (a APIConfig) RetryBaseDuration() time.Duration {
	return seconds(a.RetryBaseDelay)
}

// CircuitBreakerConfig controls the optional breaker in front of the scoring API.
type CircuitBreakerConfig struct {
	Enabled bool `koanf:"enabled"`

	// MinRequests is the number of requests in an interval before the
	// failure ratio is considered.
	MinRequests uint32 `koanf:"min_requests" validate:"min=1"`

	FailureRatio float64 `koanf:"failure_ratio" validate:"gt=0,lte=1"`

	// Interval is the rolling window in seconds.
	Interval float64 `koanf:"interval" validate:"gt=0"`

	// OpenTimeout is how long the breaker stays open, in seconds.
	OpenTimeout float64 `koanf:"open_timeout" validate:"gt=0"`
}

// ExcelConfig names the input and output tables.
type ExcelConfig struct {
	InputFile  string `koanf:"input_file"`
	OutputFile string `koanf:"output_file"`

	// SheetName is a sheet name or a zero-based index ("0" is the first sheet).
	SheetName string `koanf:"sheet_name"`
}

// ColumnMappingsConfig maps each logical input field to the header the
// operator expects to find in the input table.
type ColumnMappingsConfig struct {
	UserID         string `koanf:"user_id" validate:"required"`
	AmazonSpends   string `koanf:"amazon_spends"`
	FlipkartSpends string `koanf:"flipkart_spends"`
	Myntra         string `koanf:"myntra"`
	Ajio           string `koanf:"ajio"`
	AvgGMV         string `koanf:"avg_gmv"`
	Grocery        string `koanf:"grocery"`
	TotalGMV       string `koanf:"total_gmv"`
}

// Logical field names used as keys in a resolved column mapping.
const (
	FieldUserID         = "user_id"
	FieldAmazonSpends   = "amazon_spends"
	FieldFlipkartSpends = "flipkart_spends"
	FieldMyntra         = "myntra"
	FieldAjio           = "ajio"
	FieldAvgGMV         = "avg_gmv"
	FieldGrocery        = "grocery"
	FieldTotalGMV       = "total_gmv"
)

// ColumnTarget pairs a logical field with its configured header.
type ColumnTarget struct {
	Field  string
	Target string
}

// Targets returns the configured fields in a stable order, skipping blanks.
func (c ColumnMappingsConfig) Targets() []ColumnTarget {
	all := []ColumnTarget{
		{FieldUserID, c.UserID},
		{FieldAmazonSpends, c.AmazonSpends},
		{FieldFlipkartSpends, c.FlipkartSpends},
		{FieldMyntra, c.Myntra},
		{FieldAjio, c.Ajio},
		{FieldAvgGMV, c.AvgGMV},
		{FieldGrocery, c.Grocery},
		{FieldTotalGMV, c.TotalGMV},
	}
	out := make([]ColumnTarget, 0, len(all))
	for _, t := range all {
		if t.Target != "" {
			out = append(out, t)
		}
	}
	return out
}

// Aggregation modes for other_online_spends.
const (
	ModeSumComponents = "sum_components"
	ModeConfirmedOnly = "confirmed_only"
)

// Card name display modes.
const (
	CardNameModeCardGenius = "cardgenius"
	CardNameModeCashKaro   = "cashkaro"
)

// ProcessingConfig controls how rows are processed and reported.
type ProcessingConfig struct {
	TopNCards        int      `koanf:"top_n_cards" validate:"min=1,max=50"`
	ExtractSpendKeys []string `koanf:"extract_spend_keys" validate:"dive,required"`
	SkipEmptyRows    bool     `koanf:"skip_empty_rows"`
	ContinueOnError  bool     `koanf:"continue_on_error"`
	OtherOnlineMode  string   `koanf:"other_online_mode" validate:"oneof=sum_components confirmed_only"`

	// Workers > 1 processes rows concurrently under the same global rate limit.
	Workers int `koanf:"workers" validate:"min=1,max=64"`

	CardNameMode string `koanf:"card_name_mode" validate:"oneof=cardgenius cashkaro"`
}

// CardMappingConfig configures the card-name reconciler.
type CardMappingConfig struct {
	OverridesFile string `koanf:"overrides_file"`

	// Threshold is the exploratory fuzzy threshold used by `cardrank match`.
	Threshold float64 `koanf:"threshold" validate:"gt=0,lte=1"`

	// ProductionThreshold gates fuzzy acceptance when strict matching is
	// explicitly relaxed.
	ProductionThreshold float64 `koanf:"production_threshold" validate:"gt=0,lte=1"`
}

// ServerConfig configures `cardrank serve`.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`

	// APIKey is required in the X-API-Key header of every /api/v1 request.
	APIKey string `koanf:"api_key"`

	MaxUsersPerJob  int      `koanf:"max_users_per_job" validate:"min=1"`
	RateLimitReqs   int      `koanf:"rate_limit_requests" validate:"min=1"`
	RateLimitWindow float64  `koanf:"rate_limit_window" validate:"gt=0"`
	CORSOrigins     []string `koanf:"cors_origins"`
	ShutdownTimeout float64  `koanf:"shutdown_timeout" validate:"gt=0"`
}

// RateLimitDuration returns RateLimitWindow as a time.Duration.
func (s ServerConfig) RateLimitDuration() time.Duration {
	return seconds(s.RateLimitWindow)
}

// ShutdownDuration returns ShutdownTimeout as a time.Duration.
func (s ServerConfig) ShutdownDuration() time.Duration {
	return seconds(s.ShutdownTimeout)
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
