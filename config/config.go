// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// AppConfig carries every tunable of the interaction pipeline.
type AppConfig struct {
	// Backend endpoint for interaction logs.
	InteractionHost string `mapstructure:"INTERACTION_HOST" validate:"required,url"`

	// Upload pipeline.
	UploadTick        time.Duration `mapstructure:"UPLOAD_TICK"`
	UploadBatchSize   int           `mapstructure:"UPLOAD_BATCH_SIZE" validate:"gt=0"`
	UploadConcurrency int64         `mapstructure:"UPLOAD_CONCURRENCY" validate:"gt=0"`
	UploadTimeout     time.Duration `mapstructure:"UPLOAD_TIMEOUT"`

	// Health monitor thresholds (observability only, never behavioural).
	HealthSampleInterval  time.Duration `mapstructure:"HEALTH_SAMPLE_INTERVAL"`
	HealthBacklogWarn     int           `mapstructure:"HEALTH_BACKLOG_WARN" validate:"gt=0"`
	HealthConsecutiveWarn uint64        `mapstructure:"HEALTH_CONSECUTIVE_WARN" validate:"gt=0"`

	// Segmentation thresholds.
	SegmentMergeGap  time.Duration `mapstructure:"SEGMENT_MERGE_GAP"`
	MinSpeechElapsed time.Duration `mapstructure:"MIN_SPEECH_ELAPSED"`

	// Replay fetch page size.
	FetchPageLimit int `mapstructure:"FETCH_PAGE_LIMIT" validate:"gt=0"`

	// Logging.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	LogFile  string `mapstructure:"LOG_FILE"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("INTERACTION_HOST", "http://localhost:8080")
	v.SetDefault("UPLOAD_TICK", 25*time.Millisecond)
	v.SetDefault("UPLOAD_BATCH_SIZE", 5)
	v.SetDefault("UPLOAD_CONCURRENCY", 6)
	v.SetDefault("UPLOAD_TIMEOUT", 10*time.Second)
	v.SetDefault("HEALTH_SAMPLE_INTERVAL", 5*time.Second)
	v.SetDefault("HEALTH_BACKLOG_WARN", 200)
	v.SetDefault("HEALTH_CONSECUTIVE_WARN", 5)
	v.SetDefault("SEGMENT_MERGE_GAP", 3*time.Second)
	v.SetDefault("MIN_SPEECH_ELAPSED", 800*time.Millisecond)
	v.SetDefault("FETCH_PAGE_LIMIT", 100)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
}

// NewAppConfig reads configuration from the environment with optional file
// override (interaction.env in the working directory), applies defaults and
// validates the result.
func NewAppConfig() (*AppConfig, error) {
	v := viper.New()
	defaults(v)

	v.SetConfigName("interaction")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; the environment alone is a valid source.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
