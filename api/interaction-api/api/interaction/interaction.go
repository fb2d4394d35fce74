// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package interaction_api

import (
	interaction_client "github.com/rapidaai/interactions/api/interaction-api/client"
	internal_playback "github.com/rapidaai/interactions/api/interaction-api/internal/playback"
	internal_recorder "github.com/rapidaai/interactions/api/interaction-api/internal/recorder"
	internal_type "github.com/rapidaai/interactions/api/interaction-api/internal/type"
	internal_uploader "github.com/rapidaai/interactions/api/interaction-api/internal/uploader"
	"github.com/rapidaai/interactions/config"
	"github.com/rapidaai/interactions/pkg/commons"
)

// NewLogger builds the service logger from configuration: level from
// LOG_LEVEL, optionally tee'd into a rotating file when LOG_FILE is set.
func NewLogger(cfg *config.AppConfig) (commons.Logger, error) {
	opts := []commons.LoggerOption{commons.WithLevel(cfg.LogLevel)}
	if cfg.LogFile != "" {
		opts = append(opts, commons.WithRotatingFile(cfg.LogFile))
	}
	return commons.NewApplicationLogger(opts...)
}

// CaptureApi is the assembled capture side: backend client, upload pipeline
// with its health monitor, and the interaction logger producers call.
type CaptureApi struct {
	cfg    *config.AppConfig
	logger commons.Logger

	Interactions *internal_recorder.InteractionLogger
	Pipeline     *internal_uploader.Pipeline
	Monitor      *internal_uploader.Monitor
}

// NewCaptureApi wires the capture components from configuration: pipeline
// tuning, monitor thresholds and the backend endpoint all come from cfg.
func NewCaptureApi(cfg *config.AppConfig, logger commons.Logger) *CaptureApi {
	client := interaction_client.NewInteractionServiceClient(cfg, logger)
	pipeline := internal_uploader.NewPipeline(logger, client,
		internal_uploader.OptionsFromConfig(cfg)...)

	return &CaptureApi{
		cfg:          cfg,
		logger:       logger,
		Interactions: internal_recorder.NewInteractionLogger(logger, pipeline, client),
		Pipeline:     pipeline,
		Monitor:      internal_uploader.NewMonitorFromConfig(logger, pipeline, cfg),
	}
}

// Close abandons whatever the pipeline has not delivered. EndSession on the
// interaction logger is the graceful path; Close is the teardown path.
func (c *CaptureApi) Close() {
	c.Monitor.Stop()
	c.Pipeline.Close()
}

// NewReplayScheduler wires a playback scheduler from configuration: the
// backend fetcher, the configured segmentation thresholds and fetch page
// size. Additional options (observer, renderer, speed) are appended after
// the configured ones.
func NewReplayScheduler(cfg *config.AppConfig, logger commons.Logger, output internal_type.AudioOutput, opts ...internal_playback.Option) *internal_playback.Scheduler {
	fetcher := interaction_client.NewInteractionServiceClient(cfg, logger)
	base := internal_playback.OptionsFromConfig(cfg)
	return internal_playback.NewScheduler(logger, fetcher, output, append(base, opts...)...)
}
