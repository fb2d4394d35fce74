// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package interaction_client

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	internal_type "github.com/rapidaai/interactions/api/interaction-api/internal/type"
	"github.com/rapidaai/interactions/config"
	"github.com/rapidaai/interactions/pkg/commons"
)

// InteractionServiceClient is the HTTP face of the interaction-log backend.
// It serves the upload pipeline (Dispatch), the capture session lifecycle
// (SessionStarted/SessionEnded) and the replay loader (FetchPage).
type InteractionServiceClient interface {
	internal_type.Dispatcher
	internal_type.SessionNotifier
	internal_type.RecordFetcher
}

type interactionServiceClient struct {
	cfg    *config.AppConfig
	logger commons.Logger
	http   *resty.Client
}

// logsPage is the paginated fetch response shape.
type logsPage struct {
	Logs       []*internal_type.InteractionRecord `json:"logs"`
	TotalCount int64                              `json:"totalCount"`
}

func NewInteractionServiceClient(cfg *config.AppConfig, logger commons.Logger) InteractionServiceClient {
	http := resty.New().
		SetBaseURL(cfg.InteractionHost).
		SetHeader("Content-Type", "application/json")

	return &interactionServiceClient{
		cfg:    cfg,
		logger: logger,
		http:   http,
	}
}

// Dispatch delivers one serialized record. The response body carries nothing
// of interest; only the success/failure classification matters; the caller
// drops failures without retrying.
func (c *interactionServiceClient) Dispatch(ctx context.Context, record *internal_type.InteractionRecord) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(record).
		Post("/interaction-logs")
	if err != nil {
		return fmt.Errorf("failed to post interaction record: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("interaction record rejected: %s", resp.Status())
	}
	return nil
}

func (c *interactionServiceClient) SessionStarted(ctx context.Context, sessionID string, chatSessionID *string) error {
	body := map[string]interface{}{}
	if chatSessionID != nil {
		body["chatSessionId"] = *chatSessionID
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(fmt.Sprintf("/interaction-logs/session/%s/start", sessionID))
	if err != nil {
		return fmt.Errorf("failed to notify session start: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("session start rejected: %s", resp.Status())
	}
	return nil
}

func (c *interactionServiceClient) SessionEnded(ctx context.Context, sessionID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf("/interaction-logs/session/%s/end", sessionID))
	if err != nil {
		return fmt.Errorf("failed to notify session end: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("session end rejected: %s", resp.Status())
	}
	return nil
}

// FetchPage retrieves one page of a session's records with media included.
func (c *interactionServiceClient) FetchPage(ctx context.Context, sessionID string, limit, offset int) ([]*internal_type.InteractionRecord, int64, error) {
	page := &logsPage{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"limit":        strconv.Itoa(limit),
			"offset":       strconv.Itoa(offset),
			"includeMedia": "true",
		}).
		SetResult(page).
		Get(fmt.Sprintf("/interaction-logs/%s", sessionID))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch interaction logs: %w", err)
	}
	if resp.IsError() {
		return nil, 0, fmt.Errorf("interaction log fetch rejected: %s", resp.Status())
	}
	return page.Logs, page.TotalCount, nil
}
