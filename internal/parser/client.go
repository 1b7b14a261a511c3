/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package parser turns free-form text into task drafts using an
// OpenAI-compatible chat completions endpoint.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/friendsincode/taskplanner/internal/telemetry"
)

var (
	// ErrNoAPIKey is returned when no API key is configured.
	ErrNoAPIKey = errors.New("ai api key not configured")
	// ErrUpstream wraps failures from the completions endpoint.
	ErrUpstream = errors.New("ai request failed")
	// ErrMalformed is returned when the model reply is not task JSON.
	ErrMalformed = errors.New("ai reply is not valid task json")
)

const (
	defaultBaseURL = "https://api.openai.com/v1/"
	defaultModel   = "gpt-3.5-turbo"
	maxTokens      = 1024
	temperature    = 0.3
	maxReplyBytes  = 1 << 20
)

// Config configures the client.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	RatePerMinute int
	Timeout       time.Duration
	Location      *time.Location
}

// Client calls the completions endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
	now     func() time.Time
}

// New creates a parser client.
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	limit := rate.Inf
	burst := 1
	if cfg.RatePerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RatePerMinute))
		burst = cfg.RatePerMinute
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "parser").Logger(),
		now:     time.Now,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.APIKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Parse asks the model to extract one or more tasks from text.
func (c *Client) Parse(ctx context.Context, text, systemPrompt string) ([]Draft, error) {
	if !c.Enabled() {
		telemetry.ParserRequestsTotal.WithLabelValues("disabled").Inc()
		return nil, ErrNoAPIKey
	}
	if err := c.limiter.Wait(ctx); err != nil {
		telemetry.ParserRequestsTotal.WithLabelValues("rate_limited").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	now := c.now().In(c.cfg.Location)
	reply, err := c.complete(ctx, systemPrompt,
		fmt.Sprintf("Current date and time: %s.\n\nTask to parse:\n%s", now.Format("2006-01-02 15:04"), text))
	if err != nil {
		telemetry.ParserRequestsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	drafts, err := decodeDrafts(reply, now, c.logger)
	if err != nil {
		telemetry.ParserRequestsTotal.WithLabelValues("malformed").Inc()
		return nil, err
	}

	telemetry.ParserRequestsTotal.WithLabelValues("ok").Inc()
	return drafts, nil
}

func (c *Client) complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read reply: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode reply: %v", ErrUpstream, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: reply has no choices", ErrUpstream)
	}
	return parsed.Choices[0].Message.Content, nil
}
