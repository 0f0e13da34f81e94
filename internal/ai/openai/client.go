// Package openai implements scoring and generation against any
// OpenAI-compatible chat-completions endpoint.
package openai

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

	"github.com/antonk9218/fl-bidder/internal/ai"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 30 * time.Second
)

// Client talks to one chat-completions provider.
type Client struct {
	name        string
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	logger      *zap.Logger
	HTTPClient  *http.Client
}

// Options configure a provider client. Name distinguishes multiple
// OpenAI-compatible providers in logs and results.
type Options struct {
	Name        string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

func New(opts Options, logger *zap.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}

	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "openai"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		name:        name,
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: opts.Temperature,
		logger:      logger,
		HTTPClient:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Model() string {
	return c.model
}

// Score runs a system+user completion and parses the structured result.
func (c *Client) Score(ctx context.Context, system, payload string) (*ai.ScoreResult, error) {
	raw, err := c.complete(ctx, system, payload)
	if err != nil {
		return nil, err
	}

	result, err := ai.ParseScoreResult(raw)
	if err != nil {
		return nil, err
	}

	result.Provider = c.name
	return result, nil
}

// GenerateContent runs a single-message completion and returns the text.
func (c *Client) GenerateContent(ctx context.Context, prompt string) (string, error) {
	return c.complete(ctx, "", prompt)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("make request",
		zap.String("provider", c.name),
		zap.String("url", endpoint),
		zap.String("model", c.model),
	)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", c.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("%s: %s", c.name, parsed.Error.Message)
		}
		return "", fmt.Errorf("%s: bad status: %s", c.name, resp.Status)
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices in response", c.name)
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%s: empty completion", c.name)
	}

	return content, nil
}
