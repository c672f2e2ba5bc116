package glm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/promptloom/promptloom/internal/orchestrator"
	"github.com/promptloom/promptloom/internal/orchestrator/config"
)

// ErrNoAPIKey is returned when the client is constructed without credentials
var ErrNoAPIKey = errors.New("glm: api key is required")

// Client calls the GLM chat completion API, one request per role turn.
// It implements orchestrator.AgentCaller.
type Client struct {
	cfg        config.GLMConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a GLM client from configuration
func NewClient(cfg config.GLMConfig, logger *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultAgentTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = config.DefaultAgentMaxRetries
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call sends one role turn to the API and returns the model's reply
func (c *Client) Call(ctx context.Context, role orchestrator.Role, payload *orchestrator.ContextPayload) (string, error) {
	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(role)},
			{Role: "user", Content: payload.Render()},
		},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("glm: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		reply, err := c.post(ctx, data)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		c.logger.Warn("GLM call failed",
			"role", role,
			"attempt", attempt,
			"max_retries", c.cfg.MaxRetries,
			"error", err,
		)

		if attempt < c.cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return "", fmt.Errorf("glm: %d attempts failed: %w", c.cfg.MaxRetries, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("api error %s: %s", parsed.Error.Code, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("empty choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// systemPrompt returns the role instruction. The markers here are the
// contract the verdict and question parsers rely on.
func systemPrompt(role orchestrator.Role) string {
	switch role {
	case orchestrator.RoleProduct:
		return "You are a product owner. Turn the goal and dialogue into a precise, " +
			"testable requirement statement for a prompt that accomplishes the goal. " +
			"If the goal is too ambiguous to state a requirement, respond with a single " +
			"line starting with 'CLARIFY: ' followed by one question for the user, and " +
			"nothing else."
	case orchestrator.RoleTechnical:
		return "You are a prompt engineer. Given the requirement and dialogue, write " +
			"the best complete prompt that satisfies the requirement. Respond with the " +
			"prompt itself, introduced by a line reading 'Final Prompt:'."
	case orchestrator.RoleReview:
		return "You are a reviewer. Judge whether the solution satisfies the " +
			"requirement. Respond with a first line of exactly 'APPROVED' or " +
			"'REJECTED'. After a rejection, explain on the following lines what must " +
			"change."
	default:
		return "Continue the dialogue helpfully."
	}
}
