package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// GenerativeClient talks to an OpenAI-compatible chat-completions endpoint.
type GenerativeClient struct {
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewGenerativeClient builds the generative backend client. baseURL is the
// API root (without the /chat/completions suffix).
func NewGenerativeClient(log *slog.Logger, baseURL, apiKey, model string, timeout time.Duration) (*GenerativeClient, error) {
	if log == nil {
		log = slog.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("generative base_url is required")
	}
	if model == "" {
		return nil, fmt.Errorf("generative model is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GenerativeClient{
		logger:     log.With(slog.String("service", "generative_backend")),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *GenerativeClient) ID() string { return IDGenerative }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Execute sends one chat completion. Guidance becomes the system turn,
// History is replayed ahead of the request content, and Model overrides the
// configured model when set.
func (c *GenerativeClient) Execute(ctx context.Context, req Request) (Result, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	messages := make([]chatMessage, 0, len(req.History)+2)
	if strings.TrimSpace(req.Guidance) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.Guidance})
	}
	for _, turn := range req.History {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Content})

	payload, err := json.Marshal(chatCompletionRequest{Model: model, Messages: messages})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, Errorf(IDGenerative, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, Errorf(IDGenerative, "read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, Errorf(IDGenerative, "status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, Errorf(IDGenerative, "invalid response: %v", err)
	}
	if parsed.Error != nil {
		return Result{}, Errorf(IDGenerative, "%s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, Errorf(IDGenerative, "empty completion")
	}

	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	c.logger.Debug("completion", slog.String("model", model), slog.Int("reply_len", len(text)))
	return Result{Kind: KindText, Text: text}, nil
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	return s
}
