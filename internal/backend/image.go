package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ArtifactWriter stores generated image bytes under a key. Satisfied by
// storage.ArtifactStore.
type ArtifactWriter interface {
	Put(ctx context.Context, key string, reader io.Reader) error
}

// ImageClient talks to an OpenAI-compatible image-generation endpoint and
// stores the resulting PNG through an ArtifactWriter.
type ImageClient struct {
	logger     *slog.Logger
	baseURL    string
	apiKey     string
	model      string
	size       string
	store      ArtifactWriter
	httpClient *http.Client
}

func NewImageClient(log *slog.Logger, baseURL, apiKey, model, size string, timeout time.Duration, store ArtifactWriter) (*ImageClient, error) {
	if log == nil {
		log = slog.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-image-1"
	}
	if size == "" {
		size = "1024x1024"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if store == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	return &ImageClient{
		logger:     log.With(slog.String("service", "image_backend")),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		size:       size,
		store:      store,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *ImageClient) ID() string { return IDImage }

type imageGenerationResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Execute generates one image for req.Content and stores it, returning the
// artifact key and a short caption.
func (c *ImageClient) Execute(ctx context.Context, req Request) (Result, error) {
	prompt := strings.TrimSpace(req.Content)
	if prompt == "" {
		return Result{}, Errorf(IDImage, "empty prompt")
	}

	payload, err := json.Marshal(map[string]any{
		"model":           c.model,
		"prompt":          prompt,
		"n":               1,
		"size":            c.size,
		"response_format": "b64_json",
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, Errorf(IDImage, "request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, Errorf(IDImage, "read response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, Errorf(IDImage, "status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed imageGenerationResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, Errorf(IDImage, "invalid response: %v", err)
	}
	if parsed.Error != nil {
		return Result{}, Errorf(IDImage, "%s", parsed.Error.Message)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].B64JSON == "" {
		return Result{}, Errorf(IDImage, "no image data in response")
	}

	raw, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return Result{}, Errorf(IDImage, "decode image data: %v", err)
	}

	key := uuid.NewString() + ".png"
	if err := c.store.Put(ctx, key, bytes.NewReader(raw)); err != nil {
		return Result{}, Errorf(IDImage, "store artifact: %v", err)
	}
	c.logger.Info("image generated",
		slog.String("key", key),
		slog.Int("bytes", len(raw)))

	return Result{
		Kind: KindImage,
		Image: &ImageArtifact{
			StorageKey: key,
			Mime:       "image/png",
			Prompt:     prompt,
			Caption:    captionFor(prompt),
		},
	}, nil
}

// captionFor shortens long prompts for display next to the delivered image.
func captionFor(prompt string) string {
	if len(prompt) <= 80 {
		return prompt
	}
	return prompt[:77] + "..."
}
