// Package vision identifies UI elements from screenshots via an
// external vision-model API, as the fallback path when accessibility
// queries fail.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docugen/platform/internal/errors"
)

// Client sends one image-plus-prompt request and returns the model's
// text reply.
type Client interface {
	Complete(ctx context.Context, imageData []byte, prompt string) (string, error)
}

const (
	defaultMaxTokens  = 2048
	defaultAPIVersion = "2023-06-01"
	requestTimeout    = 60 * time.Second
)

// HTTPClient talks to an Anthropic-compatible messages endpoint.
type HTTPClient struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
}

// NewHTTPClient builds a client for the given endpoint and model.
func NewHTTPClient(endpoint, model, apiKey string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		model:    model,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete posts the screenshot and prompt and returns the reply text.
func (c *HTTPClient) Complete(ctx context.Context, imageData []byte, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New(errors.CodeVisionAPI, "vision API key not configured")
	}

	reqBody := messagesRequest{
		Model:     c.model,
		MaxTokens: defaultMaxTokens,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: mediaType(imageData),
						Data:      base64.StdEncoding.EncodeToString(imageData),
					},
				},
				{Type: "text", Text: prompt},
			},
		}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeVisionAPI, "failed to encode vision request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, errors.CodeVisionAPI, "failed to build vision request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", defaultAPIVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeVisionAPI, "vision request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrap(err, errors.CodeVisionAPI, "failed to read vision response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf(errors.CodeVisionAPI, "vision API returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(err, errors.CodeVisionAPI, "failed to decode vision response")
	}
	if parsed.Error != nil {
		return "", errors.Newf(errors.CodeVisionAPI, "vision API error: %s", parsed.Error.Message)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New(errors.CodeVisionAPI, "vision response contained no text block")
}

// mediaType sniffs the image format from magic bytes, defaulting to PNG.
func mediaType(data []byte) string {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return "image/jpeg"
	case len(data) >= 6 && string(data[:6]) == "GIF87a",
		len(data) >= 6 && string(data[:6]) == "GIF89a":
		return "image/gif"
	default:
		return "image/png"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
