package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/config"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/runner"
)

// Hosted calls an OpenAI-compatible chat completions endpoint with the image
// inlined as a data URL.
type Hosted struct {
	endpoint   string
	token      string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

func newHosted(cfg config.BackendConfig, hc *http.Client, logger *zap.Logger) (*Hosted, error) {
	if cfg.Endpoint == "" {
		return nil, vesselerrors.Configuration("%s backend requires an endpoint", MethodHosted)
	}
	if cfg.Token == "" {
		return nil, vesselerrors.Configuration("%s backend requires a token", MethodHosted)
	}
	return &Hosted{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/") + "/chat/completions",
		token:      cfg.Token,
		model:      cfg.Model,
		httpClient: hc,
		logger:     logger,
	}, nil
}

func (h *Hosted) Method() Method { return MethodHosted }

func (h *Hosted) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

// Infer sends one chat completion per request, in order.
func (h *Hosted) Infer(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, 0, len(reqs))
	for _, r := range reqs {
		text, err := h.complete(ctx, r)
		if err != nil {
			return nil, err
		}
		results = append(results, resultFor(r, text))
	}
	return results, nil
}

func (h *Hosted) complete(ctx context.Context, r Request) (_ string, err error) {
	data, err := readArtifact(r)
	if err != nil {
		return "", err
	}

	start := time.Now()
	defer func() { observe(MethodHosted, start, err) }()

	body := map[string]any{
		"temperature": 0,
		"messages": []map[string]any{
			{
				"role": "user",
				"content": []map[string]any{
					{"type": "image_url", "image_url": map[string]string{"url": dataURL(data)}},
					{"type": "text", "text": r.Query},
				},
			},
		},
	}
	if h.model != "" {
		body["model"] = h.model
	}

	raw, err := h.post(ctx, body)
	if err != nil {
		h.logger.Error("hosted inference failed",
			zap.Int("page", r.Page), zap.Int("table", r.Table),
			zap.Int64("elapsed_ms", time.Since(start).Milliseconds()), zap.Error(err))
		return "", unavailable(MethodHosted, r, err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", unavailable(MethodHosted, r, fmt.Errorf("decode chat completion: %w", err))
	}
	if len(cc.Choices) == 0 {
		return "", unavailable(MethodHosted, r, fmt.Errorf("no choices in chat completion"))
	}

	h.logger.Debug("hosted inference ok",
		zap.Int("page", r.Page), zap.Int("table", r.Table),
		zap.Int("content_len", len(cc.Choices[0].Message.Content)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()))
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

func (h *Hosted) post(ctx context.Context, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, runner.Truncate(strings.TrimSpace(string(raw)), 2048))
	}
	return raw, nil
}

func dataURL(data []byte) string {
	return "data:" + http.DetectContentType(data) + ";base64," + base64.StdEncoding.EncodeToString(data)
}
