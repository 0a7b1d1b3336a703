//go:build ocr

// Package ocr recognizes word tokens on page images so they can be
// associated with detected tables.
//
// This package wraps the Tesseract OCR engine via gosseract. It requires
// Tesseract to be installed on the system. On Ubuntu/Debian:
//
//	apt-get install tesseract-ocr libtesseract-dev
package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/vesselgpt/vessel/internal/detect"
)

// Enabled reports whether OCR support was compiled in.
func Enabled() bool { return true }

// Client wraps Tesseract for OCR operations. A Client is safe for concurrent
// use; calls are serialized because a Tesseract handle is not.
type Client struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New creates a new OCR client. lang may be empty for English, or several
// languages joined with "+", e.g. "eng+fra".
func New(lang string) (*Client, error) {
	client := gosseract.NewClient()
	if lang != "" {
		if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
			client.Close()
			return nil, fmt.Errorf("set ocr language: %w", err)
		}
	}
	return &Client{client: client}, nil
}

// Close releases OCR resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Tokens recognizes words in an encoded image and returns them with their
// boxes in image pixels.
func (c *Client) Tokens(ctx context.Context, imageData []byte) ([]detect.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.SetImageFromBytes(imageData); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}
	boxes, err := c.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("OCR failed: %w", err)
	}

	tokens := make([]detect.Token, 0, len(boxes))
	for _, b := range boxes {
		word := strings.TrimSpace(b.Word)
		if word == "" {
			continue
		}
		tokens = append(tokens, detect.Token{
			Text: word,
			Box: detect.Box{
				float64(b.Box.Min.X), float64(b.Box.Min.Y),
				float64(b.Box.Max.X), float64(b.Box.Max.Y),
			},
			Confidence: b.Confidence,
		})
	}
	return tokens, nil
}
