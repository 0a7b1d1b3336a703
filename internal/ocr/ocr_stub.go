//go:build !ocr

// Package ocr recognizes word tokens on page images so they can be
// associated with detected tables.
//
// This is the stub implementation used when the "ocr" build tag is not set.
// All functions return ErrOCRNotEnabled.
//
// To enable OCR, rebuild with the "ocr" build tag:
//
//	go build -tags ocr
package ocr

import (
	"context"

	"github.com/vesselgpt/vessel/internal/detect"
)

// Enabled reports whether OCR support was compiled in.
func Enabled() bool { return false }

// Client is the disabled OCR client.
type Client struct{}

// New always fails with ErrOCRNotEnabled.
func New(string) (*Client, error) {
	return nil, ErrOCRNotEnabled
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

// Tokens always fails with ErrOCRNotEnabled.
func (c *Client) Tokens(context.Context, []byte) ([]detect.Token, error) {
	return nil, ErrOCRNotEnabled
}
