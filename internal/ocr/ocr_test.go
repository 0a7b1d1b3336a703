//go:build ocr

package ocr

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_TokensBlankImage(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	defer c.Close()

	img := image.NewGray(image.Rect(0, 0, 64, 32))
	for i := range img.Pix {
		img.Pix[i] = color.White.Y
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	tokens, err := c.Tokens(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, tokens)
	assert.True(t, Enabled())
}
