package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorType_String(t *testing.T) {
	tests := []struct {
		et   ErrorType
		want string
	}{
		{ErrorTypeDocument, "DOCUMENT"},
		{ErrorTypeSchema, "SCHEMA"},
		{ErrorTypeQuery, "QUERY"},
		{ErrorTypeBackendUnavailable, "BACKEND_UNAVAILABLE"},
		{ErrorTypeMalformedModelOutput, "MALFORMED_MODEL_OUTPUT"},
		{ErrorTypeConfiguration, "CONFIGURATION"},
		{ErrorType(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.et.String())
	}
}

func TestError_IsSentinel(t *testing.T) {
	err := Document("zero pages in %s", "a.pdf")
	assert.True(t, stderrors.Is(err, ErrDocument))
	assert.False(t, stderrors.Is(err, ErrSchema))

	wrapped := fmt.Errorf("split: %w", err)
	assert.True(t, stderrors.Is(wrapped, ErrDocument))
	assert.Equal(t, ErrorTypeDocument, TypeOf(wrapped))
}

func TestError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := BackendUnavailable(cause, "hosted endpoint %s", "x")
	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, stderrors.Is(err, ErrBackendUnavailable))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestError_WithPage(t *testing.T) {
	err := Document("cannot rasterize").WithPage(3).WithFile("x.pdf")
	assert.Equal(t, 3, err.Page)
	assert.Equal(t, "x.pdf", err.FilePath)
	assert.Contains(t, err.Error(), "page 3")
}

func TestErrorType_IsFatal(t *testing.T) {
	assert.True(t, ErrorTypeDocument.IsFatal())
	assert.True(t, ErrorTypeBackendUnavailable.IsFatal())
	assert.False(t, ErrorTypeMalformedModelOutput.IsFatal())
	assert.Equal(t, ErrorTypeUnknown, TypeOf(stderrors.New("plain")))
}
