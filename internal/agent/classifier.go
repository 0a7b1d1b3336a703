package agent

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/document"
	"github.com/vesselgpt/vessel/internal/inference"
	"github.com/vesselgpt/vessel/internal/schema"
)

const pageTypeTarget = `{"page_type": "str"}`

// Classifier assigns a page type to every page, in page order. An empty type
// means the page could not be classified.
type Classifier interface {
	Classify(ctx context.Context, pages []document.Page) ([]string, error)
}

// BackendClassifier asks the inference backend for {"page_type": ...} on each
// page in one batch.
type BackendClassifier struct {
	backend     inference.Backend
	instruction string
	logger      *zap.Logger
}

// NewBackendClassifier creates a classifier choosing among pageTypes.
func NewBackendClassifier(backend inference.Backend, pageTypes []string, logger *zap.Logger) (*BackendClassifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	q, err := schema.BuildQuery(pageTypeTarget)
	if err != nil {
		return nil, err
	}
	instruction := q.Instruction
	if len(pageTypes) > 0 {
		instruction += ". page_type is one of: " + strings.Join(pageTypes, ", ") + ", or other"
	}
	return &BackendClassifier{backend: backend, instruction: instruction, logger: logger}, nil
}

func (c *BackendClassifier) Classify(ctx context.Context, pages []document.Page) ([]string, error) {
	reqs := make([]inference.Request, len(pages))
	for i, p := range pages {
		reqs[i] = inference.Request{Artifact: p.Path, Query: c.instruction, Page: p.Number}
	}
	results, err := c.backend.Infer(ctx, reqs)
	if err != nil {
		return nil, err
	}

	types := make([]string, len(pages))
	for i, res := range results {
		if i >= len(types) {
			break
		}
		var out struct {
			PageType string `json:"page_type"`
		}
		if err := json.Unmarshal(schema.TrimFence([]byte(res.Text)), &out); err != nil {
			c.logger.Warn("page type answer is not JSON", zap.Int("page", res.Page), zap.Error(err))
			continue
		}
		types[i] = strings.TrimSpace(out.PageType)
	}
	return types, nil
}
