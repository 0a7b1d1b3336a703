// Package agent routes the pages of multi-page PDFs to extraction by page
// type.
package agent

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/document"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/extraction"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Extractor runs one extraction request.
type Extractor interface {
	Extract(ctx context.Context, req extraction.Request) (*extraction.Result, error)
}

// PageResult is the outcome for one processed page.
type PageResult struct {
	Page          int    `json:"page"`
	PageType      string `json:"page_type"`
	ExtractedData any    `json:"extracted_data,omitempty"`
	Error         string `json:"error,omitempty"`
	Status        string `json:"status"`
}

// Report is the agent output for one document.
type Report struct {
	Filename            string       `json:"filename"`
	TotalPagesProcessed int          `json:"total_pages_processed"`
	Results             []PageResult `json:"results"`
}

// Agent classifies pages and extracts the ones it is configured for.
type Agent struct {
	splitter   extraction.Splitter
	classifier Classifier
	extractor  Extractor
	settings   *Settings
	logger     *zap.Logger
}

// New creates an Agent.
func New(splitter extraction.Splitter, classifier Classifier, extractor Extractor, settings *Settings, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		splitter:   splitter,
		classifier: classifier,
		extractor:  extractor,
		settings:   settings,
		logger:     logger,
	}
}

// Execute processes doc, which must be a PDF with more than one page.
// Failures on a single page are reported in its PageResult.
func (a *Agent) Execute(ctx context.Context, doc *document.Document) (*Report, error) {
	if doc == nil || !doc.IsPDF() {
		mediaType := ""
		if doc != nil {
			mediaType = doc.MediaType
		}
		return nil, vesselerrors.Document("document must be PDF, received %q", mediaType)
	}
	tableOpts, err := parseOptions(a.settings.AdjudicationTable.Options)
	if err != nil {
		return nil, err
	}

	split, err := a.splitter.Split(ctx, doc, document.SplitOptions{RenderImages: true})
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := split.Release(); rerr != nil {
			a.logger.Warn("failed to release scratch dir", zap.String("dir", split.ScratchDir), zap.Error(rerr))
		}
	}()
	if split.PageCount <= 1 {
		return nil, vesselerrors.Document("document must contain multiple pages").WithFile(doc.Filename)
	}

	types, err := a.classifier.Classify(ctx, split.Pages)
	if err != nil {
		return nil, err
	}

	var pages []document.Page
	for i, p := range split.Pages {
		if i < len(types) {
			p.Type = types[i]
		}
		if !a.settings.wants(p.Type) {
			a.logger.Info("skipping page", zap.Int("page", p.Number), zap.String("page_type", p.Type))
			continue
		}
		pages = append(pages, p)
	}

	report := &Report{Filename: doc.Filename, TotalPagesProcessed: len(pages), Results: []PageResult{}}
	for _, p := range pages {
		switch p.Type {
		case PageTypeAdjudicationTable:
			report.Results = append(report.Results, a.adjudicationTable(ctx, p, tableOpts))
		case PageTypeAdjudicationDetails:
			// Detail pages are recognized but have no extraction yet.
			a.logger.Info("adjudication details extraction is not implemented", zap.Int("page", p.Number))
		default:
			a.logger.Warn("unsupported page type", zap.Int("page", p.Number), zap.String("page_type", p.Type))
		}
	}
	return report, nil
}

func (a *Agent) adjudicationTable(ctx context.Context, p document.Page, opts extraction.Options) PageResult {
	result := PageResult{Page: p.Number, PageType: p.Type}

	data, err := os.ReadFile(p.Path)
	if err == nil {
		var res *extraction.Result
		res, err = a.extractor.Extract(ctx, extraction.Request{
			Document: document.New(data, filepath.Base(p.Path), ""),
			Query:    a.settings.AdjudicationTable.Query,
			Options:  opts,
		})
		if err == nil {
			result.ExtractedData = res.Output
			result.Status = StatusSuccess
			return result
		}
	}

	a.logger.Error("error processing adjudication table", zap.Int("page", p.Number), zap.Error(err))
	result.Error = err.Error()
	result.Status = StatusFailed
	return result
}
