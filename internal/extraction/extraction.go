// Package extraction runs one document through splitting, optional table
// detection, inference and validation, and assembles the output.
package extraction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vesselgpt/vessel/internal/detect"
	"github.com/vesselgpt/vessel/internal/document"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/inference"
	"github.com/vesselgpt/vessel/internal/metrics"
	"github.com/vesselgpt/vessel/internal/schema"
)

// Options controls one extraction.
type Options struct {
	TablesOnly   bool   // extract only detected table regions
	GenericQuery bool   // ignore the query and ask for everything
	Debug        bool   // log queries and raw answers, keep artifacts
	DebugDir     string // where artifacts are kept when Debug is set
}

// Request is one extraction job.
type Request struct {
	Document *document.Document
	Query    string
	Options  Options
}

// UnitReport is the validation outcome for one inference unit.
type UnitReport struct {
	Page   int           `json:"page,omitempty"`
	Table  int           `json:"table,omitempty"`
	Kind   string        `json:"kind"` // page, table or form
	Report schema.Report `json:"report"`
}

// Result is the aggregated output. Output is an array with one value per
// page, a single value, or an object with "page_tables" (and "page_forms").
type Result struct {
	Output  any          `json:"output"`
	Units   int          `json:"units"`
	Reports []UnitReport `json:"reports,omitempty"`
}

// Splitter materialises document pages in a private scratch directory.
type Splitter interface {
	Split(ctx context.Context, doc *document.Document, opts document.SplitOptions) (*document.Split, error)
}

// TableDetector finds table crops on page images, one result per page.
type TableDetector interface {
	DetectPages(ctx context.Context, pages []detect.PageInput, opts detect.Options, parallelism int) ([][]detect.Crop, error)
}

// TokenSource recognizes words on an encoded page image.
type TokenSource interface {
	Tokens(ctx context.Context, imageData []byte) ([]detect.Token, error)
}

// Orchestrator is safe for concurrent use; per-request state lives in a job.
type Orchestrator struct {
	splitter    Splitter
	backend     inference.Backend
	detector    TableDetector
	tokens      TokenSource
	thresholds  map[string]float64
	padding     int
	parallelism int
	debugDir    string
	logger      *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDetector enables tables-only extraction.
func WithDetector(d TableDetector) Option {
	return func(o *Orchestrator) { o.detector = d }
}

// WithTokenSource attaches OCR tokens to detected crops.
func WithTokenSource(ts TokenSource) Option {
	return func(o *Orchestrator) { o.tokens = ts }
}

func WithThresholds(t map[string]float64) Option {
	return func(o *Orchestrator) { o.thresholds = t }
}

func WithPadding(p int) Option {
	return func(o *Orchestrator) { o.padding = p }
}

// WithParallelism bounds concurrent detector calls across pages.
func WithParallelism(n int) Option {
	return func(o *Orchestrator) { o.parallelism = n }
}

// WithDebugDir is the artifact directory used when a debug request names none.
func WithDebugDir(dir string) Option {
	return func(o *Orchestrator) { o.debugDir = dir }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Orchestrator.
func New(splitter Splitter, backend inference.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		splitter:    splitter,
		backend:     backend,
		thresholds:  detect.DefaultThresholds(),
		padding:     10,
		parallelism: 1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// route is the decision table key.
type route struct {
	pdf        bool
	tablesOnly bool
}

type handler func(o *Orchestrator, ctx context.Context, j *job) (any, error)

var routes = map[route]handler{
	{pdf: true, tablesOnly: false}:  (*Orchestrator).pdfPages,
	{pdf: true, tablesOnly: true}:   (*Orchestrator).pdfTables,
	{pdf: false, tablesOnly: false}: (*Orchestrator).singleImage,
	{pdf: false, tablesOnly: true}:  (*Orchestrator).imageTables,
}

func (r route) String() string {
	switch {
	case r.pdf && r.tablesOnly:
		return "pdf_tables"
	case r.pdf:
		return "pdf_pages"
	case r.tablesOnly:
		return "image_tables"
	default:
		return "image"
	}
}

// job carries the state of one request.
type job struct {
	doc      *document.Document
	plan     *plan
	opts     Options
	debugDir string
	split    *document.Split
	units    int
	reports  []UnitReport
}

// Extract runs req to completion. Input, query and configuration errors are
// returned before any backend call. Malformed model output never fails the
// request; the affected unit carries an error marker instead.
func (o *Orchestrator) Extract(ctx context.Context, req Request) (_ *Result, err error) {
	start := time.Now()
	if req.Document == nil || len(req.Document.Data) == 0 {
		return nil, vesselerrors.Document("document is empty")
	}

	r := route{pdf: req.Document.IsPDF(), tablesOnly: req.Options.TablesOnly}
	defer func() {
		status := "ok"
		if err != nil {
			status = vesselerrors.TypeOf(err).String()
		}
		metrics.RecordExtraction(r.String(), status)
	}()

	p, err := newPlan(req.Query, req.Options)
	if err != nil {
		return nil, err
	}
	if r.tablesOnly && o.detector == nil {
		return nil, vesselerrors.Configuration("tables-only extraction requires a table detector")
	}

	j := &job{doc: req.Document, plan: p, opts: req.Options}
	if req.Options.Debug {
		j.debugDir = req.Options.DebugDir
		if j.debugDir == "" {
			j.debugDir = o.debugDir
		}
	}

	split, err := o.splitter.Split(ctx, req.Document, document.SplitOptions{RenderImages: true, DebugDir: j.debugDir})
	if err != nil {
		return nil, err
	}
	j.split = split
	defer func() {
		if rerr := split.Release(); rerr != nil {
			o.logger.Warn("failed to release scratch dir", zap.String("dir", split.ScratchDir), zap.Error(rerr))
		}
	}()

	o.logger.Info("extraction started",
		zap.String("file", req.Document.Filename),
		zap.String("route", r.String()),
		zap.Int("pages", split.PageCount),
		zap.Bool("generic", p.generic),
	)
	if req.Options.Debug {
		o.logger.Info("query", zap.String("instruction", p.instruction))
	}

	output, err := routes[r](o, ctx, j)
	if err != nil {
		return nil, err
	}

	o.logger.Info("extraction finished",
		zap.String("file", req.Document.Filename),
		zap.String("route", r.String()),
		zap.Int("units", j.units),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &Result{Output: output, Units: j.units, Reports: j.reports}, nil
}

// pdfPages sends every page in one batch and returns one value per page.
func (o *Orchestrator) pdfPages(ctx context.Context, j *job) (any, error) {
	reqs := make([]inference.Request, len(j.split.Pages))
	for i, p := range j.split.Pages {
		reqs[i] = inference.Request{Artifact: p.Path, Query: j.plan.instruction, Page: p.Number}
	}
	results, err := o.infer(ctx, reqs)
	if err != nil {
		return nil, err
	}

	out := make([]any, len(results))
	for i, res := range results {
		out[i] = o.decode(j, res, j.plan.schema, unitPage)
	}
	return out, nil
}

// singleImage sends the one image and returns its decoded value.
func (o *Orchestrator) singleImage(ctx context.Context, j *job) (any, error) {
	page := j.split.Pages[0]
	results, err := o.infer(ctx, []inference.Request{{Artifact: page.Path, Query: j.plan.instruction}})
	if err != nil {
		return nil, err
	}
	return o.decode(j, results[0], j.plan.schema, unitPage), nil
}

func (o *Orchestrator) pdfTables(ctx context.Context, j *job) (any, error) {
	return o.tables(ctx, j, true)
}

func (o *Orchestrator) imageTables(ctx context.Context, j *job) (any, error) {
	return o.tables(ctx, j, false)
}
