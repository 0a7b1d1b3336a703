package extraction

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vesselgpt/vessel/internal/detect"
	"github.com/vesselgpt/vessel/internal/document"
	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/inference"
	"github.com/vesselgpt/vessel/internal/schema"
)

const pageSize = 200

func whitePage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, pageSize, pageSize))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

func pngPage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, whitePage()))
	return buf.Bytes()
}

// pdfSplitter stands in for rasterizing a PDF: it writes n blank JPEG pages.
type pdfSplitter struct {
	root  string
	pages int
	calls int
	err   error
}

func (s *pdfSplitter) Split(_ context.Context, doc *document.Document, opts document.SplitOptions) (*document.Split, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if !opts.RenderImages {
		return nil, errors.New("expected rendered pages")
	}
	dir, err := os.MkdirTemp(s.root, "split-*")
	if err != nil {
		return nil, err
	}
	split := &document.Split{PageCount: s.pages, ScratchDir: dir}
	for n := 1; n <= s.pages; n++ {
		path := filepath.Join(dir, fmt.Sprintf("%s_page_%d.jpg", doc.BaseName(), n))
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		err = jpeg.Encode(f, whitePage(), nil)
		f.Close()
		if err != nil {
			return nil, err
		}
		split.Pages = append(split.Pages, document.Page{Number: n, Path: path})
	}
	return split, nil
}

// scriptedBackend answers every request with answer(req).
type scriptedBackend struct {
	mu      sync.Mutex
	batches [][]inference.Request
	answer  func(inference.Request) string
	err     error
}

func (b *scriptedBackend) Infer(_ context.Context, reqs []inference.Request) ([]inference.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, reqs)
	if b.err != nil {
		return nil, b.err
	}
	out := make([]inference.Result, len(reqs))
	for i, r := range reqs {
		_, err := os.Stat(r.Artifact)
		if err != nil {
			return nil, err
		}
		out[i] = inference.Result{Page: r.Page, Table: r.Table, Text: b.answer(r)}
	}
	return out, nil
}

func (b *scriptedBackend) Method() inference.Method { return inference.MethodRemote }
func (b *scriptedBackend) Close() error             { return nil }

func (b *scriptedBackend) requests() []inference.Request {
	var all []inference.Request
	for _, batch := range b.batches {
		all = append(all, batch...)
	}
	return all
}

// fixedModel reports the same detections on every page.
type fixedModel struct {
	pred *detect.Prediction
}

func (m fixedModel) Predict(context.Context, image.Image) (*detect.Prediction, error) {
	return m.pred, nil
}

var detectorLabels = map[int]string{0: "table", 1: "table rotated", 2: "table column", 3: "table row"}

// tableScore builds logits whose softmax gives class 0 the score p.
func tableScore(p float64) []float32 {
	rest := float32(math.Log((1 - p) / 4))
	return []float32{float32(math.Log(p)), rest, rest, rest, rest}
}

func box(x0, y0, x1, y1 float32) [4]float32 {
	return [4]float32{(x0 + x1) / 2 / pageSize, (y0 + y1) / 2 / pageSize, (x1 - x0) / pageSize, (y1 - y0) / pageSize}
}

// twoTables detects a strong table and a weak one on every page.
func twoTables() *detect.Detector {
	return detect.New(fixedModel{pred: &detect.Prediction{
		Logits: [][]float32{tableScore(0.8), tableScore(0.3)},
		Boxes:  [][4]float32{box(10, 10, 110, 60), box(20, 100, 180, 190)},
		Labels: detectorLabels,
	}})
}

func assertClean(t *testing.T, root string) {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories must be removed")
}

func pdfDoc() *document.Document {
	return document.New([]byte("%PDF-1.4\n%stub"), "claims.pdf", "")
}

// A PDF with a generic query yields one answer per page, in page order.
func TestExtract_PDFGenericQuery(t *testing.T) {
	root := t.TempDir()
	backend := &scriptedBackend{answer: func(r inference.Request) string {
		return fmt.Sprintf(`{"page": %d}`, r.Page)
	}}
	o := New(&pdfSplitter{root: root, pages: 3}, backend)

	res, err := o.Extract(context.Background(), Request{Document: pdfDoc(), Query: "*"})
	require.NoError(t, err)

	out, ok := res.Output.([]any)
	require.True(t, ok)
	require.Len(t, out, 3)
	for i, v := range out {
		assert.Equal(t, map[string]any{"page": float64(i + 1)}, v)
	}
	assert.Equal(t, 3, res.Units)
	assert.Empty(t, res.Reports, "generic queries are not validated")

	require.Len(t, backend.batches, 1, "whole document goes in one batch")
	for i, r := range backend.batches[0] {
		assert.Equal(t, i+1, r.Page)
		assert.Equal(t, schema.GenericInstruction, r.Query)
	}
	assertClean(t, root)
}

func TestExtract_GenericOverride(t *testing.T) {
	root := t.TempDir()
	backend := &scriptedBackend{answer: func(inference.Request) string { return `{}` }}
	o := New(&pdfSplitter{root: root, pages: 1}, backend)

	_, err := o.Extract(context.Background(), Request{
		Document: pdfDoc(),
		Query:    `{"total": "int"}`,
		Options:  Options{GenericQuery: true},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.GenericInstruction, backend.requests()[0].Query)
}

// Only detections above threshold reach the backend, without a page index.
func TestExtract_ImageTablesBelowThreshold(t *testing.T) {
	root := t.TempDir()
	backend := &scriptedBackend{answer: func(r inference.Request) string {
		return `[{"instrument": "bond"}]`
	}}
	o := New(document.NewSplitter(document.WithScratchRoot(root)), backend,
		WithDetector(twoTables()), WithThresholds(map[string]float64{"table": 0.5, "table rotated": 0.5}), WithPadding(0))

	res, err := o.Extract(context.Background(), Request{
		Document: document.New(pngPage(t), "bonds.png", ""),
		Query:    "*",
		Options:  Options{TablesOnly: true},
	})
	require.NoError(t, err)

	out, ok := res.Output.(map[string]any)
	require.True(t, ok)
	tables, ok := out["page_tables"].([]any)
	require.True(t, ok)
	require.Len(t, tables, 1)
	assert.NotContains(t, out, "page_forms")

	reqs := backend.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 0, reqs[0].Page, "direct images carry no page index")
	assert.Equal(t, 1, reqs[0].Table)
	assert.Equal(t, "table_1.jpg", filepath.Base(reqs[0].Artifact))
	assertClean(t, root)
}

func TestExtract_PDFTablesPageOrder(t *testing.T) {
	root := t.TempDir()
	model := fixedModel{pred: &detect.Prediction{
		Logits: [][]float32{tableScore(0.9), tableScore(0.7)},
		Boxes:  [][4]float32{box(10, 10, 110, 60), box(20, 100, 180, 190)},
		Labels: detectorLabels,
	}}
	backend := &scriptedBackend{answer: func(r inference.Request) string {
		return fmt.Sprintf(`{"p": %d, "t": %d}`, r.Page, r.Table)
	}}
	o := New(&pdfSplitter{root: root, pages: 3}, backend,
		WithDetector(detect.New(model)), WithParallelism(3))

	res, err := o.Extract(context.Background(), Request{
		Document: pdfDoc(),
		Query:    "*",
		Options:  Options{TablesOnly: true},
	})
	require.NoError(t, err)

	tables := res.Output.(map[string]any)["page_tables"].([]any)
	require.Len(t, tables, 6)
	i := 0
	for p := 1; p <= 3; p++ {
		for tb := 1; tb <= 2; tb++ {
			assert.Equal(t, map[string]any{"p": float64(p), "t": float64(tb)}, tables[i])
			i++
		}
	}
	for _, batch := range backend.batches {
		assert.Len(t, batch, 1, "crops are dispatched one at a time")
	}
	assert.Equal(t, "page_2_table_1.jpg", filepath.Base(backend.batches[2][0].Artifact))
	assert.Equal(t, 6, res.Units)
	assertClean(t, root)
}

// One page answering with invalid JSON does not fail the others.
func TestExtract_InvalidJSONUnitIsolated(t *testing.T) {
	root := t.TempDir()
	backend := &scriptedBackend{answer: func(r inference.Request) string {
		if r.Page == 2 {
			return "not json"
		}
		return "```json\n{\"total\": 12}\n```"
	}}
	o := New(&pdfSplitter{root: root, pages: 3}, backend)

	res, err := o.Extract(context.Background(), Request{Document: pdfDoc(), Query: `{"total": "int"}`})
	require.NoError(t, err)

	out := res.Output.([]any)
	require.Len(t, out, 3)
	assert.Equal(t, map[string]any{"total": float64(12)}, out[0])
	assert.Equal(t, InvalidJSONMarker(), out[1])
	assert.Equal(t, map[string]any{"total": float64(12)}, out[2])

	require.Len(t, res.Reports, 3)
	assert.True(t, res.Reports[0].Report.Valid)
	assert.False(t, res.Reports[1].Report.Valid)
	assert.NotEmpty(t, res.Reports[1].Report.ParseError)
	assert.Equal(t, 2, res.Reports[1].Page)
	assertClean(t, root)
}

func TestExtract_SchemaMismatchReported(t *testing.T) {
	root := t.TempDir()
	backend := &scriptedBackend{answer: func(inference.Request) string { return `{"total": "not-a-number"}` }}
	o := New(document.NewSplitter(document.WithScratchRoot(root)), backend)

	res, err := o.Extract(context.Background(), Request{
		Document: document.New(pngPage(t), "receipt.png", ""),
		Query:    `{"total": "int"}`,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"total": "not-a-number"}, res.Output)
	require.Len(t, res.Reports, 1)
	r := res.Reports[0].Report
	assert.False(t, r.Valid)
	require.Len(t, r.Mismatches, 1)
	assert.Equal(t, "total", r.Mismatches[0].Field)
	assert.Equal(t, schema.MismatchType, r.Mismatches[0].Kind)

	q := backend.requests()[0].Query
	assert.True(t, strings.HasPrefix(q, "retrieve total. return response in JSON format"), q)
}

func TestExtract_MixedSchemaTablesOnly(t *testing.T) {
	root := t.TempDir()
	backend := &scriptedBackend{answer: func(r inference.Request) string {
		if r.Table > 0 {
			return `{"items": ["a", "b"]}`
		}
		return `{"invoice": "INV-7"}`
	}}
	o := New(&pdfSplitter{root: root, pages: 2}, backend, WithDetector(twoTables()))

	res, err := o.Extract(context.Background(), Request{
		Document: pdfDoc(),
		Query:    `{"invoice": "str", "items": "List[str]"}`,
		Options:  Options{TablesOnly: true},
	})
	require.NoError(t, err)

	out := res.Output.(map[string]any)
	assert.Len(t, out["page_tables"], 2)
	assert.Equal(t, []any{map[string]any{"invoice": "INV-7"}, map[string]any{"invoice": "INV-7"}}, out["page_forms"])

	for _, r := range backend.requests() {
		if r.Table > 0 {
			assert.True(t, strings.HasPrefix(r.Query, "retrieve items."), r.Query)
		} else {
			assert.True(t, strings.HasPrefix(r.Query, "retrieve invoice."), r.Query)
		}
	}
	for _, rep := range res.Reports {
		assert.True(t, rep.Report.Valid, "%s page %d table %d", rep.Kind, rep.Page, rep.Table)
	}
	assert.Equal(t, 4, res.Units)
}

func TestExtract_ImageNamedLikeCropKeepsPage(t *testing.T) {
	root := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, whitePage(), nil))

	var formSizes []image.Point
	backend := &scriptedBackend{answer: func(r inference.Request) string {
		if r.Table > 0 {
			return `{"items": ["a"]}`
		}
		img, err := document.LoadImage(r.Artifact)
		if err != nil {
			return "unreadable"
		}
		formSizes = append(formSizes, img.Bounds().Size())
		return `{"invoice": "INV-1"}`
	}}
	o := New(document.NewSplitter(document.WithScratchRoot(root)), backend, WithDetector(twoTables()))

	res, err := o.Extract(context.Background(), Request{
		Document: document.New(buf.Bytes(), "table_1.jpg", ""),
		Query:    `{"invoice": "str", "items": "List[str]"}`,
		Options:  Options{TablesOnly: true},
	})
	require.NoError(t, err)

	assert.Equal(t, []any{map[string]any{"invoice": "INV-1"}}, res.Output.(map[string]any)["page_forms"])
	assert.Equal(t, []image.Point{{X: pageSize, Y: pageSize}}, formSizes, "form query sees the whole page")
	assertClean(t, root)
}

func TestExtract_FailsFastBeforeInference(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		opts    []Option
		wantErr error
	}{
		{"empty document", Request{Document: document.New(nil, "a.pdf", ""), Query: "*"}, nil, vesselerrors.ErrDocument},
		{"invalid query", Request{Document: pdfDoc(), Query: "total please"}, nil, vesselerrors.ErrQuery},
		{"unknown type", Request{Document: pdfDoc(), Query: `{"total": "decimal"}`}, nil, vesselerrors.ErrSchema},
		{"tables without detector", Request{Document: pdfDoc(), Query: "*", Options: Options{TablesOnly: true}}, nil, vesselerrors.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			splitter := &pdfSplitter{root: t.TempDir(), pages: 1}
			backend := &scriptedBackend{answer: func(inference.Request) string { return "{}" }}

			_, err := New(splitter, backend, tt.opts...).Extract(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.Zero(t, splitter.calls)
			assert.Empty(t, backend.batches)
		})
	}
}

func TestExtract_DocumentErrorFromSplitter(t *testing.T) {
	splitter := &pdfSplitter{root: t.TempDir(), err: vesselerrors.Document("PDF has zero pages")}
	backend := &scriptedBackend{answer: func(inference.Request) string { return "{}" }}

	_, err := New(splitter, backend).Extract(context.Background(), Request{Document: pdfDoc(), Query: "*"})
	assert.True(t, errors.Is(err, vesselerrors.ErrDocument))
	assert.Empty(t, backend.batches)
}

func TestExtract_BackendFailureCleansUp(t *testing.T) {
	root := t.TempDir()
	backend := &scriptedBackend{err: vesselerrors.BackendUnavailable(context.DeadlineExceeded, "remote-GPU inference failed")}
	o := New(&pdfSplitter{root: root, pages: 2}, backend, WithDetector(twoTables()))

	for _, tablesOnly := range []bool{false, true} {
		_, err := o.Extract(context.Background(), Request{Document: pdfDoc(), Query: "*", Options: Options{TablesOnly: tablesOnly}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, vesselerrors.ErrBackendUnavailable))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
		assertClean(t, root)
	}
}

func TestExtract_DebugKeepsCrops(t *testing.T) {
	root := t.TempDir()
	debugDir := filepath.Join(t.TempDir(), "debug")
	backend := &scriptedBackend{answer: func(inference.Request) string { return "{}" }}
	o := New(document.NewSplitter(document.WithScratchRoot(root)), backend,
		WithDetector(twoTables()), WithDebugDir(debugDir))

	_, err := o.Extract(context.Background(), Request{
		Document: document.New(pngPage(t), "bonds.png", ""),
		Query:    "*",
		Options:  Options{TablesOnly: true, Debug: true},
	})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(debugDir, "table_1.jpg"))
	assert.FileExists(t, filepath.Join(debugDir, "bonds_page_1.png"))
	assertClean(t, root)
}
