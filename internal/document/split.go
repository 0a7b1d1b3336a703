package document

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/metrics"
)

const (
	scratchDirPerm  = 0o750
	scratchFilePerm = 0o600
)

// SplitOptions controls how pages are materialised.
type SplitOptions struct {
	RenderImages bool   // rasterize PDF pages instead of writing single-page PDFs
	DebugDir     string // when set, every artifact is also copied here
}

// Split is the result of splitting one document. The caller owns ScratchDir
// and must call Release.
type Split struct {
	PageCount  int
	Pages      []Page
	ScratchDir string
}

// Release deletes the scratch directory. Missing files are not an error.
func (s *Split) Release() error {
	if s == nil || s.ScratchDir == "" {
		return nil
	}
	return os.RemoveAll(s.ScratchDir)
}

// Splitter turns documents into page artifacts.
type Splitter struct {
	scratchRoot string
	maxFileSize int64
	rasterizer  Rasterizer
	logger      *zap.Logger
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithScratchRoot sets the parent of per-request scratch directories.
func WithScratchRoot(dir string) Option {
	return func(s *Splitter) { s.scratchRoot = dir }
}

// WithMaxFileSize rejects documents larger than n bytes.
func WithMaxFileSize(n int64) Option {
	return func(s *Splitter) { s.maxFileSize = n }
}

func WithRasterizer(r Rasterizer) Option {
	return func(s *Splitter) { s.rasterizer = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Splitter) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSplitter creates a Splitter. Without WithRasterizer, RenderImages fails.
func NewSplitter(opts ...Option) *Splitter {
	s := &Splitter{
		scratchRoot: os.TempDir(),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split materialises every page of doc in a fresh scratch directory. On error
// the scratch directory has already been removed.
func (s *Splitter) Split(ctx context.Context, doc *Document, opts SplitOptions) (_ *Split, err error) {
	if doc == nil || len(doc.Data) == 0 {
		return nil, vesselerrors.Document("document is empty")
	}
	if s.maxFileSize > 0 && int64(len(doc.Data)) > s.maxFileSize {
		return nil, vesselerrors.Document("document too large: %d bytes (max: %d bytes)", len(doc.Data), s.maxFileSize).WithFile(doc.Filename)
	}

	dir, err := os.MkdirTemp(s.scratchRoot, "vessel-"+uuid.NewString()[:8]+"-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	split := &Split{ScratchDir: dir}
	defer func() {
		if err != nil {
			if rerr := split.Release(); rerr != nil {
				s.logger.Warn("failed to remove scratch dir", zap.String("dir", dir), zap.Error(rerr))
			}
		}
	}()

	if doc.IsPDF() {
		err = s.splitPDF(ctx, doc, opts, split)
	} else {
		err = s.splitImage(doc, split)
	}
	if err != nil {
		return nil, err
	}

	if opts.DebugDir != "" {
		s.mirror(doc, split.Pages, opts.DebugDir)
	}

	s.logger.Debug("document split",
		zap.String("file", doc.Filename),
		zap.Int("pages", split.PageCount),
		zap.Bool("render_images", opts.RenderImages),
		zap.String("scratch_dir", dir),
	)
	return split, nil
}

func (s *Splitter) splitPDF(ctx context.Context, doc *Document, opts SplitOptions, split *Split) error {
	if !bytes.HasPrefix(doc.Data, pdfHeader) {
		return vesselerrors.Document("not a valid PDF: missing %%PDF- header").WithFile(doc.Filename)
	}

	count, readable, err := pageCount(doc.Data)
	if err != nil {
		return vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "unreadable PDF", err).WithFile(doc.Filename)
	}
	if count == 0 {
		return vesselerrors.Document("PDF has zero pages").WithFile(doc.Filename)
	}
	split.PageCount = count

	base := doc.BaseName()
	if opts.RenderImages {
		return s.rasterizePDF(ctx, doc, base, split)
	}

	if !readable {
		return vesselerrors.Document("PDF pages cannot be extracted").WithFile(doc.Filename)
	}
	for n := 1; n <= count; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := filepath.Join(split.ScratchDir, fmt.Sprintf("page_%d.pdf", n))
		if err := writePage(doc.Data, n, path); err != nil {
			return vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "cannot extract page", err).WithFile(doc.Filename).WithPage(n)
		}
		split.Pages = append(split.Pages, Page{Number: n, Path: path})
	}
	metrics.RecordPagesSplit("pdf", count)
	return nil
}

func writePage(data []byte, n int, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, scratchFilePerm)
	if err != nil {
		return err
	}
	if err := extractPage(data, n, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Splitter) rasterizePDF(ctx context.Context, doc *Document, base string, split *Split) error {
	if s.rasterizer == nil {
		return vesselerrors.Configuration("no rasterizer configured")
	}

	src := filepath.Join(split.ScratchDir, "source.pdf")
	if err := os.WriteFile(src, doc.Data, scratchFilePerm); err != nil {
		return fmt.Errorf("write source pdf: %w", err)
	}

	for n := 1; n <= split.PageCount; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		prefix := filepath.Join(split.ScratchDir, fmt.Sprintf("%s_page_%d", base, n))
		path, err := s.rasterizer.Rasterize(ctx, src, n, prefix)
		if err != nil {
			return vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "cannot rasterize page", err).WithFile(doc.Filename).WithPage(n)
		}
		split.Pages = append(split.Pages, Page{Number: n, Path: path})
	}
	metrics.RecordPagesSplit("image", split.PageCount)
	return nil
}

// splitImage stores a single raster image as page 1.
func (s *Splitter) splitImage(doc *Document, split *Split) error {
	_, format, err := image.DecodeConfig(bytes.NewReader(doc.Data))
	if err != nil {
		return vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "unsupported document type "+doc.MediaType, err).WithFile(doc.Filename)
	}

	// Named like rasterized pages so crops written alongside cannot clash.
	ext := filepath.Ext(doc.Filename)
	if ext == "" || ext == "." {
		ext = "." + format
	}
	path := filepath.Join(split.ScratchDir, fmt.Sprintf("%s_page_1%s", doc.BaseName(), ext))
	if err := os.WriteFile(path, doc.Data, scratchFilePerm); err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	split.PageCount = 1
	split.Pages = []Page{{Number: 1, Path: path}}
	metrics.RecordPagesSplit("image", 1)
	return nil
}

// mirror copies page artifacts into dir for inspection. Failures are logged
// and otherwise ignored.
func (s *Splitter) mirror(doc *Document, pages []Page, dir string) {
	if err := os.MkdirAll(dir, scratchDirPerm); err != nil {
		s.logger.Warn("debug dir unavailable", zap.String("dir", dir), zap.Error(err))
		return
	}
	base := doc.BaseName()
	for _, p := range pages {
		dst := filepath.Join(dir, fmt.Sprintf("%s_page_%d%s", base, p.Number, filepath.Ext(p.Path)))
		if err := copyFile(p.Path, dst); err != nil {
			s.logger.Warn("debug copy failed", zap.String("src", p.Path), zap.String("dst", dst), zap.Error(err))
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, scratchFilePerm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
