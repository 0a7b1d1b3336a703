// Package detect finds table regions on page images and turns them into
// upright crops.
package detect

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
	"github.com/vesselgpt/vessel/internal/metrics"
)

const DefaultMaxSize = 800

// Model is an object detector reached over some transport.
type Model interface {
	Predict(ctx context.Context, img image.Image) (*Prediction, error)
}

// Token is a piece of recognized text with its box in page pixels.
type Token struct {
	Text       string  `json:"text"`
	Box        Box     `json:"bbox"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Crop is a padded, upright table image with the tokens that belong to it,
// in crop coordinates.
type Crop struct {
	Name    string      `json:"name"`
	Page    int         `json:"page,omitempty"`
	Index   int         `json:"index"`
	Region  Region      `json:"region"`
	Image   image.Image `json:"-"`
	Tokens  []Token     `json:"tokens,omitempty"`
	Rotated bool        `json:"rotated"`
}

// Options configures one Detect call.
type Options struct {
	Thresholds map[string]float64
	Padding    int
	Page       int // 1-based; zero when the image is not part of a paged document
	Tokens     []Token
}

// Detector runs a Model and post-processes its regions.
type Detector struct {
	model   Model
	maxSize int
	logger  *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithMaxSize sets the longest side of the image given to the model.
func WithMaxSize(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.maxSize = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Detector around model.
func New(model Model, opts ...Option) *Detector {
	d := &Detector{model: model, maxSize: DefaultMaxSize, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CropName is the deterministic name of table t (1-based) on page p.
func CropName(page, table int) string {
	if page > 0 {
		return fmt.Sprintf("page_%d_table_%d", page, table)
	}
	return fmt.Sprintf("table_%d", table)
}

// Detect returns the crops for every region that clears its threshold, in
// model order. No detections is not an error.
func (d *Detector) Detect(ctx context.Context, page image.Image, opts Options) ([]Crop, error) {
	if page == nil {
		return nil, vesselerrors.Document("no page image")
	}
	thresholds := opts.Thresholds
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}

	bounds := page.Bounds()
	pred, err := d.model.Predict(ctx, resizeToMax(page, d.maxSize))
	if err != nil {
		return nil, vesselerrors.BackendUnavailable(err, "table detection failed").WithPage(opts.Page)
	}
	regions, err := pred.Regions(bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, vesselerrors.BackendUnavailable(err, "table detection returned an inconsistent prediction").WithPage(opts.Page)
	}

	crops := make([]Crop, 0, len(regions))
	for _, r := range regions {
		if !passes(r, thresholds) {
			d.logger.Debug("region below threshold",
				zap.Int("page", opts.Page), zap.String("label", r.Label), zap.Float64("score", r.Score))
			continue
		}
		c := d.crop(page, r, opts, len(crops)+1)
		crops = append(crops, c)
		metrics.RecordTableDetected(r.Label)
	}

	d.logger.Debug("tables detected",
		zap.Int("page", opts.Page), zap.Int("regions", len(regions)), zap.Int("kept", len(crops)))
	return crops, nil
}

func (d *Detector) crop(page image.Image, r Region, opts Options, index int) Crop {
	padded := r.Box.Pad(float64(opts.Padding))
	rect := padded.Rect().Intersect(page.Bounds())
	img := image.Image(cropImage(page, rect))

	var tokens []Token
	for _, t := range opts.Tokens {
		if IoB(t.Box, r.Box) < 0.5 {
			continue
		}
		t.Box = t.Box.Translate(-float64(rect.Min.X), -float64(rect.Min.Y))
		tokens = append(tokens, t)
	}

	rotated := r.Label == LabelTableRotated
	if rotated {
		img = rotate270(img)
		w := float64(img.Bounds().Dx())
		for i := range tokens {
			tokens[i].Box = Rotate270(tokens[i].Box, w)
		}
	}

	return Crop{
		Name:    CropName(opts.Page, index),
		Page:    opts.Page,
		Index:   index,
		Region:  r,
		Image:   img,
		Tokens:  tokens,
		Rotated: rotated,
	}
}

// PageInput is one page for DetectPages.
type PageInput struct {
	Number int
	Image  image.Image
	Tokens []Token
}

// DetectPages runs Detect over pages with at most parallelism concurrent
// model calls. Result i belongs to pages[i] regardless of completion order.
func (d *Detector) DetectPages(ctx context.Context, pages []PageInput, opts Options, parallelism int) ([][]Crop, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	results := make([][]Crop, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, p := range pages {
		g.Go(func() error {
			o := opts
			o.Page = p.Number
			o.Tokens = p.Tokens
			crops, err := d.Detect(gctx, p.Image, o)
			if err != nil {
				return err
			}
			results[i] = crops
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// SaveCrops writes every crop as <Name>.jpg in dir and returns the paths in
// crop order.
func SaveCrops(dir string, crops []Crop) ([]string, error) {
	paths := make([]string, len(crops))
	for i, c := range crops {
		path := filepath.Join(dir, c.Name+".jpg")
		if err := writeJPEG(path, c.Image); err != nil {
			return nil, fmt.Errorf("save crop %s: %w", c.Name, err)
		}
		paths[i] = path
	}
	return paths, nil
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 95}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
