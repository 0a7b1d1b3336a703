package document

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/vesselgpt/vessel/internal/runner"
)

// Rasterizer renders one PDF page to a JPEG. outPrefix has no extension; the
// returned path is the file actually written.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdfPath string, page int, outPrefix string) (string, error)
}

// Pdftoppm rasterizes with poppler's pdftoppm.
type Pdftoppm struct {
	Command string // binary name or absolute path; if empty -> "pdftoppm"
	DPI     int    // if zero -> 300
	Runner  runner.Runner
}

// NewPdftoppm returns a Pdftoppm rasterizer executing through r.
func NewPdftoppm(command string, dpi int, r runner.Runner) *Pdftoppm {
	if command == "" {
		command = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 300
	}
	return &Pdftoppm{Command: command, DPI: dpi, Runner: r}
}

func (p *Pdftoppm) Rasterize(ctx context.Context, pdfPath string, page int, outPrefix string) (string, error) {
	n := strconv.Itoa(page)
	// pdftoppm -r 300 -jpeg -f n -l n -singlefile <in.pdf> <prefix>
	_, errb, err := p.Runner.Run(ctx, p.Command,
		"-r", strconv.Itoa(p.DPI), "-jpeg", "-f", n, "-l", n, "-singlefile", pdfPath, outPrefix)
	if err != nil {
		return "", fmt.Errorf("pdftoppm page %d: %w: %s", page, err, runner.Truncate(string(errb), 1<<10))
	}

	out := outPrefix + ".jpg"
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("pdftoppm produced no image for page %d: %w", page, err)
	}
	return out, nil
}
