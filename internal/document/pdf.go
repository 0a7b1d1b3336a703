package document

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// pageCount reads the page count with pdfcpu and falls back to
// ledongthuc/pdf for files pdfcpu refuses. readable reports whether pdfcpu
// could parse the file, which page extraction requires.
func pageCount(data []byte) (count int, readable bool, err error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), relaxedConfig())
	if err == nil {
		if err = ctx.EnsurePageCount(); err == nil {
			return ctx.PageCount, true, nil
		}
	}
	pdfcpuErr := err

	n, err := fallbackPageCount(data)
	if err != nil {
		return 0, false, fmt.Errorf("pdfcpu: %v; fallback: %w", pdfcpuErr, err)
	}
	return n, false, nil
}

func fallbackPageCount(data []byte) (n int, err error) {
	// ledongthuc/pdf panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

// extractPage writes a standalone PDF containing only page n of data.
func extractPage(data []byte, n int, w io.Writer) error {
	return api.Trim(bytes.NewReader(data), w, []string{strconv.Itoa(n)}, relaxedConfig())
}
