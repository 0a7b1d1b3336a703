// Package document loads input documents and splits them into per-page
// artifacts in a per-request scratch directory.
package document

import (
	"bytes"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	vesselerrors "github.com/vesselgpt/vessel/internal/errors"
)

const MediaTypePDF = "application/pdf"

var pdfHeader = []byte("%PDF-")

// Document is an immutable input: raw bytes plus what we know about them.
type Document struct {
	Data      []byte
	MediaType string
	Filename  string
}

// New builds a Document, sniffing the media type when it is empty.
func New(data []byte, filename, mediaType string) *Document {
	if mediaType == "" {
		mediaType = detectMediaType(data, filename)
	}
	return &Document{Data: data, MediaType: mediaType, Filename: filepath.Base(filename)}
}

// Open reads a document from disk, refusing files above maxFileSize bytes
// (0 disables the limit).
func Open(path string, maxFileSize int64) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "cannot access document", err).WithFile(path)
	}
	if info.IsDir() {
		return nil, vesselerrors.Document("path is a directory").WithFile(path)
	}
	if maxFileSize > 0 && info.Size() > maxFileSize {
		return nil, vesselerrors.Document("document too large: %d bytes (max: %d bytes)", info.Size(), maxFileSize).WithFile(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "cannot read document", err).WithFile(path)
	}
	return New(data, path, ""), nil
}

// IsPDF reports whether the document is declared as a PDF, by media type or
// file extension.
func (d *Document) IsPDF() bool {
	return d.MediaType == MediaTypePDF || strings.EqualFold(filepath.Ext(d.Filename), ".pdf")
}

// BaseName is the filename without its extension, used to name artifacts.
func (d *Document) BaseName() string {
	name := strings.TrimSuffix(d.Filename, filepath.Ext(d.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "document"
	}
	return name
}

func detectMediaType(data []byte, filename string) string {
	if bytes.HasPrefix(data, pdfHeader) {
		return MediaTypePDF
	}
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return MediaTypePDF
	}
	return http.DetectContentType(data)
}

// Page is one unit of a split document. Number is 1-based.
type Page struct {
	Number int    `json:"number"`
	Path   string `json:"path"`
	Type   string `json:"type,omitempty"` // set by an upstream classifier
}

// Image decodes the page artifact. Only raster artifacts can be decoded.
func (p Page) Image() (image.Image, error) {
	return LoadImage(p.Path)
}

// LoadImage decodes an image file with any registered decoder.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "cannot open image", err).WithFile(path)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, vesselerrors.Wrap(vesselerrors.ErrorTypeDocument, "cannot decode image", err).WithFile(path)
	}
	return img, nil
}
