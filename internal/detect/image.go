package detect

import (
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

// resizeToMax scales img so its longer side equals maxSize.
func resizeToMax(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if maxSize <= 0 || longest == 0 || longest == maxSize {
		return img
	}
	scale := float64(maxSize) / float64(longest)
	nw := max(1, int(math.Round(scale*float64(w))))
	nh := max(1, int(math.Round(scale*float64(h))))

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// cropImage copies r (clamped to the image) into a new zero-origin image.
func cropImage(img image.Image, r image.Rectangle) *image.RGBA {
	r = r.Intersect(img.Bounds())
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst
}

// rotate270 rotates img by 270 degrees counter-clockwise (90 clockwise),
// swapping width and height.
func rotate270(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}

var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// toTensor converts img to a normalized float tensor in NCHW format.
func toTensor(img image.Image) []float32 {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	pixels := make([]float32, 3*height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			rgb := [3]float32{float32(r>>8) / 255, float32(g>>8) / 255, float32(bl>>8) / 255}
			for c := 0; c < 3; c++ {
				pixels[c*height*width+y*width+x] = (rgb[c] - imagenetMean[c]) / imagenetStd[c]
			}
		}
	}
	return pixels
}
