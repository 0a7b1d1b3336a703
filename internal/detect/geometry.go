package detect

import (
	"image"
	"math"
)

// Box is an axis-aligned box [x0, y0, x1, y1] in pixel coordinates.
type Box [4]float64

func (b Box) Width() float64  { return b[2] - b[0] }
func (b Box) Height() float64 { return b[3] - b[1] }

// Pad grows the box by p on every side.
func (b Box) Pad(p float64) Box {
	return Box{b[0] - p, b[1] - p, b[2] + p, b[3] + p}
}

// Translate moves the box by (dx, dy).
func (b Box) Translate(dx, dy float64) Box {
	return Box{b[0] + dx, b[1] + dy, b[2] + dx, b[3] + dy}
}

// Rect rounds the box to an integer rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b[0])), int(math.Round(b[1])),
		int(math.Round(b[2])), int(math.Round(b[3])),
	)
}

// inclusiveArea treats both edges as pixels, so a box from 0 to 0 has area 1.
func (b Box) inclusiveArea() float64 {
	return math.Max(0, b[2]-b[0]+1) * math.Max(0, b[3]-b[1]+1)
}

// IoB is the intersection of a and b over the area of a. It is asymmetric:
// a small token fully inside a large table scores 1.
func IoB(a, b Box) float64 {
	inter := Box{
		math.Max(a[0], b[0]),
		math.Max(a[1], b[1]),
		math.Min(a[2], b[2]),
		math.Min(a[3], b[3]),
	}
	area := a.inclusiveArea()
	if area <= 0 {
		return 0
	}
	return inter.inclusiveArea() / area
}

// Rotate270 maps a box from a crop into the same crop rotated by 270 degrees
// (90 clockwise). width is the width of the rotated crop.
func Rotate270(b Box, width float64) Box {
	return Box{width - b[3] - 1, b[0], width - b[1] - 1, b[2]}
}

// cxcywhToXYXY converts a normalized center box to corners scaled to w x h.
func cxcywhToXYXY(cb [4]float32, w, h int) Box {
	cx, cy, bw, bh := float64(cb[0]), float64(cb[1]), float64(cb[2]), float64(cb[3])
	fw, fh := float64(w), float64(h)
	return Box{
		(cx - 0.5*bw) * fw,
		(cy - 0.5*bh) * fh,
		(cx + 0.5*bw) * fw,
		(cy + 0.5*bh) * fh,
	}
}
