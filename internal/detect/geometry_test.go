package detect

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIoB(t *testing.T) {
	tests := []struct {
		name string
		a, b Box
		want float64
	}{
		{"inside", Box{20, 20, 40, 30}, Box{10, 10, 110, 60}, 1},
		{"disjoint", Box{0, 0, 5, 5}, Box{10, 10, 20, 20}, 0},
		{"half", Box{0, 0, 9, 9}, Box{5, 0, 100, 100}, 0.5},
		{"asymmetric large token", Box{10, 10, 110, 60}, Box{20, 20, 40, 30}, float64(21*11) / float64(101*51)},
		{"single pixel", Box{3, 3, 3, 3}, Box{0, 0, 10, 10}, 1},
		{"degenerate token", Box{5, 5, 3, 3}, Box{0, 0, 10, 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, IoB(tt.a, tt.b), 1e-9)
		})
	}
}

func TestRotate270(t *testing.T) {
	assert.Equal(t, Box{29, 10, 39, 30}, Rotate270(Box{10, 10, 30, 20}, 50))
}

func TestBox_PadTranslateRect(t *testing.T) {
	b := Box{10, 10, 110, 60}
	assert.Equal(t, Box{0, 0, 120, 70}, b.Pad(10))
	assert.Equal(t, Box{0, 5, 100, 55}, b.Translate(-10, -5))
	assert.Equal(t, image.Rect(10, 10, 111, 60), Box{10.2, 9.6, 110.5, 60.4}.Rect())
	assert.Equal(t, 100.0, b.Width())
	assert.Equal(t, 50.0, b.Height())
}

func TestCxcywhToXYXY(t *testing.T) {
	got := cxcywhToXYXY([4]float32{0.5, 0.5, 0.5, 0.25}, 200, 400)
	assert.InDeltaSlice(t, []float64{50, 150, 150, 250}, got[:], 1e-4)
}
