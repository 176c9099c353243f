package fit

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/cwbudde/markfit/internal/mpp"
)

func TestOverlayRendererNoMarks(t *testing.T) {
	ref := discImage(10, 10, mpp.Circle{X: 5, Y: 5, R: 3})
	renderer := NewOverlayRenderer(ref)

	result := renderer.Render(nil).(*image.NRGBA)
	for i := range ref.Pix {
		if result.Pix[i] != ref.Pix[i] {
			t.Fatalf("Pixel byte %d changed without marks: got %d, want %d", i, result.Pix[i], ref.Pix[i])
		}
	}
}

func TestOverlayRendererSingleCircle(t *testing.T) {
	ref := discImage(20, 20)
	renderer := NewOverlayRenderer(ref)
	renderer.FillOpacity = 1

	marks := []mpp.Mark{{ID: 1, Shape: mpp.Circle{X: 10, Y: 10, R: 5}}}
	result := renderer.Render(marks)

	// Center should be red
	r, g, b, _ := result.At(10, 10).RGBA()
	if r != 65535 || g != 0 || b != 0 {
		t.Errorf("Center pixel should be red, got (%d,%d,%d)", r, g, b)
	}

	// Corner should stay black
	r, g, b, _ = result.At(0, 0).RGBA()
	if r != 0 || g != 0 || b != 0 {
		t.Errorf("Corner pixel should be black, got (%d,%d,%d)", r, g, b)
	}

	// Reference must not be modified
	if ref.NRGBAAt(10, 10) != (color.NRGBA{0, 0, 0, 255}) {
		t.Errorf("Reference was modified: %v", ref.NRGBAAt(10, 10))
	}
}

func TestOverlayRendererTranslucentFill(t *testing.T) {
	ref := discImage(20, 20)
	renderer := NewOverlayRenderer(ref)
	renderer.FillOpacity = 0.5
	renderer.OutlineWidth = 1

	marks := []mpp.Mark{{ID: 1, Shape: mpp.Circle{X: 10, Y: 10, R: 6}}}
	result := renderer.Render(marks).(*image.NRGBA)

	// Interior is half red over black
	c := result.NRGBAAt(10, 10)
	if c.R < 126 || c.R > 129 || c.G != 0 || c.B != 0 {
		t.Errorf("Interior should be half red, got %v", c)
	}

	// Outline ring is opaque
	c = result.NRGBAAt(15, 10)
	if c.R != 255 {
		t.Errorf("Outline should be opaque red, got %v", c)
	}
}

func TestOverlayRendererClipsAtBorder(t *testing.T) {
	ref := discImage(10, 10)
	renderer := NewOverlayRenderer(ref)

	// Must not panic
	marks := []mpp.Mark{
		{ID: 1, Shape: mpp.Circle{X: 0, Y: 0, R: 8}},
		{ID: 2, Shape: mpp.Circle{X: 12, Y: 12, R: 4}},
	}
	_ = renderer.Render(marks)
}

func TestMaskRenderer(t *testing.T) {
	disc := mpp.Circle{X: 8, Y: 8, R: 4}
	mask := MaskRenderer{Width: 16, Height: 16}.Render([]mpp.Mark{{ID: 1, Shape: disc}}).(*image.Gray)

	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			inside := disc.Contains(float64(x)+0.5, float64(y)+0.5)
			got := mask.GrayAt(x, y).Y
			if inside && got != 255 || !inside && got != 0 {
				t.Errorf("Mask at (%d,%d) = %d, inside=%v", x, y, got, inside)
			}
		}
	}
}

func TestSavePNGRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.png")
	ref := discImage(12, 12, mpp.Circle{X: 6, Y: 6, R: 3})

	if err := SavePNG(path, ref); err != nil {
		t.Fatalf("SavePNG failed: %v", err)
	}
	loaded, err := LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if loaded.Bounds() != ref.Bounds() {
		t.Fatalf("Bounds mismatch: got %v, want %v", loaded.Bounds(), ref.Bounds())
	}
	for i := range ref.Pix {
		if loaded.Pix[i] != ref.Pix[i] {
			t.Fatalf("Pixel byte %d differs after round trip", i)
		}
	}
}
