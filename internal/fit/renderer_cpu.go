package fit

import (
	"image"
	"image/color"
	"math"

	"github.com/cwbudde/markfit/internal/mpp"
)

// OverlayRenderer composites translucent discs with solid outlines onto a
// copy of the reference image.
type OverlayRenderer struct {
	reference *image.NRGBA
	width     int
	height    int

	FillR, FillG, FillB float64 // Colour in [0,1]
	FillOpacity         float64
	OutlineWidth        float64
}

// NewOverlayRenderer creates a renderer drawing red overlays
func NewOverlayRenderer(reference *image.NRGBA) *OverlayRenderer {
	bounds := reference.Bounds()
	return &OverlayRenderer{
		reference:    reference,
		width:        bounds.Dx(),
		height:       bounds.Dy(),
		FillR:        1,
		FillOpacity:  0.3,
		OutlineWidth: 1,
	}
}

// Render copies the reference and draws every mark on top
func (r *OverlayRenderer) Render(marks []mpp.Mark) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, r.width, r.height))
	copy(img.Pix, r.reference.Pix)

	for _, m := range marks {
		r.renderCircle(img, m.Shape)
	}
	return img
}

// renderCircle fills the disc and paints its outline ring opaque
func (r *OverlayRenderer) renderCircle(img *image.NRGBA, c mpp.Circle) {
	// Compute bounding box
	minX := int(math.Max(0, math.Floor(c.X-c.R)))
	maxX := int(math.Min(float64(r.width-1), math.Ceil(c.X+c.R)))
	minY := int(math.Max(0, math.Floor(c.Y-c.R)))
	maxY := int(math.Min(float64(r.height-1), math.Ceil(c.Y+c.R)))

	r2 := c.R * c.R
	inner := math.Max(0, c.R-r.OutlineWidth)
	inner2 := inner * inner

	// Scan bounding box
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := float64(x) + 0.5 - c.X
			dy := float64(y) + 0.5 - c.Y
			d2 := dx*dx + dy*dy
			if d2 > r2 {
				continue
			}

			alpha := r.FillOpacity
			if d2 >= inner2 {
				alpha = 1
			}
			compositePixel(img, x, y, r.FillR, r.FillG, r.FillB, alpha)
		}
	}
}

// compositePixel blends a color onto the image at (x,y) using premultiplied alpha
func compositePixel(img *image.NRGBA, x, y int, r, g, b, alpha float64) {
	i := img.PixOffset(x, y)

	// Current background color (non-premultiplied)
	bgR := float64(img.Pix[i+0]) / 255.0
	bgG := float64(img.Pix[i+1]) / 255.0
	bgB := float64(img.Pix[i+2]) / 255.0
	bgA := float64(img.Pix[i+3]) / 255.0

	// Porter-Duff "over" operator
	outA := alpha + bgA*(1-alpha)
	if outA == 0 {
		return // Transparent
	}

	outR := (r*alpha + bgR*bgA*(1-alpha)) / outA
	outG := (g*alpha + bgG*bgA*(1-alpha)) / outA
	outB := (b*alpha + bgB*bgA*(1-alpha)) / outA

	// Write back as 8-bit
	img.Pix[i+0] = uint8(math.Round(outR * 255))
	img.Pix[i+1] = uint8(math.Round(outG * 255))
	img.Pix[i+2] = uint8(math.Round(outB * 255))
	img.Pix[i+3] = uint8(math.Round(outA * 255))
}

// MaskRenderer draws a binary segmentation mask: 255 inside any mark
type MaskRenderer struct {
	Width, Height int
}

func (r MaskRenderer) Render(marks []mpp.Mark) image.Image {
	img := image.NewGray(image.Rect(0, 0, r.Width, r.Height))
	on := color.Gray{Y: 255}
	for _, m := range marks {
		c := m.Shape
		minX := max(0, int(math.Floor(c.X-c.R)))
		maxX := min(r.Width-1, int(math.Ceil(c.X+c.R)))
		minY := max(0, int(math.Floor(c.Y-c.R)))
		maxY := min(r.Height-1, int(math.Ceil(c.Y+c.R)))
		for y := minY; y <= maxY; y++ {
			for x := minX; x <= maxX; x++ {
				if c.Contains(float64(x)+0.5, float64(y)+0.5) {
					img.SetGray(x, y, on)
				}
			}
		}
	}
	return img
}
