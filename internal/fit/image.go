package fit

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
)

// LoadImage decodes a PNG or JPEG reference image into NRGBA
func LoadImage(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open reference: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return ToNRGBA(img), nil
}

// SavePNG writes img to path
func SavePNG(path string, img image.Image) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer out.Close()

	if err := png.Encode(out, img); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// ToNRGBA converts any image to NRGBA with its origin at (0,0)
func ToNRGBA(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x-bounds.Min.X, y-bounds.Min.Y, img.At(x, y))
		}
	}
	return out
}

// Luminance is a grayscale copy of an image with values in [0,1]
type Luminance struct {
	Width, Height int
	Pix           []float64
}

// NewLuminance computes Rec. 709 luma from img
func NewLuminance(img *image.NRGBA) *Luminance {
	bounds := img.Bounds()
	l := &Luminance{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pix:    make([]float64, bounds.Dx()*bounds.Dy()),
	}
	for y := 0; y < l.Height; y++ {
		for x := 0; x < l.Width; x++ {
			i := img.PixOffset(x+bounds.Min.X, y+bounds.Min.Y)
			r := float64(img.Pix[i+0]) / 255
			g := float64(img.Pix[i+1]) / 255
			b := float64(img.Pix[i+2]) / 255
			l.Pix[y*l.Width+x] = 0.2126*r + 0.7152*g + 0.0722*b
		}
	}
	return l
}

// At returns the luminance at (x,y)
func (l *Luminance) At(x, y int) float64 {
	return l.Pix[y*l.Width+x]
}

// Mean returns the average luminance of the image
func (l *Luminance) Mean() float64 {
	if len(l.Pix) == 0 {
		return 0
	}
	var sum float64
	for _, v := range l.Pix {
		sum += v
	}
	return sum / float64(len(l.Pix))
}
