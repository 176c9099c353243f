package fit

import (
	"image"

	"github.com/cwbudde/markfit/internal/mpp"
)

// Renderer draws a set of marks for inspection
type Renderer interface {
	// Render creates an image from the marks
	Render(marks []mpp.Mark) image.Image
}
