package cv

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"strconv"
	"strings"
)

// ErrEmptyRegion is returned when a region does not overlap the image
var ErrEmptyRegion = errors.New("region outside image")

// ParseRect parses "x1,y1,x2,y2" into a rectangle
func ParseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("region %q: want x1,y1,x2,y2", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = n
	}
	r := image.Rect(v[0], v[1], v[2], v[3])
	if r.Empty() {
		return image.Rectangle{}, fmt.Errorf("region %q is empty", s)
	}
	return r, nil
}

// Crop copies roi out of img into a new image anchored at (0,0). A zero
// roi copies the whole image.
func Crop(img image.Image, roi image.Rectangle) (*image.RGBA, error) {
	bounds := img.Bounds()
	if roi.Empty() {
		roi = bounds
	}
	roi = roi.Intersect(bounds)
	if roi.Empty() {
		return nil, ErrEmptyRegion
	}
	out := image.NewRGBA(image.Rect(0, 0, roi.Dx(), roi.Dy()))
	draw.Draw(out, out.Bounds(), img, roi.Min, draw.Src)
	return out, nil
}
