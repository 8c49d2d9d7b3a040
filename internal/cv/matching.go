package cv

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"strconv"
	"strings"
)

// MatchResult contains template matching results
type MatchResult struct {
	Found      bool
	Location   image.Point
	Confidence float64
}

// MatchMethod defines template matching algorithm
type MatchMethod int

const (
	// MatchMethodSAD - Sum of Absolute Differences (fastest)
	MatchMethodSAD MatchMethod = iota
	// MatchMethodSSD - Sum of Squared Differences (balanced)
	MatchMethodSSD
	// MatchMethodNCC - Normalized Cross-Correlation (most accurate)
	MatchMethodNCC
)

// ParseMatchMethod converts "sad", "ssd" or "ncc"
func ParseMatchMethod(s string) (MatchMethod, error) {
	switch strings.ToLower(s) {
	case "sad":
		return MatchMethodSAD, nil
	case "", "ssd":
		return MatchMethodSSD, nil
	case "ncc":
		return MatchMethodNCC, nil
	}
	return 0, fmt.Errorf("unknown match method %q", s)
}

// MatchConfig configures template matching
type MatchConfig struct {
	Method    MatchMethod
	Threshold float64         // 0.0-1.0, higher = more strict
	Region    image.Rectangle // zero searches the whole image
}

// DefaultMatchConfig returns recommended settings
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{Method: MatchMethodSSD, Threshold: 0.85}
}

// FindTemplate finds the best location of needle within haystack
func FindTemplate(haystack, needle *image.RGBA, cfg MatchConfig) MatchResult {
	search := haystack.Bounds()
	if !cfg.Region.Empty() {
		search = cfg.Region.Intersect(search)
	}
	nw, nh := needle.Bounds().Dx(), needle.Bounds().Dy()
	if nw == 0 || nh == 0 || search.Dx() < nw || search.Dy() < nh {
		return MatchResult{}
	}

	var best MatchResult
	for y := search.Min.Y; y <= search.Max.Y-nh; y++ {
		for x := search.Min.X; x <= search.Max.X-nw; x++ {
			score := matchScore(haystack, needle, x, y, cfg.Method)
			if score > best.Confidence {
				best.Confidence = score
				best.Location = image.Point{X: x, Y: y}
			}
		}
	}
	best.Found = best.Confidence >= cfg.Threshold
	return best
}

// matchScore compares needle against haystack with needle's origin at (x,y)
func matchScore(haystack, needle *image.RGBA, x, y int, method MatchMethod) float64 {
	nb := needle.Bounds()
	w, h := nb.Dx(), nb.Dy()

	var sad, ssd uint64
	var sumH, sumN, sumHN, sumHH, sumNN float64
	for ny := 0; ny < h; ny++ {
		hRow := haystack.PixOffset(x, y+ny)
		nRow := needle.PixOffset(nb.Min.X, nb.Min.Y+ny)
		for nx := 0; nx < w; nx++ {
			hi, ni := hRow+nx*4, nRow+nx*4
			for c := 0; c < 3; c++ {
				hv, nv := int(haystack.Pix[hi+c]), int(needle.Pix[ni+c])
				d := hv - nv
				switch method {
				case MatchMethodSAD:
					if d < 0 {
						d = -d
					}
					sad += uint64(d)
				case MatchMethodNCC:
					fh, fn := float64(hv), float64(nv)
					sumH += fh
					sumN += fn
					sumHN += fh * fn
					sumHH += fh * fh
					sumNN += fn * fn
				default:
					ssd += uint64(d * d)
				}
			}
		}
	}

	samples := float64(w * h * 3)
	switch method {
	case MatchMethodSAD:
		return 1.0 - float64(sad)/(samples*255)
	case MatchMethodNCC:
		num := sumHN - sumH*sumN/samples
		denH := math.Sqrt(sumHH - sumH*sumH/samples)
		denN := math.Sqrt(sumNN - sumN*sumN/samples)
		if denH == 0 || denN == 0 {
			return 0
		}
		return (num/(denH*denN) + 1.0) / 2.0
	default:
		return 1.0 - float64(ssd)/(samples*255*255)
	}
}

// RegionAverage calculates average color in a region
func RegionAverage(img *image.RGBA, rect image.Rectangle) color.RGBA {
	rect = rect.Intersect(img.Bounds())
	var r, g, b, count uint64
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			i := img.PixOffset(x, y)
			r += uint64(img.Pix[i])
			g += uint64(img.Pix[i+1])
			b += uint64(img.Pix[i+2])
			count++
		}
	}
	if count == 0 {
		return color.RGBA{A: 255}
	}
	return color.RGBA{R: uint8(r / count), G: uint8(g / count), B: uint8(b / count), A: 255}
}

// ColorDistance is the mean absolute per-channel difference
func ColorDistance(a, b color.RGBA) uint8 {
	abs := func(x int) int {
		if x < 0 {
			return -x
		}
		return x
	}
	dr := abs(int(a.R) - int(b.R))
	dg := abs(int(a.G) - int(b.G))
	db := abs(int(a.B) - int(b.B))
	return uint8((dr + dg + db) / 3)
}

// ParseColor parses "#rrggbb" or "rrggbb"
func ParseColor(s string) (color.RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("color %q: want rrggbb", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// LoadTemplate reads a PNG template from disk as RGBA
func LoadTemplate(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer f.Close()

	decoded, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode template %s: %w", path, err)
	}
	return Crop(decoded, image.Rectangle{})
}
