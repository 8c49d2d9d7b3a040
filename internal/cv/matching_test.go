package cv

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func patterned(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: uint8((x + y) * 3), A: 255})
		}
	}
	return img
}

func TestFindTemplateLocatesNeedle(t *testing.T) {
	haystack := patterned(40, 30)
	needle, err := Crop(haystack, image.Rect(12, 8, 20, 14))
	if err != nil {
		t.Fatal(err)
	}

	for _, m := range []MatchMethod{MatchMethodSAD, MatchMethodSSD, MatchMethodNCC} {
		res := FindTemplate(haystack, needle, MatchConfig{Method: m, Threshold: 0.99})
		if !res.Found || res.Location != (image.Point{12, 8}) {
			t.Errorf("method %d: result = %+v", m, res)
		}
	}
}

func TestFindTemplateRespectsRegion(t *testing.T) {
	haystack := patterned(40, 30)
	needle, _ := Crop(haystack, image.Rect(2, 2, 6, 6))

	res := FindTemplate(haystack, needle, MatchConfig{Method: MatchMethodSSD, Threshold: 0.999, Region: image.Rect(20, 10, 40, 30)})
	if res.Found && res.Location == (image.Point{2, 2}) {
		t.Error("match reported outside the search region")
	}

	tooSmall := FindTemplate(haystack, needle, MatchConfig{Region: image.Rect(0, 0, 3, 3)})
	if tooSmall.Found || tooSmall.Confidence != 0 {
		t.Errorf("needle larger than region: %+v", tooSmall)
	}
}

func TestCrop(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	fill(img, image.Rect(5, 5, 10, 10), color.RGBA{R: 255, A: 255})

	out, err := Crop(img, image.Rect(5, 5, 20, 20))
	if err != nil {
		t.Fatal(err)
	}
	if out.Bounds() != image.Rect(0, 0, 5, 5) {
		t.Errorf("bounds = %v", out.Bounds())
	}
	if out.RGBAAt(0, 0).R != 255 {
		t.Error("crop not anchored at origin")
	}

	if _, err := Crop(img, image.Rect(50, 50, 60, 60)); err != ErrEmptyRegion {
		t.Errorf("outside crop err = %v", err)
	}

	whole, _ := Crop(img, image.Rectangle{})
	if whole.Bounds() != img.Bounds() {
		t.Errorf("zero roi bounds = %v", whole.Bounds())
	}
}

func TestParseRect(t *testing.T) {
	r, err := ParseRect("10, 20, 110, 70")
	if err != nil || r != image.Rect(10, 20, 110, 70) {
		t.Errorf("ParseRect = %v, %v", r, err)
	}
	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "5,5,5,5"} {
		if _, err := ParseRect(bad); err == nil {
			t.Errorf("ParseRect(%q) should fail", bad)
		}
	}
}

func TestRegionAverageAndDistance(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	fill(img, img.Bounds(), color.RGBA{R: 200, G: 100, B: 50, A: 255})

	avg := RegionAverage(img, image.Rect(0, 0, 2, 2))
	if avg != (color.RGBA{R: 200, G: 100, B: 50, A: 255}) {
		t.Errorf("average = %v", avg)
	}
	if d := ColorDistance(avg, color.RGBA{R: 203, G: 97, B: 50}); d != 2 {
		t.Errorf("distance = %d, want 2", d)
	}
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#ff8000")
	if err != nil || c != (color.RGBA{R: 255, G: 128, B: 0, A: 255}) {
		t.Errorf("ParseColor = %v, %v", c, err)
	}
	if _, err := ParseColor("red"); err == nil {
		t.Error("expected error")
	}
}

func TestLoadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "button.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, patterned(8, 6)); err != nil {
		t.Fatal(err)
	}
	f.Close()

	img, err := LoadTemplate(path)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 8 || img.Bounds().Dy() != 6 {
		t.Errorf("bounds = %v", img.Bounds())
	}
	if _, err := LoadTemplate(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Error("expected error for missing template")
	}
}
