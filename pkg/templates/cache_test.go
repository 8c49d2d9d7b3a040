package templates

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 20), uint8(y * 20), 90, 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestCacheLoadsOnce(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "ok.png"), 6, 4)
	c := NewCache(dir)

	first, err := c.Get("ok.png")
	if err != nil {
		t.Fatal(err)
	}
	if first.Bounds().Dx() != 6 || first.Bounds().Dy() != 4 {
		t.Errorf("bounds = %v", first.Bounds())
	}
	second, err := c.Get(filepath.Join(dir, "ok.png"))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("relative and absolute names should share one image")
	}
	if st := c.Stats(); st.Hits != 1 || st.Misses != 1 || st.Failed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCacheRemembersFailures(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir)

	if _, err := c.Get("missing.png"); err == nil {
		t.Fatal("expected error")
	}
	writePNG(t, filepath.Join(dir, "missing.png"), 2, 2)
	if _, err := c.Get("missing.png"); err == nil {
		t.Error("failure should be cached until Forget")
	}
	if st := c.Stats(); st.Failed != 1 {
		t.Errorf("failed = %d", st.Failed)
	}

	c.Forget("missing.png")
	if _, err := c.Get("missing.png"); err != nil {
		t.Errorf("after Forget: %v", err)
	}
}

func TestPreload(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 3, 3)
	c := NewCache(dir)

	if err := c.Preload("a.png"); err != nil {
		t.Fatal(err)
	}
	if err := c.Preload("a.png", "b.png"); err == nil {
		t.Error("expected error for b.png")
	}
	if c.Len() != 2 {
		t.Errorf("len = %d", c.Len())
	}
}
