package recording

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/invincible-ocean/roboi-edge/internal/detection"
)

func TestFrameToImage(t *testing.T) {
	// 2x1 frame: pure blue pixel, pure red pixel, packed BGR.
	frame := &detection.Frame{
		Width:  2,
		Height: 1,
		Data:   []byte{255, 0, 0, 0, 0, 255},
	}

	img, err := frameToImage(frame)
	if err != nil {
		t.Fatalf("frameToImage() error: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Fatalf("bounds = %v", img.Bounds())
	}

	r, g, b, a := img.At(0, 0).RGBA()
	if r != 0 || g != 0 || b != 0xffff || a != 0xffff {
		t.Errorf("pixel 0 = (%d,%d,%d,%d), want blue", r, g, b, a)
	}
	r, _, b, _ = img.At(1, 0).RGBA()
	if r != 0xffff || b != 0 {
		t.Errorf("pixel 1 = (%d,_,%d,_), want red", r, b)
	}
}

func TestFrameToImageSizeMismatch(t *testing.T) {
	frame := &detection.Frame{Width: 4, Height: 4, Data: []byte{1, 2, 3}}
	if _, err := frameToImage(frame); err == nil {
		t.Error("frameToImage() returned nil error for short data")
	}
}

func TestAnnotateKeepsDimensions(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	dets := []detection.Detection{
		{
			Label:      "person",
			Confidence: 0.91,
			BBox:       detection.BoundingBox{Left: 20, Top: 30, Width: 80, Height: 120},
		},
		{
			Label:       "face",
			Confidence:  0.77,
			BBox:        detection.BoundingBox{Left: 40, Top: 40, Width: 30, Height: 30},
			Recognition: &detection.Recognition{Identity: "alice"},
		},
	}

	out := Annotate(img, dets, []string{"restricted_access_after_hours"})
	if out.Bounds() != img.Bounds() {
		t.Errorf("bounds changed: %v -> %v", img.Bounds(), out.Bounds())
	}
}

func TestNextSnapshotNumber(t *testing.T) {
	dir := t.TempDir()

	if got := nextSnapshotNumber(dir); got != 1 {
		t.Errorf("empty dir: nextSnapshotNumber() = %d, want 1", got)
	}

	for _, name := range []string{"1.webp", "7.webp", "2.webp", "1.mp4", "notes.webp"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	// Continues from the max, skipping non-integer names.
	if got := nextSnapshotNumber(dir); got != 8 {
		t.Errorf("nextSnapshotNumber() = %d, want 8", got)
	}
}
