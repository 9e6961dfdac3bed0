package recording

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fogleman/gg"

	"github.com/invincible-ocean/roboi-edge/internal/detection"
)

// WebpSnapshotter renders annotated snapshots as sequentially numbered
// .webp files. Annotation is drawn in-process; webp encoding is delegated
// to ffmpeg like the video path.
type WebpSnapshotter struct {
	// Binary overrides the ffmpeg executable path. Empty means "ffmpeg".
	Binary string
}

// Save draws the stored detections onto the frame and writes
// <dir>/<n>.webp where n continues the directory's numbering.
func (s *WebpSnapshotter) Save(dir string, frame *detection.Frame, dets []detection.Detection, triggers []string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	img, err := frameToImage(frame)
	if err != nil {
		return "", err
	}

	annotated := Annotate(img, dets, triggers)

	path := filepath.Join(dir, fmt.Sprintf("%d.webp", nextSnapshotNumber(dir)))
	if err := s.encodeWebp(annotated, path); err != nil {
		return "", err
	}
	return path, nil
}

// encodeWebp pipes a PNG of the annotated image through ffmpeg.
func (s *WebpSnapshotter) encodeWebp(img image.Image, path string) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	bin := s.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.Command(bin,
		"-hide_banner", "-loglevel", "error",
		"-f", "image2pipe",
		"-i", "-",
		"-frames:v", "1",
		"-y", path,
	)
	cmd.Stdin = &buf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg snapshot encode failed: %w", err)
	}
	return nil
}

// frameToImage unpacks BGR24 bytes into an RGBA image.
func frameToImage(frame *detection.Frame) (*image.RGBA, error) {
	want := frame.Width * frame.Height * 3
	if len(frame.Data) != want {
		return nil, fmt.Errorf("frame size %d does not match %dx%d", len(frame.Data), frame.Width, frame.Height)
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			src := (y*frame.Width + x) * 3
			dst := img.PixOffset(x, y)
			img.Pix[dst+0] = frame.Data[src+2]
			img.Pix[dst+1] = frame.Data[src+1]
			img.Pix[dst+2] = frame.Data[src+0]
			img.Pix[dst+3] = 0xff
		}
	}
	return img, nil
}

// Annotate draws detection boxes and labels onto the image. The label
// prefers the recognized identity over the raw class label.
func Annotate(img image.Image, dets []detection.Detection, triggers []string) image.Image {
	dc := gg.NewContextForImage(img)

	for _, d := range dets {
		x, y := d.BBox.Left, d.BBox.Top
		w, h := d.BBox.Width, d.BBox.Height

		dc.SetRGB(0, 1, 0)
		dc.SetLineWidth(3)
		dc.DrawRectangle(x, y, w, h)
		dc.Stroke()

		label := d.Label
		if d.Recognition != nil && d.Recognition.Identity != "" {
			label = d.Recognition.Identity
		}
		text := fmt.Sprintf("%s %s", label, strconv.FormatFloat(d.Confidence, 'f', 2, 64))

		tw, th := dc.MeasureString(text)
		dc.SetRGBA(0, 0, 0, 0.6)
		dc.DrawRectangle(x, y-th-6, tw+8, th+6)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawString(text, x+4, y-4)
	}

	if len(triggers) > 0 {
		banner := strings.Join(triggers, " | ")
		tw, th := dc.MeasureString(banner)
		dc.SetRGBA(0.8, 0, 0, 0.7)
		dc.DrawRectangle(8, 8, tw+12, th+10)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawString(banner, 14, 12+th)
	}

	return dc.Image()
}

// nextSnapshotNumber scans dir for integer-named .webp files and returns
// one past the largest, matching the uploader's 1.webp, 2.webp contract.
func nextSnapshotNumber(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}
	max := 0
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".webp" {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(name, ".webp"))
		if err != nil {
			continue
		}
		if idx > max {
			max = idx
		}
	}
	return max + 1
}
