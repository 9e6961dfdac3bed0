package recording

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/invincible-ocean/roboi-edge/internal/detection"
)

// FFmpegWriterFactory opens mp4 writers backed by an ffmpeg child process
// consuming raw BGR24 frames on stdin. Stream copy is not possible here
// because the frames arrive decoded from the inference pipeline, so the
// writer encodes with libx264 at a fixed quality.
type FFmpegWriterFactory struct {
	// Binary overrides the ffmpeg executable path. Empty means "ffmpeg".
	Binary string
}

// NewWriter starts an ffmpeg process writing to path.
func (f *FFmpegWriterFactory) NewWriter(path string, width, height, fps int) (FrameWriter, error) {
	bin := f.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "-",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-y", path,
	}

	cmd := exec.Command(bin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &ffmpegWriter{
		cmd:       cmd,
		stdin:     stdin,
		path:      path,
		frameSize: width * height * 3,
		logger:    slog.Default().With("component", "video_writer", "path", path),
	}, nil
}

type ffmpegWriter struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	path      string
	frameSize int
	closed    bool
	logger    *slog.Logger
}

// WriteFrame pipes one raw frame to ffmpeg. Frames whose byte length does
// not match the negotiated resolution are rejected rather than corrupting
// the stream alignment.
func (w *ffmpegWriter) WriteFrame(f *detection.Frame) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(f.Data) != w.frameSize {
		return fmt.Errorf("frame size %d does not match expected %d", len(f.Data), w.frameSize)
	}
	_, err := w.stdin.Write(f.Data)
	return err
}

// Close flushes stdin and waits for ffmpeg to finalize the container.
func (w *ffmpegWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.stdin.Close(); err != nil {
		w.logger.Warn("Failed to close ffmpeg stdin", "error", err)
	}
	if err := w.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg exited with error: %w", err)
	}
	return nil
}
