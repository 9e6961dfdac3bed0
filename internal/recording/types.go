// Package recording maintains the per-camera rolling frame buffer and
// executes bounded pre/post-event evidence capture.
package recording

import (
	"errors"

	"github.com/invincible-ocean/roboi-edge/internal/detection"
)

// UploadReadyMarker is the filename dropped into an event directory once a
// recording session fully completes. Its contents are the completion unix
// timestamp. The background upload worker polls for it; it is the sole
// handoff contract.
const UploadReadyMarker = ".upload_ready"

// ErrWriterClosed is returned when a frame is written after Close.
var ErrWriterClosed = errors.New("video writer is closed")

// FrameWriter consumes raw frames for one video file.
type FrameWriter interface {
	WriteFrame(f *detection.Frame) error
	Close() error
}

// WriterFactory opens a FrameWriter for a new video file. Implementations
// own the container format; the Recorder only hands over raw frames.
type WriterFactory interface {
	NewWriter(path string, width, height, fps int) (FrameWriter, error)
}

// Snapshotter renders one annotated snapshot into a directory using the
// detections stored with the frame. It returns the written file path.
type Snapshotter interface {
	Save(dir string, frame *detection.Frame, dets []detection.Detection, triggers []string) (string, error)
}

// TriggerRequest carries everything one recording trigger needs.
type TriggerRequest struct {
	Triggers         []string
	EventDir         string
	NumSnapshots     int
	PreEventSeconds  int
	PostEventSeconds int
}

// Status is a point-in-time view of a camera's recorder.
type Status struct {
	CameraID        string `json:"camera_id"`
	Recording       bool   `json:"recording"`
	BufferedFrames  int    `json:"buffered_frames"`
	BufferCapacity  int    `json:"buffer_capacity"`
	RemainingFrames int    `json:"remaining_frames"`
	ActiveEventDir  string `json:"active_event_dir,omitempty"`
	SessionsDone    int    `json:"sessions_completed"`
}
