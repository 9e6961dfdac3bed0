package recording

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/invincible-ocean/roboi-edge/internal/detection"
)

// Recorder holds the rolling pre-event buffer for one camera and drives at
// most one recording session at a time. Re-triggering an active session
// extends its remaining frame budget; it never opens a second writer.
//
// All entry points take the internal mutex, so a capture loop and a manual
// trigger path may safely overlap on the same camera.
type Recorder struct {
	cameraID string
	saveDir  string
	fps      int
	width    int
	height   int

	writers   WriterFactory
	snapshots Snapshotter
	rng       *rand.Rand
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	ring   *FrameRing
	active *session
	done   int
}

// session is one in-flight recording.
type session struct {
	writer         FrameWriter
	eventDir       string
	remaining      int
	frameIndex     int
	sampled        map[int]bool
	snapshotBudget int
	snapshotsSaved int
	triggers       []string
}

// Options configures a Recorder. Zero values fall back to the defaults the
// original deployment ran with.
type Options struct {
	CameraID      string
	SaveDir       string
	BufferSeconds int
	FPS           int
	Width         int
	Height        int
	Writers       WriterFactory
	Snapshots     Snapshotter
	// Rand seeds snapshot index sampling; nil uses a time-seeded source.
	Rand *rand.Rand
	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

// NewRecorder creates a recorder with a buffer of BufferSeconds*FPS frames.
func NewRecorder(opts Options) *Recorder {
	if opts.SaveDir == "" {
		opts.SaveDir = "data/captures"
	}
	if opts.BufferSeconds <= 0 {
		opts.BufferSeconds = 3
	}
	if opts.FPS <= 0 {
		opts.FPS = 15
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1280, 720
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Recorder{
		cameraID:  opts.CameraID,
		saveDir:   opts.SaveDir,
		fps:       opts.FPS,
		width:     opts.Width,
		height:    opts.Height,
		writers:   opts.Writers,
		snapshots: opts.Snapshots,
		rng:       opts.Rand,
		now:       opts.Now,
		logger:    slog.Default().With("component", "recorder", "camera", opts.CameraID),
		ring:      NewFrameRing(opts.BufferSeconds * opts.FPS),
	}
}

// AddFrame appends a frame to the rolling buffer. While a session is
// active the frame is also written to the open video file, a snapshot is
// rendered when the session frame index was sampled, and the session is
// finalized once its frame budget is spent.
func (r *Recorder) AddFrame(frame *detection.Frame, dets []detection.Detection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring.Push(BufferedFrame{Frame: frame, Detections: dets})

	s := r.active
	if s == nil {
		return
	}

	r.writeSessionFrame(s, frame, dets)

	s.remaining--
	if s.remaining <= 0 {
		r.finishSession()
	}
}

// TriggerRecording starts a session, or extends the active one. The
// extension replaces the remaining budget with post_event_seconds*fps; it
// never sums, so a sustained hazard cannot grow a session without bound.
func (r *Recorder) TriggerRecording(req TriggerRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		r.active.remaining = req.PostEventSeconds * r.fps
		r.active.triggers = req.Triggers
		return nil
	}

	eventDir := req.EventDir
	if eventDir == "" {
		eventDir = r.cameraID
	}
	activeDir := filepath.Join(r.saveDir, eventDir)
	if err := os.MkdirAll(activeDir, 0755); err != nil {
		return fmt.Errorf("failed to create event directory: %w", err)
	}

	videoPath := filepath.Join(activeDir, fmt.Sprintf("%d.mp4", nextVideoNumber(activeDir)))
	writer, err := r.writers.NewWriter(videoPath, r.width, r.height, r.fps)
	if err != nil {
		// No session is marked active, so no dangling writer persists.
		return fmt.Errorf("failed to open video writer: %w", err)
	}

	postFrames := req.PostEventSeconds * r.fps
	preFrames := req.PreEventSeconds * r.fps
	if preFrames > r.ring.Len() {
		preFrames = r.ring.Len()
	}
	totalExpected := preFrames + postFrames

	s := &session{
		writer:         writer,
		eventDir:       eventDir,
		remaining:      postFrames,
		sampled:        sampleIndices(r.rng, totalExpected, req.NumSnapshots),
		snapshotBudget: req.NumSnapshots,
		triggers:       req.Triggers,
	}
	r.active = s

	// Drain the requested pre-event slice oldest-to-newest so the evidence
	// starts seconds before the triggering frame.
	for _, buffered := range r.ring.Tail(preFrames) {
		r.writeSessionFrame(s, buffered.Frame, buffered.Detections)
	}

	r.logger.Info("Recording session started",
		"event_dir", eventDir,
		"pre_frames", preFrames,
		"post_frames", postFrames,
		"snapshots", req.NumSnapshots,
	)
	return nil
}

// Status returns a point-in-time view for the API.
func (r *Recorder) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		CameraID:       r.cameraID,
		BufferedFrames: r.ring.Len(),
		BufferCapacity: r.ring.Capacity(),
		SessionsDone:   r.done,
	}
	if r.active != nil {
		st.Recording = true
		st.RemainingFrames = r.active.remaining
		st.ActiveEventDir = r.active.eventDir
	}
	return st
}

// Close finalizes any active session. Called on shutdown; losing the final
// partial segment is acceptable, leaking the writer handle is not.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		r.finishSession()
	}
}

// writeSessionFrame writes one frame into the active session and renders a
// snapshot if this index was sampled. Caller holds the mutex.
func (r *Recorder) writeSessionFrame(s *session, frame *detection.Frame, dets []detection.Detection) {
	s.frameIndex++

	if err := s.writer.WriteFrame(frame); err != nil {
		r.logger.Error("Failed to write video frame", "event_dir", s.eventDir, "error", err)
	}

	if s.snapshotsSaved >= s.snapshotBudget || !s.sampled[s.frameIndex] {
		return
	}
	s.snapshotsSaved++

	if r.snapshots == nil {
		return
	}
	snapDir := filepath.Join(r.saveDir, s.eventDir)
	if _, err := r.snapshots.Save(snapDir, frame, dets, s.triggers); err != nil {
		r.logger.Error("Failed to save snapshot", "event_dir", s.eventDir, "error", err)
	}
}

// finishSession closes the writer and drops the upload-ready marker.
// Caller holds the mutex.
func (r *Recorder) finishSession() {
	s := r.active
	r.active = nil
	r.done++

	if err := s.writer.Close(); err != nil {
		r.logger.Error("Failed to close video writer", "event_dir", s.eventDir, "error", err)
	}

	markerPath := filepath.Join(r.saveDir, s.eventDir, UploadReadyMarker)
	ts := strconv.FormatFloat(float64(r.now().UnixNano())/1e9, 'f', 6, 64)
	if err := os.WriteFile(markerPath, []byte(ts), 0644); err != nil {
		r.logger.Error("Failed to create upload marker", "event_dir", s.eventDir, "error", err)
		return
	}

	r.logger.Info("Recording session completed",
		"event_dir", s.eventDir,
		"frames", s.frameIndex,
		"snapshots", s.snapshotsSaved,
	)
}

// nextVideoNumber returns one past the count of .mp4 files already in dir,
// giving the 1.mp4, 2.mp4, ... sequence the uploader expects.
func nextVideoNumber(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 1
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".mp4" {
			n++
		}
	}
	return n + 1
}

// sampleIndices draws min(k, total) distinct indices from [1, total] via a
// partial Fisher-Yates shuffle, so snapshot placement is deterministic
// under a seeded source.
func sampleIndices(rng *rand.Rand, total, k int) map[int]bool {
	if k <= 0 || total <= 0 {
		return map[int]bool{}
	}
	if k > total {
		k = total
	}

	pool := make([]int, total)
	for i := range pool {
		pool[i] = i + 1
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(total-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	picked := pool[:k]
	sort.Ints(picked)

	out := make(map[int]bool, k)
	for _, idx := range picked {
		out[idx] = true
	}
	return out
}
