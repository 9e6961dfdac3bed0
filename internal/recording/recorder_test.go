package recording

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/invincible-ocean/roboi-edge/internal/detection"
)

type fakeWriter struct {
	frames []int64
	closed bool
}

func (w *fakeWriter) WriteFrame(f *detection.Frame) error {
	w.frames = append(w.frames, f.FrameID)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeFactory struct {
	openErr error
	writers []*fakeWriter
	paths   []string
}

func (f *fakeFactory) NewWriter(path string, width, height, fps int) (FrameWriter, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	w := &fakeWriter{}
	f.writers = append(f.writers, w)
	f.paths = append(f.paths, path)
	return w, nil
}

type fakeSnapshotter struct {
	saved int
}

func (s *fakeSnapshotter) Save(dir string, frame *detection.Frame, dets []detection.Detection, triggers []string) (string, error) {
	s.saved++
	return filepath.Join(dir, "0.webp"), nil
}

func testRecorder(t *testing.T, factory WriterFactory, snaps Snapshotter) *Recorder {
	t.Helper()
	return NewRecorder(Options{
		CameraID:      "cam1",
		SaveDir:       t.TempDir(),
		BufferSeconds: 1,
		FPS:           5,
		Width:         64,
		Height:        48,
		Writers:       factory,
		Snapshots:     snaps,
		Rand:          rand.New(rand.NewSource(11)),
		Now:           func() time.Time { return time.Unix(1_750_000_000, 500_000_000) },
	})
}

func frame(id int64) *detection.Frame {
	return &detection.Frame{CameraID: "cam1", FrameID: id}
}

func TestTriggerRecordingLifecycle(t *testing.T) {
	factory := &fakeFactory{}
	rec := testRecorder(t, factory, nil)

	// Fill the 5-frame buffer, then some.
	for i := int64(1); i <= 8; i++ {
		rec.AddFrame(frame(i), nil)
	}

	err := rec.TriggerRecording(TriggerRequest{
		Triggers:         []string{"fire_detected_critical"},
		EventDir:         "evt1",
		PreEventSeconds:  1,
		PostEventSeconds: 2,
	})
	if err != nil {
		t.Fatalf("TriggerRecording() error: %v", err)
	}

	if len(factory.writers) != 1 {
		t.Fatalf("opened %d writers, want 1", len(factory.writers))
	}
	w := factory.writers[0]

	// 1s of pre-event at 5 fps: frames 4..8 flushed immediately.
	if len(w.frames) != 5 {
		t.Fatalf("pre-event flush wrote %d frames, want 5", len(w.frames))
	}
	if w.frames[0] != 4 || w.frames[4] != 8 {
		t.Errorf("pre-event frames = %v, want 4..8 oldest first", w.frames)
	}

	// 2s post-event at 5 fps: the tenth live frame finishes the session.
	for i := int64(9); i <= 18; i++ {
		rec.AddFrame(frame(i), nil)
		if i < 18 && !rec.Status().Recording {
			t.Fatalf("session finished early at frame %d", i)
		}
	}

	st := rec.Status()
	if st.Recording {
		t.Error("session still active after frame budget spent")
	}
	if st.SessionsDone != 1 {
		t.Errorf("SessionsDone = %d, want 1", st.SessionsDone)
	}
	if !w.closed {
		t.Error("writer not closed")
	}
	if len(w.frames) != 15 {
		t.Errorf("wrote %d frames total, want 15", len(w.frames))
	}

	if got := filepath.Base(factory.paths[0]); got != "1.mp4" {
		t.Errorf("video file = %q, want 1.mp4", got)
	}

	marker := filepath.Join(filepath.Dir(factory.paths[0]), UploadReadyMarker)
	data, err := os.ReadFile(marker)
	if err != nil {
		t.Fatalf("upload marker missing: %v", err)
	}
	ts, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		t.Fatalf("marker %q is not a float timestamp: %v", data, err)
	}
	if ts != 1_750_000_000.5 {
		t.Errorf("marker timestamp = %f, want 1750000000.5", ts)
	}
}

func TestTriggerRecordingExtendsActiveSession(t *testing.T) {
	factory := &fakeFactory{}
	rec := testRecorder(t, factory, nil)

	if err := rec.TriggerRecording(TriggerRequest{EventDir: "evt1", PostEventSeconds: 2}); err != nil {
		t.Fatalf("first trigger: %v", err)
	}

	// Burn half the budget, then re-trigger.
	for i := int64(1); i <= 5; i++ {
		rec.AddFrame(frame(i), nil)
	}
	if got := rec.Status().RemainingFrames; got != 5 {
		t.Fatalf("RemainingFrames = %d before re-trigger, want 5", got)
	}

	if err := rec.TriggerRecording(TriggerRequest{EventDir: "evt2", PostEventSeconds: 2}); err != nil {
		t.Fatalf("re-trigger: %v", err)
	}

	if len(factory.writers) != 1 {
		t.Errorf("re-trigger opened a second writer")
	}
	st := rec.Status()
	// Budget replaced, not summed.
	if st.RemainingFrames != 10 {
		t.Errorf("RemainingFrames = %d after re-trigger, want 10", st.RemainingFrames)
	}
	// The original session keeps its directory.
	if st.ActiveEventDir != "evt1" {
		t.Errorf("ActiveEventDir = %q, want evt1", st.ActiveEventDir)
	}
}

func TestTriggerRecordingWriterOpenFailure(t *testing.T) {
	factory := &fakeFactory{openErr: errors.New("exec: ffmpeg not found")}
	rec := testRecorder(t, factory, nil)

	err := rec.TriggerRecording(TriggerRequest{EventDir: "evt1", PostEventSeconds: 2})
	if err == nil {
		t.Fatal("TriggerRecording() returned nil, want error")
	}
	if rec.Status().Recording {
		t.Error("session marked active despite writer open failure")
	}

	// Later frames must not panic or write anywhere.
	rec.AddFrame(frame(1), nil)
}

func TestSnapshotCountBounded(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		want      int
	}{
		{name: "fewer than frames", requested: 3, want: 3},
		{name: "more than frames", requested: 50, want: 10},
		{name: "zero", requested: 0, want: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snaps := &fakeSnapshotter{}
			rec := testRecorder(t, &fakeFactory{}, snaps)

			err := rec.TriggerRecording(TriggerRequest{
				EventDir:         "evt1",
				NumSnapshots:     tc.requested,
				PostEventSeconds: 2,
			})
			if err != nil {
				t.Fatalf("TriggerRecording() error: %v", err)
			}
			for i := int64(1); i <= 10; i++ {
				rec.AddFrame(frame(i), nil)
			}

			if snaps.saved != tc.want {
				t.Errorf("saved %d snapshots, want %d", snaps.saved, tc.want)
			}
		})
	}
}

func TestNextVideoNumberSequence(t *testing.T) {
	dir := t.TempDir()

	if got := nextVideoNumber(dir); got != 1 {
		t.Errorf("empty dir: nextVideoNumber() = %d, want 1", got)
	}

	for _, name := range []string{"1.mp4", "2.mp4", "3.webp", UploadReadyMarker} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	if got := nextVideoNumber(dir); got != 3 {
		t.Errorf("nextVideoNumber() = %d, want 3", got)
	}
}

func TestSampleIndices(t *testing.T) {
	rng := rand.New(rand.NewSource(5))

	picked := sampleIndices(rng, 100, 10)
	if len(picked) != 10 {
		t.Fatalf("picked %d indices, want 10", len(picked))
	}
	for idx := range picked {
		if idx < 1 || idx > 100 {
			t.Errorf("index %d out of range [1, 100]", idx)
		}
	}

	if got := len(sampleIndices(rng, 5, 20)); got != 5 {
		t.Errorf("k>total picked %d, want 5", got)
	}
	if got := len(sampleIndices(rng, 0, 5)); got != 0 {
		t.Errorf("total=0 picked %d, want 0", got)
	}
	if got := len(sampleIndices(rng, 10, 0)); got != 0 {
		t.Errorf("k=0 picked %d, want 0", got)
	}
}

func TestSampleIndicesDeterministic(t *testing.T) {
	a := sampleIndices(rand.New(rand.NewSource(21)), 60, 8)
	b := sampleIndices(rand.New(rand.NewSource(21)), 60, 8)

	if len(a) != len(b) {
		t.Fatalf("sizes differ: %d vs %d", len(a), len(b))
	}
	for idx := range a {
		if !b[idx] {
			t.Errorf("index %d missing from second draw", idx)
		}
	}
}

func TestCloseFinalizesActiveSession(t *testing.T) {
	factory := &fakeFactory{}
	rec := testRecorder(t, factory, nil)

	if err := rec.TriggerRecording(TriggerRequest{EventDir: "evt1", PostEventSeconds: 2}); err != nil {
		t.Fatal(err)
	}
	rec.AddFrame(frame(1), nil)
	rec.Close()

	if !factory.writers[0].closed {
		t.Error("writer left open after Close")
	}
	if rec.Status().Recording {
		t.Error("session still active after Close")
	}
}
