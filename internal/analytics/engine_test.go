package analytics

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/invincible-ocean/roboi-edge/internal/config"
	"github.com/invincible-ocean/roboi-edge/internal/detection"
	"github.com/invincible-ocean/roboi-edge/internal/journal"
	"github.com/invincible-ocean/roboi-edge/internal/recording"
)

func boolPtr(b bool) *bool { return &b }

type captureSink struct {
	records []*journal.Record
}

func (s *captureSink) Write(rec *journal.Record) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *captureSink) byType(typ journal.RecordType) []*journal.Record {
	var out []*journal.Record
	for _, r := range s.records {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

type fakeRecorder struct {
	calls []recording.TriggerRequest
	err   error
}

func (f *fakeRecorder) TriggerRecording(req recording.TriggerRequest) error {
	f.calls = append(f.calls, req)
	return f.err
}

// testEngine wires an engine to a capture sink with a controllable clock.
// The returned advance function moves the clock forward.
func testEngine(t *testing.T, mutate func(*config.Snapshot)) (*Engine, *captureSink, func(d time.Duration)) {
	t.Helper()

	snap := &config.Snapshot{}
	snap.Analytics.AIInsightsEnabled = boolPtr(false)
	if mutate != nil {
		mutate(snap)
	}

	sink := &captureSink{}
	cur := time.Unix(1_750_000_000, 0)
	eng := NewEngine(EngineOptions{
		Config: config.NewStaticStore(snap),
		Sink:   sink,
		Now:    func() time.Time { return cur },
		Rand:   rand.New(rand.NewSource(42)),
	})
	return eng, sink, func(d time.Duration) { cur = cur.Add(d) }
}

func fireFrame(cameraID string, rec Recorder) FrameInput {
	return FrameInput{
		CameraID:    cameraID,
		Detections:  []detection.Detection{{Label: "fire", Confidence: 0.9}},
		Recorder:    rec,
		IsInference: true,
	}
}

func TestProcessFrameEmitsEvent(t *testing.T) {
	eng, sink, _ := testEngine(t, func(s *config.Snapshot) {
		s.Analytics.SnapshotsPerEvent = 5
	})
	rec := &fakeRecorder{}

	eng.ProcessFrame(fireFrame("cam1", rec))

	events := sink.byType(journal.TypeEvent)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.ID == "" {
		t.Error("event has no ID")
	}
	if ev.Data.Status != "emergency" {
		t.Errorf("Status = %q, want %q", ev.Data.Status, "emergency")
	}
	if len(ev.Data.Triggers) != 1 || ev.Data.Triggers[0] != "fire_detected_critical" {
		t.Errorf("Triggers = %v", ev.Data.Triggers)
	}
	if !ev.Data.CaptureTriggered {
		t.Error("CaptureTriggered = false after successful trigger")
	}
	if ev.Data.VideoCount != 1 || ev.Data.ImageCount != 5 {
		t.Errorf("VideoCount/ImageCount = %d/%d, want 1/5", ev.Data.VideoCount, ev.Data.ImageCount)
	}
	if ev.Meta.SiteID == "" || ev.Meta.Country == "" {
		t.Error("site identity missing from record meta")
	}

	if len(rec.calls) != 1 {
		t.Fatalf("recorder called %d times, want 1", len(rec.calls))
	}
	wantDir := fmt.Sprintf("india_west_bengal_kolkata_ro001_cam1_%d_1", time.Unix(1_750_000_000, 0).Unix())
	if rec.calls[0].EventDir != wantDir {
		t.Errorf("EventDir = %q, want %q", rec.calls[0].EventDir, wantDir)
	}
	if ev.Data.EvidencePath != wantDir {
		t.Errorf("EvidencePath = %q, want %q", ev.Data.EvidencePath, wantDir)
	}
}

func TestProcessFrameCooldownDebounce(t *testing.T) {
	eng, sink, advance := testEngine(t, nil)

	// Default cooldown is 5 seconds. Fifteen frames over ~14 seconds
	// must collapse into three events: t=0, t=5, t=10.
	for i := 0; i < 15; i++ {
		eng.ProcessFrame(fireFrame("cam1", nil))
		advance(time.Second)
	}

	if got := len(sink.byType(journal.TypeEvent)); got != 3 {
		t.Errorf("got %d events, want 3", got)
	}
}

func TestProcessFrameCooldownPerCamera(t *testing.T) {
	eng, sink, _ := testEngine(t, nil)

	eng.ProcessFrame(fireFrame("cam1", nil))
	eng.ProcessFrame(fireFrame("cam2", nil))

	if got := len(sink.byType(journal.TypeEvent)); got != 2 {
		t.Errorf("got %d events across two cameras, want 2", got)
	}
}

func TestProcessFrameReTriggerExtendsRecording(t *testing.T) {
	eng, _, advance := testEngine(t, nil)
	rec := &fakeRecorder{}

	eng.ProcessFrame(fireFrame("cam1", rec))
	advance(6 * time.Second)
	eng.ProcessFrame(fireFrame("cam1", rec))

	if len(rec.calls) != 2 {
		t.Fatalf("recorder called %d times, want 2", len(rec.calls))
	}
	// Sequence suffix increments per trigger.
	if rec.calls[0].EventDir == rec.calls[1].EventDir {
		t.Errorf("event dirs collide: %q", rec.calls[0].EventDir)
	}
}

func TestProcessFrameRecorderFailureDegradesRecord(t *testing.T) {
	eng, sink, _ := testEngine(t, nil)
	rec := &fakeRecorder{err: errors.New("ffmpeg not found")}

	eng.ProcessFrame(fireFrame("cam1", rec))

	events := sink.byType(journal.TypeEvent)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1; a capture failure must not drop the record", len(events))
	}
	ev := events[0]
	if ev.Data.CaptureTriggered {
		t.Error("CaptureTriggered = true despite recorder failure")
	}
	if ev.Data.EvidencePath != "" {
		t.Errorf("EvidencePath = %q, want empty", ev.Data.EvidencePath)
	}
}

func TestProcessFrameHeartbeat(t *testing.T) {
	eng, sink, advance := testEngine(t, nil)

	idle := FrameInput{CameraID: "cam1", IsInference: true}

	// First frame seeds the timer; no heartbeat for the first interval.
	eng.ProcessFrame(idle)
	advance(30 * time.Second)
	eng.ProcessFrame(idle)
	if got := len(sink.byType(journal.TypeMetric)); got != 0 {
		t.Fatalf("got %d heartbeats before interval elapsed, want 0", got)
	}

	advance(30 * time.Second)
	eng.ProcessFrame(idle)
	metrics := sink.byType(journal.TypeMetric)
	if len(metrics) != 1 {
		t.Fatalf("got %d heartbeats, want 1", len(metrics))
	}
	hb := metrics[0]
	if hb.Data.Status != "safe" {
		t.Errorf("heartbeat Status = %q, want safe", hb.Data.Status)
	}
	if hb.Data.Triggers == nil || len(hb.Data.Triggers) != 0 {
		t.Errorf("heartbeat Triggers = %v, want empty non-nil slice", hb.Data.Triggers)
	}
}

func TestProcessFrameHeartbeatSkipsNonInference(t *testing.T) {
	eng, sink, advance := testEngine(t, nil)

	eng.ProcessFrame(FrameInput{CameraID: "cam1", IsInference: true})
	advance(120 * time.Second)
	eng.ProcessFrame(FrameInput{CameraID: "cam1", IsInference: false})

	if got := len(sink.records); got != 0 {
		t.Errorf("got %d records from non-inference frame, want 0", got)
	}
}

func TestProcessFrameEventResetsHeartbeat(t *testing.T) {
	eng, sink, advance := testEngine(t, nil)

	eng.ProcessFrame(FrameInput{CameraID: "cam1", IsInference: true})
	advance(59 * time.Second)

	// Event at t=59 doubles as liveness, so no heartbeat at t=61.
	eng.ProcessFrame(fireFrame("cam1", nil))
	advance(2 * time.Second)
	eng.ProcessFrame(FrameInput{CameraID: "cam1", IsInference: true})

	if got := len(sink.byType(journal.TypeMetric)); got != 0 {
		t.Errorf("got %d heartbeats right after an event, want 0", got)
	}
	if got := len(sink.byType(journal.TypeEvent)); got != 1 {
		t.Errorf("got %d events, want 1", got)
	}
}

func TestProcessFrameIdleEmitsNothing(t *testing.T) {
	eng, sink, advance := testEngine(t, nil)

	for i := 0; i < 10; i++ {
		eng.ProcessFrame(FrameInput{CameraID: "cam1", IsInference: true})
		advance(time.Second)
	}

	if len(sink.records) != 0 {
		t.Errorf("got %d records from idle frames, want 0", len(sink.records))
	}
}

func TestProcessFrameInsight(t *testing.T) {
	eng, sink, advance := testEngine(t, func(s *config.Snapshot) {
		s.Analytics.AIInsightsEnabled = boolPtr(true)
		s.Analytics.AIInsightsPerHour = 5
		s.Analytics.AIInsightsSnapshots = 10
		s.Analytics.AIInsightsDuration = 30
	})
	rec := &fakeRecorder{}

	// First frame draws the hour's schedule; one second before the window
	// closes every slot has passed.
	eng.ProcessFrame(FrameInput{CameraID: "cam1", Recorder: rec, IsInference: true})
	advance(3599 * time.Second)
	eng.ProcessFrame(FrameInput{CameraID: "cam1", Recorder: rec, IsInference: true})

	insights := sink.byType(journal.TypeAIInfo)
	if len(insights) == 0 {
		t.Fatal("no ai-info record emitted")
	}
	ins := insights[len(insights)-1]
	if ins.Data.AIInsights != "Periodic Random Capture" {
		t.Errorf("AIInsights = %q", ins.Data.AIInsights)
	}
	if !ins.Data.CaptureTriggered {
		t.Error("insight capture not triggered")
	}

	var insightCall *recording.TriggerRequest
	for i := range rec.calls {
		if rec.calls[i].PreEventSeconds == 0 {
			insightCall = &rec.calls[i]
		}
	}
	if insightCall == nil {
		t.Fatal("no insight recorder call")
	}
	if insightCall.PostEventSeconds != 30 || insightCall.NumSnapshots != 10 {
		t.Errorf("insight capture = post %ds / %d snapshots, want 30/10",
			insightCall.PostEventSeconds, insightCall.NumSnapshots)
	}
	if len(insightCall.EventDir) < 8 || insightCall.EventDir[:8] != "insight_" {
		t.Errorf("insight EventDir = %q, want insight_ prefix", insightCall.EventDir)
	}
}

// stallingRecorder blocks inside TriggerRecording until released, standing
// in for a camera whose capture pipeline has gone slow.
type stallingRecorder struct {
	started chan struct{}
	release chan struct{}
}

func (r *stallingRecorder) TriggerRecording(recording.TriggerRequest) error {
	close(r.started)
	<-r.release
	return nil
}

func TestProcessFrameCamerasIndependentUnderSlowCapture(t *testing.T) {
	eng, sink, _ := testEngine(t, nil)
	stalled := &stallingRecorder{started: make(chan struct{}), release: make(chan struct{})}

	cam1Done := make(chan struct{})
	go func() {
		eng.ProcessFrame(fireFrame("cam1", stalled))
		close(cam1Done)
	}()
	<-stalled.started

	// cam1 is stuck in its capture trigger; cam2 must still get through.
	cam2Done := make(chan struct{})
	go func() {
		eng.ProcessFrame(fireFrame("cam2", nil))
		close(cam2Done)
	}()
	select {
	case <-cam2Done:
	case <-time.After(2 * time.Second):
		t.Fatal("second camera blocked behind first camera's capture")
	}

	close(stalled.release)
	<-cam1Done

	if got := len(sink.byType(journal.TypeEvent)); got != 2 {
		t.Errorf("got %d events, want 2", got)
	}
}

func TestEngineStatus(t *testing.T) {
	eng, _, _ := testEngine(t, nil)

	eng.ProcessFrame(fireFrame("cam1", nil))
	eng.ProcessFrame(FrameInput{CameraID: "cam2", IsInference: true})

	status := eng.Status()
	if len(status) != 2 {
		t.Fatalf("Status() has %d cameras, want 2", len(status))
	}
	if status["cam1"].EventsEmitted != 1 {
		t.Errorf("cam1 EventsEmitted = %d, want 1", status["cam1"].EventsEmitted)
	}
	if status["cam2"].EventsEmitted != 0 {
		t.Errorf("cam2 EventsEmitted = %d, want 0", status["cam2"].EventsEmitted)
	}
}

func TestEventDirName(t *testing.T) {
	site := config.SiteInfo{
		Country:  "India",
		State:    "West_Bengal",
		District: "Kolkata",
		SiteID:   "RO001",
	}

	got := eventDirName(site, "Cam_7", 1750000000, 3, "")
	want := "india_west_bengal_kolkata_ro001_cam_7_1750000000_3"
	if got != want {
		t.Errorf("eventDirName() = %q, want %q", got, want)
	}

	got = eventDirName(site, "cam_7", 1750000000, 4, "insight_")
	want = "insight_india_west_bengal_kolkata_ro001_cam_7_1750000000_4"
	if got != want {
		t.Errorf("eventDirName() = %q, want %q", got, want)
	}
}
