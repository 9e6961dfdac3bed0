// Package analytics orchestrates the per-frame decision between events,
// heartbeats and ambient AI insights, and drives evidence capture.
package analytics

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invincible-ocean/roboi-edge/internal/config"
	"github.com/invincible-ocean/roboi-edge/internal/detection"
	"github.com/invincible-ocean/roboi-edge/internal/journal"
	"github.com/invincible-ocean/roboi-edge/internal/policy"
	"github.com/invincible-ocean/roboi-edge/internal/recording"
)

// Recorder is the evidence-capture collaborator. A failing trigger degrades
// the event record (capture_triggered=false); it never stops the frame loop.
type Recorder interface {
	TriggerRecording(req recording.TriggerRequest) error
}

// FrameInput is one inference frame for one camera.
type FrameInput struct {
	CameraID   string
	Frame      *detection.Frame
	Detections []detection.Detection
	// Recorder may be nil; events are then logged without capture.
	Recorder Recorder
	// IsInference marks frames that actually ran the detector. Heartbeats
	// are only emitted on inference frames so their counts stay accurate.
	IsInference bool
}

// CameraStatus is a point-in-time view of one camera's session state.
type CameraStatus struct {
	CameraID        string `json:"camera_id"`
	LastHeartbeat   int64  `json:"last_heartbeat"`
	LastAlert       int64  `json:"last_alert"`
	PendingInsights int    `json:"pending_insights"`
	EventsEmitted   int64  `json:"events_emitted"`
}

// cameraSession is per-camera in-memory state, created lazily on the first
// frame and living for the process lifetime.
type cameraSession struct {
	lastHeartbeat time.Time
	lastAlert     time.Time
	sampler       InsightSampler
	eventSeq      int64
	events        int64
}

// Engine is the per-frame decision state machine. Each camera's frames
// must arrive serially; distinct cameras may be processed concurrently.
type Engine struct {
	cfg    *config.Store
	sink   journal.Sink
	logger *slog.Logger
	now    func() time.Time
	rng    *rand.Rand

	mu       sync.Mutex
	sessions map[string]*cameraSession
}

// EngineOptions configures an Engine. Now and Rand default to the system
// clock and a time-seeded source.
type EngineOptions struct {
	Config *config.Store
	Sink   journal.Sink
	Now    func() time.Time
	Rand   *rand.Rand
}

// NewEngine creates an analytics engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{
		cfg:      opts.Config,
		sink:     opts.Sink,
		logger:   slog.Default().With("component", "analytics"),
		now:      opts.Now,
		rng:      opts.Rand,
		sessions: make(map[string]*cameraSession),
	}
}

// ProcessFrame runs the full decision for one frame: threshold bucketing,
// policy evaluation, alert debounce, heartbeat bookkeeping and ambient
// insight sampling. Most idle frames exit before doing any of that work.
//
// The engine mutex covers only session bookkeeping; recorder triggering
// and sink writes run outside it, so one camera's capture latency cannot
// stall the other cameras.
func (e *Engine) ProcessFrame(in FrameInput) {
	now := e.now()
	cfg := e.cfg.Current()

	e.mu.Lock()
	sess, ok := e.sessions[in.CameraID]
	if !ok {
		// Seed the heartbeat timer so a startup burst of cameras does not
		// flood the journal in the first minute.
		sess = &cameraSession{lastHeartbeat: now}
		e.sessions[in.CameraID] = sess
	}

	heartbeatDue := in.IsInference &&
		now.Sub(sess.lastHeartbeat).Seconds() >= cfg.Analytics.HeartbeatInterval

	sess.sampler.Update(now.Unix(), cfg.Analytics.AIInsightsPerHour, cfg.Analytics.InsightsEnabled(), e.rng)
	insightDue := sess.sampler.Due(now.Unix())

	if len(in.Detections) == 0 && !heartbeatDue && !insightDue {
		e.mu.Unlock()
		return
	}

	buckets := detection.Filter(in.Detections, detection.Thresholds{
		Person:   cfg.Analytics.PersonThreshold,
		Fire:     cfg.Analytics.FireThreshold,
		Violence: cfg.Analytics.ViolenceThreshold,
		Vehicle:  cfg.Analytics.VehicleThreshold,
		Default:  0.5,
	})

	triggers := policy.Evaluate(cfg, policy.Input{
		CameraID: in.CameraID,
		Buckets:  buckets,
		Raw:      in.Detections,
		Now:      now.UTC(),
	})

	eventDue := len(triggers) > 0 &&
		now.Sub(sess.lastAlert).Seconds() >= cfg.Analytics.AlertCooldown

	var eventSeq, insightSeq, insightTS int64
	switch {
	case eventDue:
		sess.lastAlert = now
		// An event doubles as a liveness signal, so the heartbeat timer
		// resets to avoid a redundant near-simultaneous metric line.
		sess.lastHeartbeat = now
		sess.events++
		if in.Recorder != nil {
			sess.eventSeq++
			eventSeq = sess.eventSeq
		}
	case heartbeatDue:
		sess.lastHeartbeat = now
	}
	if insightDue {
		insightTS = sess.sampler.Pop()
		if in.Recorder != nil {
			sess.eventSeq++
			insightSeq = sess.eventSeq
		}
	}
	e.mu.Unlock()

	switch {
	case eventDue:
		e.emitEvent(cfg, in, buckets, triggers, now, eventSeq)
	case heartbeatDue:
		e.emit(e.buildRecord(cfg, journal.TypeMetric, in.CameraID, buckets, nil, policy.StatusSafe, now.Unix()))
	}

	if insightDue {
		e.emitInsight(cfg, in, buckets, now, insightTS, insightSeq)
	}
}

// emitEvent builds the event record, fires the recorder and writes the line.
func (e *Engine) emitEvent(cfg *config.Snapshot, in FrameInput, buckets detection.Buckets, triggers []string, now time.Time, seq int64) {
	status := policy.Severity(cfg, triggers)
	rec := e.buildRecord(cfg, journal.TypeEvent, in.CameraID, buckets, triggers, status, now.Unix())

	if in.Recorder != nil {
		eventDir := eventDirName(cfg.Site, in.CameraID, now.Unix(), seq, "")
		err := in.Recorder.TriggerRecording(recording.TriggerRequest{
			Triggers:         triggers,
			EventDir:         eventDir,
			NumSnapshots:     cfg.Analytics.SnapshotsPerEvent,
			PreEventSeconds:  cfg.Analytics.PreEventSeconds,
			PostEventSeconds: cfg.Analytics.PostEventSeconds,
		})
		if err != nil {
			e.logger.Error("Recording trigger failed", "camera", in.CameraID, "error", err)
		} else {
			rec.Data.CaptureTriggered = true
			rec.Data.EvidencePath = eventDir
			rec.Data.VideoCount = 1
			rec.Data.ImageCount = cfg.Analytics.SnapshotsPerEvent
		}
	}

	e.logger.Info("Event detected",
		"camera", in.CameraID,
		"status", status,
		"triggers", strings.Join(triggers, ","),
	)
	e.emit(rec)
}

// emitInsight writes the ai-info record for a popped schedule slot with
// its own shorter capture burst, independent of any alert this tick.
func (e *Engine) emitInsight(cfg *config.Snapshot, in FrameInput, buckets detection.Buckets, now time.Time, triggerTS, seq int64) {
	rec := e.buildRecord(cfg, journal.TypeAIInfo, in.CameraID, buckets, nil, policy.StatusSafe, triggerTS)
	rec.Data.AIInsights = "Periodic Random Capture"

	if in.Recorder != nil {
		eventDir := eventDirName(cfg.Site, in.CameraID, now.Unix(), seq, "insight_")
		err := in.Recorder.TriggerRecording(recording.TriggerRequest{
			Triggers:         []string{policy.TriggerInsightCapture},
			EventDir:         eventDir,
			NumSnapshots:     cfg.Analytics.AIInsightsSnapshots,
			PreEventSeconds:  0,
			PostEventSeconds: cfg.Analytics.AIInsightsDuration,
		})
		if err != nil {
			e.logger.Error("Insight recording trigger failed", "camera", in.CameraID, "error", err)
		} else {
			rec.Data.CaptureTriggered = true
			rec.Data.EvidencePath = eventDir
			rec.Data.VideoCount = 1
			rec.Data.ImageCount = cfg.Analytics.AIInsightsSnapshots
		}
	}

	e.logger.Info("AI insight triggered", "camera", in.CameraID, "scheduled_ts", triggerTS)
	e.emit(rec)
}

// buildRecord assembles the common record shape shared by all three types.
func (e *Engine) buildRecord(cfg *config.Snapshot, typ journal.RecordType, cameraID string, buckets detection.Buckets, triggers []string, status policy.Status, ts int64) *journal.Record {
	dets := detection.WithDisplayLabels(buckets.Valid())
	if triggers == nil {
		triggers = []string{}
	}
	return &journal.Record{
		ID:   uuid.New().String(),
		Type: typ,
		Meta: journal.Meta{
			Timestamp: ts,
			CameraID:  cameraID,
			SiteName:  cfg.Site.SiteName,
			SiteID:    cfg.Site.SiteID,
			Latitude:  cfg.Site.Latitude,
			Longitude: cfg.Site.Longitude,
			Country:   cfg.Site.Country,
			State:     cfg.Site.State,
			District:  cfg.Site.District,
		},
		Data: journal.Data{
			Triggers:       triggers,
			Status:         string(status),
			PeopleCount:    len(buckets.People),
			DetectionCount: len(dets),
			Detections:     dets,
		},
	}
}

func (e *Engine) emit(rec *journal.Record) {
	if err := e.sink.Write(rec); err != nil {
		e.logger.Error("Failed to write record", "type", rec.Type, "camera", rec.Meta.CameraID, "error", err)
	}
}

// Status returns per-camera session state for the API.
func (e *Engine) Status() map[string]CameraStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]CameraStatus, len(e.sessions))
	for id, sess := range e.sessions {
		out[id] = CameraStatus{
			CameraID:        id,
			LastHeartbeat:   sess.lastHeartbeat.Unix(),
			LastAlert:       sess.lastAlert.Unix(),
			PendingInsights: sess.sampler.Pending(),
			EventsEmitted:   sess.events,
		}
	}
	return out
}

// eventDirName derives the evidence directory for one trigger. The
// per-camera sequence suffix keeps same-second triggers from colliding.
func eventDirName(site config.SiteInfo, cameraID string, ts, seq int64, prefix string) string {
	return strings.ToLower(fmt.Sprintf("%s%s_%s_%s_%s_%s_%d_%d",
		prefix, site.Country, site.State, site.District, site.SiteID, cameraID, ts, seq))
}
