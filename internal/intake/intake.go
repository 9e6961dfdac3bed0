// Package intake consumes frame packets published by detection adapters on
// the local bus and feeds them through the recorder and analytics engine.
package intake

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/invincible-ocean/roboi-edge/internal/analytics"
	"github.com/invincible-ocean/roboi-edge/internal/bus"
	"github.com/invincible-ocean/roboi-edge/internal/config"
	"github.com/invincible-ocean/roboi-edge/internal/detection"
	"github.com/invincible-ocean/roboi-edge/internal/recording"
)

// FramePacket is the wire format detection adapters publish on
// roboi.frames.<cam>. Frame data is base64-packed BGR24; detections were
// already computed by the adapter for this exact frame.
type FramePacket struct {
	CameraID    string                `json:"cam_id"`
	FrameID     int64                 `json:"frame_id"`
	Timestamp   int64                 `json:"ts"`
	Width       int                   `json:"width"`
	Height      int                   `json:"height"`
	IsInference bool                  `json:"is_inference"`
	Detections  []detection.Detection `json:"detections"`
	FrameData   string                `json:"frame_data,omitempty"`
}

// Decode unpacks the packet into the runtime frame type. A packet without
// frame data still carries detections; recording is skipped for it.
func (p *FramePacket) Decode() (*detection.Frame, error) {
	frame := &detection.Frame{
		CameraID:  p.CameraID,
		FrameID:   p.FrameID,
		Timestamp: time.Unix(p.Timestamp, 0),
		Width:     p.Width,
		Height:    p.Height,
	}
	if p.FrameData == "" {
		return frame, nil
	}

	data, err := base64.StdEncoding.DecodeString(p.FrameData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame data: %w", err)
	}
	if want := p.Width * p.Height * 3; len(data) != want {
		return nil, fmt.Errorf("frame data is %d bytes, want %d for %dx%d", len(data), want, p.Width, p.Height)
	}
	frame.Data = data
	return frame, nil
}

// RecorderFactory builds the per-camera recorder on first sight of a camera.
type RecorderFactory func(cameraID string) *recording.Recorder

// Intake wires bus frame packets into the engine. Each camera's packets
// are handled serially inside the NATS subscription callback; recorders
// are created lazily per camera.
type Intake struct {
	engine *analytics.Engine
	cfg    *config.Store
	newRec RecorderFactory
	logger *slog.Logger

	mu        sync.Mutex
	recorders map[string]*recording.Recorder
}

// New creates an intake.
func New(engine *analytics.Engine, cfg *config.Store, factory RecorderFactory) *Intake {
	return &Intake{
		engine:    engine,
		cfg:       cfg,
		newRec:    factory,
		logger:    slog.Default().With("component", "intake"),
		recorders: make(map[string]*recording.Recorder),
	}
}

// Attach subscribes to the frame subject on the bus.
func (i *Intake) Attach(b *bus.Bus) error {
	return b.Subscribe(bus.SubjectFrames, i.handle)
}

// RecorderStatus returns the status of every live recorder.
func (i *Intake) RecorderStatus() map[string]recording.Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]recording.Status, len(i.recorders))
	for id, rec := range i.recorders {
		out[id] = rec.Status()
	}
	return out
}

// Close finalizes every active recording session.
func (i *Intake) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, rec := range i.recorders {
		rec.Close()
	}
}

// handle processes one frame packet. Malformed packets are logged and
// dropped; they never stop the loop.
func (i *Intake) handle(msg *nats.Msg) {
	var pkt FramePacket
	if err := json.Unmarshal(msg.Data, &pkt); err != nil {
		i.logger.Error("Failed to decode frame packet", "subject", msg.Subject, "error", err)
		return
	}
	if pkt.CameraID == "" {
		i.logger.Error("Frame packet missing camera id", "subject", msg.Subject)
		return
	}

	frame, err := pkt.Decode()
	if err != nil {
		i.logger.Error("Failed to decode frame", "camera", pkt.CameraID, "error", err)
		return
	}

	rec := i.recorderFor(pkt.CameraID)
	if frame.Data != nil {
		rec.AddFrame(frame, pkt.Detections)
	}

	i.engine.ProcessFrame(analytics.FrameInput{
		CameraID:    pkt.CameraID,
		Frame:       frame,
		Detections:  pkt.Detections,
		Recorder:    rec,
		IsInference: pkt.IsInference,
	})
}

func (i *Intake) recorderFor(cameraID string) *recording.Recorder {
	i.mu.Lock()
	defer i.mu.Unlock()
	rec, ok := i.recorders[cameraID]
	if !ok {
		rec = i.newRec(cameraID)
		i.recorders[cameraID] = rec
	}
	return rec
}
