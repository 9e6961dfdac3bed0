// Package journal defines the structured record every event, heartbeat and
// AI insight is logged as, and the append-only NDJSON file they land in.
package journal

import (
	"encoding/json"
	"fmt"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/invincible-ocean/roboi-edge/internal/detection"
)

// RecordType discriminates the three record kinds on the wire.
type RecordType string

const (
	TypeEvent  RecordType = "event"
	TypeMetric RecordType = "metric"
	TypeAIInfo RecordType = "ai-info"
)

// Meta identifies where and when a record was produced.
type Meta struct {
	Timestamp int64   `json:"ts"`
	CameraID  string  `json:"cam_id"`
	SiteName  string  `json:"site_name"`
	SiteID    string  `json:"site_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
	State     string  `json:"state"`
	District  string  `json:"district"`
}

// Data is the record body. Triage fields are written zero-valued here and
// filled in later by the review tooling downstream.
type Data struct {
	Triggers         []string              `json:"triggers"`
	Status           string                `json:"status"`
	PeopleCount      int                   `json:"people_count"`
	DetectionCount   int                   `json:"detection_count"`
	VideoCount       int                   `json:"video_count"`
	ImageCount       int                   `json:"image_count"`
	Detections       []detection.Detection `json:"detections"`
	TriagedBy        string                `json:"triaged_by"`
	TriageNotes      string                `json:"triage_notes"`
	TriageTimestamp  int64                 `json:"triage_timestamp"`
	AIInsights       string                `json:"ai_insights"`
	CaptureTriggered bool                  `json:"capture_triggered"`
	EvidencePath     string                `json:"evidence_path"`
}

// Record is one newline-delimited JSON line in the detection journal.
type Record struct {
	ID   string     `json:"id,omitempty"`
	Type RecordType `json:"type"`
	Meta Meta       `json:"meta"`
	Data Data       `json:"data"`
}

// Sink consumes emitted records. The engine never blocks on a slow sink
// implementation; sinks that fan out remotely must buffer internally.
type Sink interface {
	Write(rec *Record) error
}

// MultiSink writes each record to every sink, returning the first error
// after all sinks were attempted. One failing sink must not starve the
// journal of records.
type MultiSink []Sink

func (m MultiSink) Write(rec *Record) error {
	var first error
	for _, s := range m {
		if err := s.Write(rec); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Writer appends compact one-line JSON records to a size-rotated file.
type Writer struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// Options configures a journal Writer.
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

// NewWriter opens (or creates) the journal at opts.Path.
func NewWriter(opts Options) *Writer {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 10
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 5
	}
	return &Writer{
		out: &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		},
	}
}

// Write appends one record as a single UTF-8 JSON line.
func (w *Writer) Write(rec *Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(line); err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Close()
}
