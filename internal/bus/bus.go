// Package bus provides the embedded NATS event bus local adapters attach
// to: detection processes publish frame packets, and every emitted journal
// record is fanned out for the API and the MQTT bridge.
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/invincible-ocean/roboi-edge/internal/journal"
)

// Subject layout. Frame packets arrive per camera; records fan out per
// camera so subscribers can filter with a wildcard.
const (
	SubjectFrames  = "roboi.frames.*"
	SubjectRecords = "roboi.events.*"
)

// FrameSubject returns the publish subject for one camera's frames.
func FrameSubject(cameraID string) string {
	return "roboi.frames." + cameraID
}

// RecordSubject returns the fanout subject for one camera's records.
func RecordSubject(cameraID string) string {
	return "roboi.events." + cameraID
}

// Bus wraps an embedded NATS server plus a local connection.
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subsMu sync.Mutex
	subs   []*nats.Subscription
}

// Options configures the embedded server.
type Options struct {
	Host string
	Port int
}

// New starts the embedded server and connects to it.
func New(opts Options) (*Bus, error) {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Port == 0 {
		opts.Port = 12301
	}

	logger := slog.Default().With("component", "bus")

	ns, err := server.NewServer(&server.Options{
		Host:   opts.Host,
		Port:   opts.Port,
		NoSigs: true,
		NoLog:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", opts.Port)
	}

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded NATS: %w", err)
	}

	logger.Info("Event bus started", "url", ns.ClientURL())
	return &Bus{server: ns, conn: nc, logger: logger}, nil
}

// ClientURL returns the URL external adapters connect to.
func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Publish marshals data as JSON onto subject.
func (b *Bus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe registers a raw message handler.
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) error {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return err
	}
	b.subsMu.Lock()
	b.subs = append(b.subs, sub)
	b.subsMu.Unlock()
	return nil
}

// Stop drains the connection and shuts the server down.
func (b *Bus) Stop() {
	_ = b.conn.Drain()
	b.server.Shutdown()
	b.logger.Info("Event bus stopped")
}

// RecordSink publishes every journal record on its camera's fanout
// subject. It implements journal.Sink.
type RecordSink struct {
	bus *Bus
}

// NewRecordSink creates a sink over the bus.
func NewRecordSink(b *Bus) *RecordSink {
	return &RecordSink{bus: b}
}

// Write publishes the record. Fanout is best-effort: a full buffer drops
// the message for slow subscribers rather than blocking the frame loop.
func (s *RecordSink) Write(rec *journal.Record) error {
	return s.bus.Publish(RecordSubject(rec.Meta.CameraID), rec)
}
