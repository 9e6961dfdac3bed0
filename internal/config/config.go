// Package config provides configuration management for the edge runtime.
//
// The configuration file is owned by the site operator and is never written
// back by this process. Readers always see a complete, immutable Snapshot;
// reloads swap the snapshot atomically so a frame is never evaluated against
// a half-applied policy.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Snapshot is one immutable view of the full configuration. A Snapshot and
// everything reachable from it must be treated as read-only.
type Snapshot struct {
	Site      SiteInfo        `yaml:"site_info"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Policy    PolicyConfig    `yaml:"policy"`
	Capture   CaptureConfig   `yaml:"capture"`
	Server    ServerConfig    `yaml:"server"`
	Notify    NotifyConfig    `yaml:"notify"`
	Journal   JournalConfig   `yaml:"journal"`
}

// SiteInfo identifies the deployment and is stamped onto every record.
type SiteInfo struct {
	ClientID  string  `yaml:"client_id" json:"client_id"`
	SiteName  string  `yaml:"site_name" json:"site_name"`
	SiteID    string  `yaml:"site_id" json:"site_id"`
	Country   string  `yaml:"country" json:"country"`
	State     string  `yaml:"state" json:"state"`
	District  string  `yaml:"district" json:"district"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

// AnalyticsConfig holds the per-class thresholds, alert cadence and
// AI-insight sampling parameters.
type AnalyticsConfig struct {
	HeartbeatInterval float64 `yaml:"heartbeat_interval"`
	AlertCooldown     float64 `yaml:"alert_cooldown"`

	PersonThreshold      float64 `yaml:"person_detection_threshold"`
	FaceThreshold        float64 `yaml:"face_detection_threshold"`
	RecognitionThreshold float64 `yaml:"face_recognition_threshold"`
	ViolenceThreshold    float64 `yaml:"violence_threshold"`
	FireThreshold        float64 `yaml:"fire_threshold"`
	VehicleThreshold     float64 `yaml:"vehicle_threshold"`

	SnapshotsPerEvent int `yaml:"snapshots_per_event"`
	PreEventSeconds   int `yaml:"pre_event_seconds"`
	PostEventSeconds  int `yaml:"post_event_seconds"`

	EmergencyAlerts []string `yaml:"emergency_alert_policies"`
	CriticalAlerts  []string `yaml:"critical_alert_policies"`
	WarningAlerts   []string `yaml:"warning_alert_policies"`

	// AIInsightsEnabled is a pointer so an omitted key is distinguishable
	// from an explicit false; use InsightsEnabled to read it.
	AIInsightsEnabled   *bool `yaml:"ai_insights_enabled"`
	AIInsightsPerHour   int   `yaml:"ai_insights_per_hour"`
	AIInsightsDuration  int   `yaml:"ai_insights_duration"`
	AIInsightsSnapshots int   `yaml:"ai_insights_snapshots"`
}

// InsightsEnabled reports whether ambient insight sampling is on. Sampling
// defaults to enabled when the key is omitted; only an explicit false in
// the config file turns it off.
func (a AnalyticsConfig) InsightsEnabled() bool {
	return a.AIInsightsEnabled == nil || *a.AIInsightsEnabled
}

// AccessHours is a [open, close) wall-clock window in UTC.
type AccessHours struct {
	OpenHour  int `yaml:"open_hour"`
	OpenMin   int `yaml:"open_min"`
	CloseHour int `yaml:"close_hour"`
	CloseMin  int `yaml:"close_min"`
}

// ZonePolicy is the per-zone access policy bucket. The allowlist only
// applies to the boss-cabin zone.
type ZonePolicy struct {
	AccessHours `yaml:",inline"`
	Allowlist   []string `yaml:"allowlist,omitempty"`
}

// PolicyConfig holds the site access policies evaluated per frame.
type PolicyConfig struct {
	Office               ZonePolicy `yaml:"office"`
	BossCabin            ZonePolicy `yaml:"boss_cabin"`
	CrowdControlledZones []string   `yaml:"crowd_controlled_zones"`
}

// ZoneFor returns the policy bucket for a camera. Only the boss cabin has a
// dedicated bucket; everything else falls back to office hours.
func (p PolicyConfig) ZoneFor(cameraID string) ZonePolicy {
	if cameraID == "boss_cabin" {
		return p.BossCabin
	}
	return p.Office
}

// IsCrowdControlled reports whether the camera is in a crowd-controlled zone.
func (p PolicyConfig) IsCrowdControlled(cameraID string) bool {
	for _, z := range p.CrowdControlledZones {
		if z == cameraID {
			return true
		}
	}
	return false
}

// CameraCapture describes one camera's recorder parameters.
type CameraCapture struct {
	ID            string `yaml:"id"`
	BufferSeconds int    `yaml:"buffer_seconds"`
	FPS           int    `yaml:"fps"`
	Width         int    `yaml:"width"`
	Height        int    `yaml:"height"`
	DrawOnVideo   bool   `yaml:"draw_on_video"`
}

// CaptureConfig holds evidence capture settings.
type CaptureConfig struct {
	SaveDir string          `yaml:"save_dir"`
	Cameras []CameraCapture `yaml:"cameras"`
}

// CameraByID returns the capture settings for a camera, or defaults when the
// camera was never declared.
func (c CaptureConfig) CameraByID(id string) CameraCapture {
	for _, cam := range c.Cameras {
		if cam.ID == id {
			return cam
		}
	}
	return CameraCapture{ID: id, BufferSeconds: 3, FPS: 15, Width: 1280, Height: 720}
}

// ServerConfig holds the local API and event-bus listen settings.
type ServerConfig struct {
	APIAddr  string `yaml:"api_addr"`
	BusHost  string `yaml:"bus_host"`
	BusPort  int    `yaml:"bus_port"`
	DataPath string `yaml:"data_path"`
}

// NotifyConfig holds the optional MQTT alert bridge settings.
type NotifyConfig struct {
	MQTTEnabled bool   `yaml:"mqtt_enabled"`
	MQTTBroker  string `yaml:"mqtt_broker"`
	MQTTTopic   string `yaml:"mqtt_topic"`
	MQTTClient  string `yaml:"mqtt_client_id"`
	Username    string `yaml:"mqtt_username"`
	Password    string `yaml:"mqtt_password"`
}

// JournalConfig holds the NDJSON event journal settings.
type JournalConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load reads and validates a snapshot from a YAML file.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	snap.setDefaults()
	return &snap, nil
}

// setDefaults fills unset fields with the values the original deployment ran with.
func (s *Snapshot) setDefaults() {
	if s.Site.ClientID == "" {
		s.Site.ClientID = "INVINCIBLE_OCEAN"
	}
	if s.Site.SiteName == "" {
		s.Site.SiteName = "HEAD_OFFICE"
	}
	if s.Site.SiteID == "" {
		s.Site.SiteID = "ro001"
	}
	if s.Site.Country == "" {
		s.Site.Country = "india"
	}
	if s.Site.State == "" {
		s.Site.State = "west_bengal"
	}
	if s.Site.District == "" {
		s.Site.District = "kolkata"
	}

	a := &s.Analytics
	if a.HeartbeatInterval == 0 {
		a.HeartbeatInterval = 60
	}
	if a.AlertCooldown == 0 {
		a.AlertCooldown = 5
	}
	if a.PersonThreshold == 0 {
		a.PersonThreshold = 0.7
	}
	if a.FaceThreshold == 0 {
		a.FaceThreshold = 0.5
	}
	if a.RecognitionThreshold == 0 {
		a.RecognitionThreshold = 0.5
	}
	if a.ViolenceThreshold == 0 {
		a.ViolenceThreshold = 0.2
	}
	if a.FireThreshold == 0 {
		a.FireThreshold = 0.2
	}
	if a.VehicleThreshold == 0 {
		a.VehicleThreshold = 0.2
	}
	if a.SnapshotsPerEvent == 0 {
		a.SnapshotsPerEvent = 5
	}
	if a.PreEventSeconds == 0 {
		a.PreEventSeconds = 3
	}
	if a.PostEventSeconds == 0 {
		a.PostEventSeconds = 5
	}
	if a.EmergencyAlerts == nil {
		a.EmergencyAlerts = []string{"fire_detected_critical"}
	}
	if a.CriticalAlerts == nil {
		a.CriticalAlerts = []string{"fight_detected_critical", "crowd_policy_violation"}
	}
	if a.WarningAlerts == nil {
		a.WarningAlerts = []string{
			"restricted_access_before_hours",
			"restricted_access_after_hours",
			"restricted_access_sunday",
		}
	}
	if a.AIInsightsPerHour == 0 {
		a.AIInsightsPerHour = 10
	}
	if a.AIInsightsDuration == 0 {
		a.AIInsightsDuration = 30
	}
	if a.AIInsightsSnapshots == 0 {
		a.AIInsightsSnapshots = 10
	}

	if s.Policy.Office.CloseHour == 0 && s.Policy.Office.CloseMin == 0 {
		s.Policy.Office.CloseHour = 23
		s.Policy.Office.CloseMin = 59
	}
	if s.Policy.BossCabin.CloseHour == 0 && s.Policy.BossCabin.CloseMin == 0 {
		s.Policy.BossCabin.CloseHour = 23
		s.Policy.BossCabin.CloseMin = 59
	}

	if s.Capture.SaveDir == "" {
		s.Capture.SaveDir = "data/captures"
	}
	if s.Server.APIAddr == "" {
		s.Server.APIAddr = ":8090"
	}
	if s.Server.BusHost == "" {
		s.Server.BusHost = "127.0.0.1"
	}
	if s.Server.BusPort == 0 {
		s.Server.BusPort = 12301
	}
	if s.Server.DataPath == "" {
		s.Server.DataPath = "data"
	}
	if s.Journal.Path == "" {
		s.Journal.Path = "data/logs/detection_log.json"
	}
	if s.Journal.MaxSizeMB == 0 {
		s.Journal.MaxSizeMB = 10
	}
	if s.Journal.MaxBackups == 0 {
		s.Journal.MaxBackups = 5
	}
}

// Store hands out the current Snapshot and swaps it on reload. A failed
// reload keeps the last-known-good snapshot in place.
type Store struct {
	path    string
	current atomic.Pointer[Snapshot]
	logger  *slog.Logger

	reloadEvery time.Duration
	stop        chan struct{}
	stopped     atomic.Bool
}

// NewStore loads the initial snapshot from path.
func NewStore(path string) (*Store, error) {
	snap, err := Load(path)
	if err != nil {
		return nil, err
	}
	st := &Store{
		path:        path,
		logger:      slog.Default().With("component", "config"),
		reloadEvery: 5 * time.Second,
		stop:        make(chan struct{}),
	}
	st.current.Store(snap)
	return st, nil
}

// NewStaticStore wraps a fixed snapshot with defaults applied. It has no
// backing file, so Reload and Watch are no-ops; it serves embedders and
// tests that build their configuration programmatically.
func NewStaticStore(snap *Snapshot) *Store {
	snap.setDefaults()
	st := &Store{
		logger:      slog.Default().With("component", "config"),
		reloadEvery: 5 * time.Second,
		stop:        make(chan struct{}),
	}
	st.current.Store(snap)
	return st
}

// Current returns the active snapshot. Callers must not mutate it.
func (st *Store) Current() *Snapshot {
	return st.current.Load()
}

// Reload re-reads the file and swaps the snapshot. On error the previous
// snapshot stays active and the error is returned for logging.
func (st *Store) Reload() error {
	if st.path == "" {
		return nil
	}
	snap, err := Load(st.path)
	if err != nil {
		return err
	}
	st.current.Store(snap)
	return nil
}

// Watch starts the fsnotify watcher plus a periodic reload that bounds how
// stale the snapshot can get when the file is replaced without a write
// event (bind mounts, some editors). Errors are logged and never fatal.
func (st *Store) Watch() error {
	if st.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()
		ticker := time.NewTicker(st.reloadEvery)
		defer ticker.Stop()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond) // debounce partial writes
					st.reloadLogged()
				}
			case <-ticker.C:
				st.reloadLogged()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				st.logger.Error("Config watch error", "error", err)
			case <-st.stop:
				return
			}
		}
	}()

	return watcher.Add(st.path)
}

// Close stops the watcher goroutine.
func (st *Store) Close() {
	if st.stopped.CompareAndSwap(false, true) {
		close(st.stop)
	}
}

func (st *Store) reloadLogged() {
	if err := st.Reload(); err != nil {
		st.logger.Error("Config reload failed, keeping previous snapshot", "error", err)
	}
}
