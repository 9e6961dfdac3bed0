// Package policy evaluates site access policies against the detections of a
// single frame. Evaluation is pure: the only input besides the arguments is
// the config snapshot passed in, and nothing is mutated.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/invincible-ocean/roboi-edge/internal/config"
	"github.com/invincible-ocean/roboi-edge/internal/detection"
)

// Trigger names emitted by the engine. Per-identity triggers are generated
// dynamically as unauthorized_person_<identity>.
const (
	TriggerBeforeHours    = "restricted_access_before_hours"
	TriggerAfterHours     = "restricted_access_after_hours"
	TriggerSunday         = "restricted_access_sunday"
	TriggerCrowd          = "crowd_policy_violation"
	TriggerVehicleCrowd   = "vehicle_crowd_policy_violation"
	TriggerFire           = "fire_detected_critical"
	TriggerFight          = "fight_detected_critical"
	TriggerStranger       = "unauthorized_stranger"
	TriggerInsightCapture = "ai_insight"
)

// Status is the resolved severity of a frame's trigger set.
type Status string

const (
	StatusSafe      Status = "safe"
	StatusWarning   Status = "warning"
	StatusCritical  Status = "critical"
	StatusEmergency Status = "emergency"
)

// Crowd limits are engine-wide constants; zone membership is config-driven.
const (
	maxPeoplePerZone   = 5
	maxVehiclesPerZone = 12
)

// Input is everything Evaluate needs for one frame.
type Input struct {
	CameraID string
	// Buckets are the threshold-filtered detections for the frame.
	Buckets detection.Buckets
	// Raw is the unfiltered detection list; identity refinement scans it so
	// a low-confidence face with a confident recognition still counts.
	Raw []detection.Detection
	Now time.Time
}

// Evaluate returns the ordered trigger list for a frame. Hazard triggers
// (fight, fire) sort first; time and count violations follow; boss-cabin
// identity refinement may replace the time-based set entirely.
func Evaluate(cfg *config.Snapshot, in Input) []string {
	numPeople := len(in.Buckets.People)
	numVehicles := len(in.Buckets.Vehicles)

	var triggers []string
	if numPeople > 0 {
		triggers = timeViolations(cfg.Policy.ZoneFor(in.CameraID), in.Now)
		triggers = append(triggers, countViolations(cfg.Policy, in.CameraID, numPeople, numVehicles)...)
	}

	if in.CameraID == "boss_cabin" && len(triggers) > 0 {
		triggers = refineForIdentity(cfg.Policy.BossCabin.Allowlist, in.Raw, triggers)
	}

	if len(in.Buckets.Fire) > 0 {
		triggers = append([]string{TriggerFire}, triggers...)
	}
	if len(in.Buckets.Violence) > 0 {
		triggers = append([]string{TriggerFight}, triggers...)
	}

	return triggers
}

// timeViolations checks the zone's UTC access window. Sunday is restricted
// site-wide regardless of the window.
func timeViolations(zone config.ZonePolicy, now time.Time) []string {
	var alerts []string

	if now.Weekday() == time.Sunday {
		alerts = append(alerts, TriggerSunday)
	}

	hour, minute := now.Hour(), now.Minute()
	switch {
	case hour < zone.OpenHour || (hour == zone.OpenHour && minute < zone.OpenMin):
		alerts = append(alerts, TriggerBeforeHours)
	case hour > zone.CloseHour || (hour == zone.CloseHour && minute >= zone.CloseMin):
		alerts = append(alerts, TriggerAfterHours)
	}

	return alerts
}

func countViolations(p config.PolicyConfig, cameraID string, numPeople, numVehicles int) []string {
	if !p.IsCrowdControlled(cameraID) {
		return nil
	}
	var alerts []string
	if numPeople > maxPeoplePerZone {
		alerts = append(alerts, TriggerCrowd)
	}
	if numVehicles > maxVehiclesPerZone {
		alerts = append(alerts, TriggerVehicleCrowd)
	}
	return alerts
}

// refineForIdentity applies the boss-cabin allowlist. An authorized identity
// suppresses every pending trigger for the frame. Recognized-but-unlisted
// identities replace the set with per-identity tags. When no face was
// recognized at all the pending triggers are kept as-is.
func refineForIdentity(allowlist []string, raw []detection.Detection, pending []string) []string {
	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[strings.ToLower(name)] = true
	}

	var unauthorized []string
	for _, d := range raw {
		label := strings.ToLower(d.Label)
		if (label != "face" && label != "person") || d.Recognition == nil {
			continue
		}
		identity := strings.ToLower(d.Recognition.Identity)
		if allowed[identity] {
			return nil
		}
		unauthorized = append(unauthorized, identity)
	}

	if len(unauthorized) == 0 {
		return pending
	}

	var tags []string
	seen := make(map[string]bool)
	for _, identity := range unauthorized {
		tag := TriggerStranger
		if identity != "stranger" {
			tag = fmt.Sprintf("unauthorized_person_%s", identity)
		}
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// Severity resolves a trigger set against the configured priority tiers.
// Unmapped triggers resolve to critical so an unconfigured alert can never
// be dropped as safe.
func Severity(cfg *config.Snapshot, triggers []string) Status {
	if len(triggers) == 0 {
		return StatusSafe
	}
	if anyIn(triggers, cfg.Analytics.EmergencyAlerts) {
		return StatusEmergency
	}
	if anyIn(triggers, cfg.Analytics.CriticalAlerts) {
		return StatusCritical
	}
	if anyIn(triggers, cfg.Analytics.WarningAlerts) {
		return StatusWarning
	}
	return StatusCritical
}

func anyIn(triggers, tier []string) bool {
	for _, t := range triggers {
		for _, name := range tier {
			if t == name {
				return true
			}
		}
	}
	return false
}
