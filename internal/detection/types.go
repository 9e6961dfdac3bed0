// Package detection defines the detection data model shared between the
// inference adapters and the analytics runtime.
package detection

import (
	"strings"
	"time"
)

// Class buckets detections by the policy rules that apply to them.
type Class string

const (
	ClassPerson   Class = "person"
	ClassFire     Class = "fire"
	ClassViolence Class = "violence"
	ClassVehicle  Class = "vehicle"
	ClassOther    Class = "other"
)

// BoundingBox locates a detection within its frame, in pixels.
type BoundingBox struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Recognition carries an optional face-recognition result attached to a
// person or face detection. Identity is "stranger" for faces that matched
// no enrolled embedding.
type Recognition struct {
	Identity   string  `json:"identity"`
	Confidence float64 `json:"confidence"`
	IdentityID int     `json:"identity_id"`
}

// Detection is one labeled box produced by the inference adapter for a
// single frame. It is ephemeral and owned by the frame it was computed on.
type Detection struct {
	Label        string       `json:"label"`
	Confidence   float64      `json:"confidence"`
	BBox         BoundingBox  `json:"bbox"`
	ClassID      int          `json:"class_id"`
	Recognition  *Recognition `json:"recognition,omitempty"`
	DisplayLabel string       `json:"display_label,omitempty"`
}

// Frame is a raw video frame handed to the runtime alongside its detections.
// Data holds packed BGR24 pixels (Width*Height*3 bytes), the layout the
// video writer and snapshot encoder consume.
type Frame struct {
	CameraID  string
	FrameID   int64
	Timestamp time.Time
	Width     int
	Height    int
	Data      []byte
}

// vehicleLabels mirrors the COCO vehicle classes the policy counts.
var vehicleLabels = map[string]bool{
	"bicycle":    true,
	"car":        true,
	"motorcycle": true,
	"bus":        true,
	"train":      true,
	"truck":      true,
	"boat":       true,
}

// ClassOf maps a raw detector label to its policy class.
func ClassOf(label string) Class {
	switch strings.ToLower(label) {
	case "person", "face":
		return ClassPerson
	case "fire", "smoke":
		return ClassFire
	case "violence":
		return ClassViolence
	default:
		if vehicleLabels[strings.ToLower(label)] {
			return ClassVehicle
		}
		return ClassOther
	}
}

// IsVehicleLabel reports whether the label is one of the counted vehicle classes.
func IsVehicleLabel(label string) bool {
	return vehicleLabels[strings.ToLower(label)]
}

// Thresholds holds the per-class confidence floors applied before any
// policy evaluation. Values come from the config snapshot and reload live.
type Thresholds struct {
	Person   float64
	Fire     float64
	Violence float64
	Vehicle  float64
	Default  float64
}

// Buckets is the outcome of threshold filtering for one frame.
type Buckets struct {
	People   []Detection
	Fire     []Detection
	Violence []Detection
	Vehicles []Detection
	Other    []Detection
}

// Valid returns every detection that passed its class threshold, people
// first, in the order the payload builder logs them.
func (b Buckets) Valid() []Detection {
	out := make([]Detection, 0, len(b.People)+len(b.Fire)+len(b.Violence)+len(b.Vehicles)+len(b.Other))
	out = append(out, b.People...)
	out = append(out, b.Fire...)
	out = append(out, b.Violence...)
	out = append(out, b.Vehicles...)
	out = append(out, b.Other...)
	return out
}

// Filter buckets detections by class, keeping only those at or above the
// class threshold. Detections with unrecognised labels land in Other when
// they clear the default threshold, so metrics stay informative without
// influencing policy.
func Filter(dets []Detection, th Thresholds) Buckets {
	var b Buckets
	for _, d := range dets {
		switch ClassOf(d.Label) {
		case ClassPerson:
			if d.Confidence >= th.Person {
				b.People = append(b.People, d)
			}
		case ClassFire:
			if d.Confidence >= th.Fire {
				b.Fire = append(b.Fire, d)
			}
		case ClassViolence:
			if d.Confidence >= th.Violence {
				b.Violence = append(b.Violence, d)
			}
		case ClassVehicle:
			if d.Confidence >= th.Vehicle {
				b.Vehicles = append(b.Vehicles, d)
			}
		default:
			if d.Confidence >= th.Default {
				b.Other = append(b.Other, d)
			}
		}
	}
	return b
}

// WithDisplayLabels fills DisplayLabel from the recognition identity where
// one is present, leaving unrecognised objects untouched.
func WithDisplayLabels(dets []Detection) []Detection {
	out := make([]Detection, len(dets))
	copy(out, dets)
	for i := range out {
		if out[i].DisplayLabel == "" && out[i].Recognition != nil {
			out[i].DisplayLabel = out[i].Recognition.Identity
		}
	}
	return out
}
