package domain

import "time"

// ViolationKind is the closed set of rule breaches a matched pair can
// produce. A pair that falls between the two thresholds produces no
// Violation at all.
type ViolationKind string

const (
	ViolationSpeeding ViolationKind = "speeding"
	ViolationOverstay ViolationKind = "overstay"
)

// Violation is an immutable record of a detected rule breach. The
// threshold/speed-limit/distance fields are snapshots of the Segment at
// the moment the violation was created (spec invariant 7) and never
// change even if the Segment's own configuration is edited later.
type Violation struct {
	ID                  int64         `json:"id" db:"id"`
	EntryPassageID      int64         `json:"entryPassageId" db:"entry_passage_id"`
	ExitPassageID       int64         `json:"exitPassageId" db:"exit_passage_id"`
	SegmentID           int64         `json:"segmentId" db:"segment_id"`
	Kind                ViolationKind `json:"kind" db:"kind"`
	PlateNumber         string        `json:"plateNumber" db:"plate_number"`
	VehicleType         VehicleType   `json:"vehicleType" db:"vehicle_type"`
	EntryTime           time.Time     `json:"entryTime" db:"entry_time"`
	ExitTime            time.Time     `json:"exitTime" db:"exit_time"`
	TravelTimeMinutes   float64       `json:"travelTimeMinutes" db:"travel_time_minutes"`
	ThresholdMinutes    float64       `json:"thresholdMinutes" db:"threshold_minutes"`
	CalculatedSpeedKmh  float64       `json:"calculatedSpeedKmh" db:"calculated_speed_kmh"`
	SpeedLimitKmh       float64       `json:"speedLimitKmh" db:"speed_limit_kmh"`
	DistanceKm          float64       `json:"distanceKm" db:"distance_km"`
	CreatedAt           time.Time     `json:"createdAt" db:"created_at"`
}

// OverstayAlert is a proactive notification that an unmatched entry has
// exceeded the segment's max travel time. At most one unresolved alert may
// exist per entry passage (spec invariant 6); resolution happens either
// when the matching exit eventually arrives or by explicit admin action.
type OverstayAlert struct {
	ID                   int64      `json:"id" db:"id"`
	EntryPassageID       int64      `json:"entryPassageId" db:"entry_passage_id"`
	SegmentID            int64      `json:"segmentId" db:"segment_id"`
	PlateNumber          string     `json:"plateNumber" db:"plate_number"`
	VehicleType          VehicleType `json:"vehicleType" db:"vehicle_type"`
	EntryTime            time.Time  `json:"entryTime" db:"entry_time"`
	ExpectedExitBy       time.Time  `json:"expectedExitBy" db:"expected_exit_by"`
	Resolved             bool       `json:"resolved" db:"resolved"`
	ResolvedAt           *time.Time `json:"resolvedAt,omitempty" db:"resolved_at"`
	ResolvedByPassageID  *int64     `json:"resolvedByPassageId,omitempty" db:"resolved_by_passage_id"`
}
