package domain

import "time"

// Source distinguishes how a Passage reached the server; behavior is keyed
// off this single tagged field rather than modelled as separate types for
// app vs SMS passages (spec §9).
type Source string

const (
	SourceApp Source = "app"
	SourceSMS Source = "sms"
)

// Passage is a single recorded sighting of a vehicle at a checkpost.
// Substantive fields are never edited after creation; only MatchedPassageID
// and IsEntry are set once, at match time, by the matcher.
type Passage struct {
	ID               int64      `json:"id" db:"id"`
	ClientID         string     `json:"clientId" db:"client_id"`
	PlateNumber      string     `json:"plateNumber" db:"plate_number"`
	PlateNumberRaw   string     `json:"plateNumberRaw,omitempty" db:"plate_number_raw"`
	VehicleType      VehicleType `json:"vehicleType" db:"vehicle_type"`
	CheckpostID      int64      `json:"checkpostId" db:"checkpost_id"`
	SegmentID        int64      `json:"segmentId" db:"segment_id"`
	RecordedAt       time.Time  `json:"recordedAt" db:"recorded_at"`
	ServerReceivedAt time.Time  `json:"serverReceivedAt" db:"server_received_at"`
	RangerID         int64      `json:"rangerId" db:"ranger_id"`
	Source           Source     `json:"source" db:"source"`
	MatchedPassageID *int64     `json:"matchedPassageId,omitempty" db:"matched_passage_id"`
	IsEntry          *bool      `json:"isEntry,omitempty" db:"is_entry"`
	PhotoRef         string     `json:"photoRef,omitempty" db:"photo_ref"`
}

// Segment is a stretch of road between two checkposts with derived
// travel-time thresholds. MinTravelTimeMinutes/MaxTravelTimeMinutes are
// computed from DistanceKm/MaxSpeedKmh/MinSpeedKmh and snapshotted into
// Violations at creation time so later threshold edits never retroactively
// change a historical violation (spec invariant 7).
type Segment struct {
	ID          int64   `json:"id" db:"id"`
	Name        string  `json:"name" db:"name"`
	DistanceKm  float64 `json:"distanceKm" db:"distance_km"`
	MaxSpeedKmh float64 `json:"maxSpeedKmh" db:"max_speed_kmh"`
	MinSpeedKmh float64 `json:"minSpeedKmh" db:"min_speed_kmh"`
}

// MinTravelTimeMinutes is the fastest a vehicle may legally cross the
// segment: going faster than this is speeding.
func (s Segment) MinTravelTimeMinutes() float64 {
	return s.DistanceKm / s.MaxSpeedKmh * 60
}

// MaxTravelTimeMinutes is the slowest a vehicle should take to cross the
// segment: taking longer than this is an overstay.
func (s Segment) MaxTravelTimeMinutes() float64 {
	return s.DistanceKm / s.MinSpeedKmh * 60
}

// Checkpost is a physical recording station at one end of a Segment.
// PositionIndex is 0 or 1; each Segment has exactly two Checkposts, one
// per position (invariant enforced at the store layer via a unique index
// on (segment_id, position_index)).
type Checkpost struct {
	ID            int64  `json:"id" db:"id"`
	SegmentID     int64  `json:"segmentId" db:"segment_id"`
	Code          string `json:"code" db:"code"`
	Name          string `json:"name" db:"name"`
	PositionIndex int    `json:"positionIndex" db:"position_index"`
}
