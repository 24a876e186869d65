package domain

import (
	"fmt"
	"time"
)

// InsertOutcome is what the store reports back from InsertPassage: either
// a brand new row was created, or an existing row for the same client_id
// was found. Both are success-equivalent to the caller (spec §4.2).
type InsertOutcome int

const (
	Created InsertOutcome = iota
	Duplicate
)

// SanityCheck validates a Passage the way the ingest gateway must before
// it ever reaches the store: required fields present, vehicle type in the
// closed enum, and recorded_at not further in the future than
// clockSkewTolerance allows (spec invariant 5).
func SanityCheck(p *Passage, now time.Time, clockSkewTolerance time.Duration) error {
	if p.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrMalformed)
	}
	if p.PlateNumber == "" {
		return fmt.Errorf("%w: plate_number is required", ErrMalformed)
	}
	if !p.VehicleType.Valid() {
		return fmt.Errorf("%w: vehicle_type %q is not a recognized type", ErrMalformed, p.VehicleType)
	}
	if p.CheckpostID == 0 {
		return fmt.Errorf("%w: checkpost_id is required", ErrMalformed)
	}
	if p.SegmentID == 0 {
		return fmt.Errorf("%w: segment_id is required", ErrMalformed)
	}
	if p.RangerID == 0 {
		return fmt.Errorf("%w: ranger_id is required", ErrMalformed)
	}
	if p.RecordedAt.IsZero() {
		return fmt.Errorf("%w: recorded_at is required", ErrMalformed)
	}
	if p.RecordedAt.After(now.Add(clockSkewTolerance)) {
		return fmt.Errorf("%w: recorded_at %s is after now+skew %s", ErrFutureTimestamp, p.RecordedAt, now.Add(clockSkewTolerance))
	}
	if p.Source != SourceApp && p.Source != SourceSMS {
		return fmt.Errorf("%w: source %q is not recognized", ErrMalformed, p.Source)
	}
	return nil
}
