package store

import (
	"fmt"
	"time"

	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/internal/metrics"
	"github.com/highwaypatrol/passage-core/pkg/log"
)

// overdueUnmatchedEntry is the join row the scanner needs: an unmatched
// passage plus the segment's own travel-time bound. The query selects every
// unmatched passage; the overdue check runs in Go, not in SQL.
type overdueUnmatchedEntry struct {
	PassageID    int64     `db:"id"`
	SegmentID    int64     `db:"segment_id"`
	PlateNumber  string    `db:"plate_number"`
	VehicleType  string    `db:"vehicle_type"`
	RecordedAt   time.Time `db:"recorded_at"`
	MaxSpeedKmh  float64   `db:"max_speed_kmh"`
	MinSpeedKmh  float64   `db:"min_speed_kmh"`
	DistanceKm   float64   `db:"distance_km"`
}

// ScanOverdueUnmatchedEntries is the overstay scanner's one read+write
// pass (spec §4.4): it finds every still-unmatched passage whose segment's
// maximum travel time has already elapsed as of now, and raises an
// OverstayAlert for each one that doesn't already have one. It returns the
// number of new alerts it created.
func (s *Store) ScanOverdueUnmatchedEntries(now time.Time) (int, error) {
	var rows []overdueUnmatchedEntry
	err := s.db.Select(&rows, `
		SELECT p.id, p.segment_id, p.plate_number, p.vehicle_type, p.recorded_at,
		       seg.max_speed_kmh, seg.min_speed_kmh, seg.distance_km
		FROM passage p
		JOIN segment seg ON seg.id = p.segment_id
		WHERE p.matched_passage_id IS NULL
		ORDER BY p.recorded_at ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("store: scanning unmatched entries: %w", err)
	}

	created := 0
	for _, r := range rows {
		seg := domain.Segment{DistanceKm: r.DistanceKm, MaxSpeedKmh: r.MaxSpeedKmh, MinSpeedKmh: r.MinSpeedKmh}
		expectedExitBy := r.RecordedAt.Add(time.Duration(seg.MaxTravelTimeMinutes() * float64(time.Minute)))
		if now.Before(expectedExitBy) {
			continue
		}

		alert := &domain.OverstayAlert{
			EntryPassageID: r.PassageID,
			SegmentID:      r.SegmentID,
			PlateNumber:    r.PlateNumber,
			VehicleType:    domain.VehicleType(r.VehicleType),
			EntryTime:      r.RecordedAt,
			ExpectedExitBy: expectedExitBy,
		}
		_, wasCreated, err := s.InsertOverstayAlert(alert)
		if err != nil {
			return created, fmt.Errorf("store: creating overstay alert for entry %d: %w", r.PassageID, err)
		}
		if wasCreated {
			created++
			metrics.OverstayAlertsCreated.Inc()
			log.Auditf("overstay_alert plate=%s segment=%d entry=%d expected_exit_by=%s",
				r.PlateNumber, r.SegmentID, r.PassageID, expectedExitBy.Format(time.RFC3339))
		}
	}

	if created > 0 {
		log.Infof("store: overstay scan created %d new alert(s)", created)
	}
	return created, nil
}
