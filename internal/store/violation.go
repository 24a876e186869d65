package store

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/highwaypatrol/passage-core/internal/domain"
)

var violationColumns = []string{
	"id", "entry_passage_id", "exit_passage_id", "segment_id", "kind", "plate_number",
	"vehicle_type", "entry_time", "exit_time", "travel_time_minutes", "threshold_minutes",
	"calculated_speed_kmh", "speed_limit_kmh", "distance_km", "created_at",
}

func scanViolation(row interface{ Scan(...interface{}) error }) (*domain.Violation, error) {
	v := &domain.Violation{}
	if err := row.Scan(
		&v.ID, &v.EntryPassageID, &v.ExitPassageID, &v.SegmentID, &v.Kind, &v.PlateNumber,
		&v.VehicleType, &v.EntryTime, &v.ExitTime, &v.TravelTimeMinutes, &v.ThresholdMinutes,
		&v.CalculatedSpeedKmh, &v.SpeedLimitKmh, &v.DistanceKm, &v.CreatedAt,
	); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) GetViolation(id int64) (*domain.Violation, error) {
	row := sq.Select(violationColumns...).From("violation").Where(sq.Eq{"id": id}).RunWith(s.db).QueryRow()
	v, err := scanViolation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("violation %d: %w", id, domain.ErrNotFound)
	}
	return v, err
}

// ListViolationsBySegment returns violations for a segment, newest first,
// for reporting (spec §4.4).
func (s *Store) ListViolationsBySegment(segmentID int64, limit int) ([]*domain.Violation, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := sq.Select(violationColumns...).From("violation").
		Where(sq.Eq{"segment_id": segmentID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

var overstayAlertColumns = []string{
	"id", "entry_passage_id", "segment_id", "plate_number", "vehicle_type",
	"entry_time", "expected_exit_by", "resolved", "resolved_at", "resolved_by_passage_id",
}

func scanOverstayAlert(row interface{ Scan(...interface{}) error }) (*domain.OverstayAlert, error) {
	a := &domain.OverstayAlert{}
	var resolvedAt sql.NullTime
	var resolvedByPassageID sql.NullInt64

	if err := row.Scan(
		&a.ID, &a.EntryPassageID, &a.SegmentID, &a.PlateNumber, &a.VehicleType,
		&a.EntryTime, &a.ExpectedExitBy, &a.Resolved, &resolvedAt, &resolvedByPassageID,
	); err != nil {
		return nil, err
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	if resolvedByPassageID.Valid {
		v := resolvedByPassageID.Int64
		a.ResolvedByPassageID = &v
	}
	return a, nil
}

// InsertOverstayAlert records a proactive alert for an entry the scanner
// found still unmatched past the segment's max travel time (spec §4.4).
// A second alert for the same entry is treated as success-equivalent: the
// unique constraint on entry_passage_id means only one can ever exist, and
// a race with a concurrent scanner run (or with the matcher resolving it
// first) is not an error. created reports whether this call is the one
// that actually inserted the row, so callers can distinguish a fresh alert
// from a no-op repeat.
func (s *Store) InsertOverstayAlert(a *domain.OverstayAlert) (id int64, created bool, err error) {
	res, err := s.db.Exec(
		`INSERT INTO overstay_alert (entry_passage_id, segment_id, plate_number, vehicle_type, entry_time, expected_exit_by, resolved)
		 VALUES (?, ?, ?, ?, ?, ?, 0)`,
		a.EntryPassageID, a.SegmentID, a.PlateNumber, a.VehicleType, a.EntryTime, a.ExpectedExitBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			existing, ferr := s.GetOverstayAlertByEntry(a.EntryPassageID)
			if ferr != nil {
				return 0, false, ferr
			}
			return existing.ID, false, nil
		}
		return 0, false, fmt.Errorf("store: inserting overstay alert for entry %d: %w", a.EntryPassageID, err)
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return newID, true, nil
}

func (s *Store) GetOverstayAlertByEntry(entryPassageID int64) (*domain.OverstayAlert, error) {
	row := sq.Select(overstayAlertColumns...).From("overstay_alert").
		Where(sq.Eq{"entry_passage_id": entryPassageID}).RunWith(s.db).QueryRow()
	a, err := scanOverstayAlert(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("overstay alert for entry %d: %w", entryPassageID, domain.ErrNotFound)
	}
	return a, err
}

// ListUnresolvedOverstayAlerts is used by reporting views (spec §4.4).
func (s *Store) ListUnresolvedOverstayAlerts(segmentID int64, limit int) ([]*domain.OverstayAlert, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	rows, err := sq.Select(overstayAlertColumns...).From("overstay_alert").
		Where(sq.Eq{"segment_id": segmentID}).
		Where(sq.Eq{"resolved": false}).
		OrderBy("entry_time ASC").
		Limit(uint64(limit)).
		RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.OverstayAlert
	for rows.Next() {
		a, err := scanOverstayAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
