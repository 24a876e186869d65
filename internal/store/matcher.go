package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/internal/metrics"
	"github.com/highwaypatrol/passage-core/pkg/log"
	"github.com/jmoiron/sqlx"
)

// matchNewPassage is the matcher of spec §4.3. It runs inside the same
// transaction as the passage insert that triggered it: any error here
// aborts that transaction and the passage is not persisted (spec §4.3
// failure semantics), so the whole operation is effectively all-or-nothing
// from the caller's point of view.
func matchNewPassage(tx *sqlx.Tx, driver string, n *domain.Passage) error {
	candidate, err := claimCandidate(tx, driver, n)
	if err != nil {
		if err == sql.ErrNoRows {
			// No unmatched passage for this plate on the opposite
			// checkpost (or it was claimed by a concurrent matcher
			// first, which looks identical from here): n stays
			// unmatched, nothing more to do.
			return nil
		}
		return err
	}

	entry, exit := assignRoles(n, candidate)
	metrics.MatchesCreated.Inc()

	if _, err := tx.Exec(
		`UPDATE passage SET matched_passage_id = ?, is_entry = 1 WHERE id = ?`,
		exit.ID, entry.ID,
	); err != nil {
		return fmt.Errorf("linking entry %d: %w", entry.ID, err)
	}
	if _, err := tx.Exec(
		`UPDATE passage SET matched_passage_id = ?, is_entry = 0 WHERE id = ?`,
		entry.ID, exit.ID,
	); err != nil {
		return fmt.Errorf("linking exit %d: %w", exit.ID, err)
	}

	var seg domain.Segment
	if err := tx.QueryRowx(
		`SELECT id, name, distance_km, max_speed_kmh, min_speed_kmh FROM segment WHERE id = ?`,
		entry.SegmentID,
	).Scan(&seg.ID, &seg.Name, &seg.DistanceKm, &seg.MaxSpeedKmh, &seg.MinSpeedKmh); err != nil {
		return fmt.Errorf("loading segment %d: %w", entry.SegmentID, err)
	}

	travelMinutes := exit.RecordedAt.Sub(entry.RecordedAt).Minutes()
	minTravel := seg.MinTravelTimeMinutes()
	maxTravel := seg.MaxTravelTimeMinutes()

	var kind domain.ViolationKind
	var threshold float64
	switch {
	case travelMinutes < minTravel:
		kind, threshold = domain.ViolationSpeeding, minTravel
	case travelMinutes > maxTravel:
		kind, threshold = domain.ViolationOverstay, maxTravel
	default:
		// Within bounds: no violation, but any proactive overstay alert
		// for this entry (there shouldn't be one yet, since the exit
		// just arrived before the scanner would have fired) is still
		// resolved below for consistency.
	}

	now := time.Now().UTC()

	if kind != "" {
		speedKmh := seg.DistanceKm / (travelMinutes / 60)
		if _, err := tx.Exec(
			`INSERT INTO violation (entry_passage_id, exit_passage_id, segment_id, kind, plate_number,
				vehicle_type, entry_time, exit_time, travel_time_minutes, threshold_minutes,
				calculated_speed_kmh, speed_limit_kmh, distance_km, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, exit.ID, seg.ID, kind, entry.PlateNumber, entry.VehicleType,
			entry.RecordedAt, exit.RecordedAt, travelMinutes, threshold,
			speedKmh, seg.MaxSpeedKmh, seg.DistanceKm, now,
		); err != nil {
			if isUniqueViolation(err) {
				// Defense-in-depth backstop (spec §4.3): a concurrent
				// matcher already recorded a violation for this entry.
				log.Warnf("store: violation for entry %d already recorded by a concurrent matcher", entry.ID)
			} else {
				return fmt.Errorf("recording violation for entry %d: %w", entry.ID, err)
			}
		} else {
			metrics.ViolationsCreated.WithLabelValues(string(kind)).Inc()
			log.Auditf("violation kind=%s plate=%s segment=%d entry=%d exit=%d travel_minutes=%.1f",
				kind, entry.PlateNumber, seg.ID, entry.ID, exit.ID, travelMinutes)
		}
	}

	res, err := tx.Exec(
		`UPDATE overstay_alert SET resolved = 1, resolved_at = ?, resolved_by_passage_id = ?
		 WHERE entry_passage_id = ? AND resolved = 0`,
		now, exit.ID, entry.ID,
	)
	if err != nil {
		return fmt.Errorf("resolving overstay alert for entry %d: %w", entry.ID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		metrics.OverstayAlertsResolved.Inc()
	}

	return nil
}

// assignRoles determines entry/exit by timestamp, breaking ties on id
// lexicographic order so the outcome never depends on insertion order
// (spec §4.3 step 3, §9 open question resolution).
func assignRoles(n, c *domain.Passage) (entry, exit *domain.Passage) {
	if n.RecordedAt.Equal(c.RecordedAt) {
		if fmt.Sprint(n.ID) < fmt.Sprint(c.ID) {
			return n, c
		}
		return c, n
	}
	if n.RecordedAt.After(c.RecordedAt) {
		return c, n
	}
	return n, c
}

// claimCandidate finds the best unmatched opposite-checkpost passage for
// the same plate/segment and atomically claims it so no other concurrent
// matcher can also pair it. mysql expresses this with SELECT ... FOR
// UPDATE SKIP LOCKED; sqlite has no such clause, but since the sqlite
// connection pool here is capped at one connection (see dbConnection.go)
// every transaction is already fully serialized, so a plain SELECT ... FOR
// UPDATE-equivalent (a bare SELECT inside the transaction) is race-free by
// construction — the "claim" is implicit. See spec §9: "the equivalent is
// to use a short advisory lock ... or an upsert-style claim write."
func claimCandidate(tx *sqlx.Tx, driver string, n *domain.Passage) (*domain.Passage, error) {
	query := `SELECT ` + joinColumns(passageColumns) + `
		FROM passage
		WHERE plate_number = ? AND segment_id = ? AND checkpost_id != ? AND matched_passage_id IS NULL AND id != ?
		ORDER BY recorded_at DESC
		LIMIT 1`

	if driver == "mysql" {
		query += " FOR UPDATE SKIP LOCKED"
	}

	row := tx.QueryRowx(query, n.PlateNumber, n.SegmentID, n.CheckpostID, n.ID)
	return scanPassage(row)
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
