package localstore

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePassage() *LocalPassage {
	return &LocalPassage{
		ClientID:    "device-1-seq-1",
		PlateNumber: "DL01AB1234",
		VehicleType: domain.VehicleCar,
		CheckpostID: 1,
		SegmentID:   1,
		RecordedAt:  time.Now().UTC(),
		RangerID:    1,
	}
}

func TestRecordPassageCreatesPairedPendingEntry(t *testing.T) {
	s := newTestStore(t)

	id, err := s.RecordPassage(samplePassage())
	require.NoError(t, err)
	require.NotZero(t, id)

	entry, passage, err := s.NextPending()
	require.NoError(t, err)
	require.Equal(t, id, passage.ID)
	require.Equal(t, SyncInFlight, entry.State)
}

func TestNextPendingIsFIFOAndErrsWhenEmpty(t *testing.T) {
	s := newTestStore(t)

	first := samplePassage()
	first.ClientID = "first"
	_, err := s.RecordPassage(first)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	second := samplePassage()
	second.ClientID = "second"
	_, err = s.RecordPassage(second)
	require.NoError(t, err)

	_, passage1, err := s.NextPending()
	require.NoError(t, err)
	require.Equal(t, "first", passage1.ClientID)

	_, passage2, err := s.NextPending()
	require.NoError(t, err)
	require.Equal(t, "second", passage2.ClientID)

	_, _, err = s.NextPending()
	require.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestReviveCrashedInFlightRevertsToPending(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RecordPassage(samplePassage())
	require.NoError(t, err)

	entry, _, err := s.NextPending()
	require.NoError(t, err)
	require.Equal(t, SyncInFlight, entry.State)

	n, err := s.ReviveCrashedInFlight()
	require.NoError(t, err)
	require.Equal(t, 1, n)

	revived, _, err := s.NextPending()
	require.NoError(t, err)
	require.Equal(t, entry.ID, revived.ID)
}

func TestMarkRetryPromotesToFailedAtMaxAttempts(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RecordPassage(samplePassage())
	require.NoError(t, err)

	entry, _, err := s.NextPending()
	require.NoError(t, err)

	var failed bool
	for i := 0; i < maxSyncAttempts; i++ {
		failed, err = s.MarkRetry(entry.ID)
		require.NoError(t, err)
		if !failed {
			_, _, err = s.NextPending()
			require.NoError(t, err)
		}
	}
	require.True(t, failed)
}

func TestMarkSyncedAndMarkSMSSent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.RecordPassage(samplePassage())
	require.NoError(t, err)
	entry, _, err := s.NextPending()
	require.NoError(t, err)

	require.NoError(t, s.MarkSMSSent(entry.ID))
	require.NoError(t, s.MarkSynced(entry.ID))

	var state SyncState
	var smsSent bool
	require.NoError(t, s.db.Get(&state, `SELECT state FROM sync_queue_entry WHERE id = ?`, entry.ID))
	require.NoError(t, s.db.Get(&smsSent, `SELECT sms_sent FROM sync_queue_entry WHERE id = ?`, entry.ID))
	require.Equal(t, SyncSynced, state)
	require.True(t, smsSent)
}

func TestFallbackEligibleExcludesRecentPendingAndAlreadySent(t *testing.T) {
	s := newTestStore(t)

	old := samplePassage()
	old.ClientID = "old-pending"
	_, err := s.RecordPassage(old)
	require.NoError(t, err)

	recent := samplePassage()
	recent.ClientID = "recent-pending"
	_, err = s.RecordPassage(recent)
	require.NoError(t, err)

	alreadySent := samplePassage()
	alreadySent.ClientID = "already-sent"
	alreadySentID, err := s.RecordPassage(alreadySent)
	require.NoError(t, err)
	var entry3ID int64
	require.NoError(t, s.db.Get(&entry3ID, `SELECT id FROM sync_queue_entry WHERE local_passage_id = ?`, alreadySentID))
	require.NoError(t, s.MarkSMSSent(entry3ID))
	_, err = s.MarkRetry(entry3ID)
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(-time.Hour)
	_, err = s.db.Exec(`UPDATE sync_queue_entry SET created_at = ? WHERE local_passage_id IN
		(SELECT id FROM local_passage WHERE client_id IN (?, ?))`,
		cutoff.Add(-time.Minute), "old-pending", "already-sent")
	require.NoError(t, err)

	eligible, err := s.FallbackEligible(cutoff)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
}

func TestFindOppositeCandidateMatchesPlateAndSegmentNotCheckpost(t *testing.T) {
	s := newTestStore(t)

	recordedAt := time.Now().UTC()
	require.NoError(t, s.UpsertCachedRemotePassages([]CachedRemotePassage{
		{RemotePassageID: 100, PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar, CheckpostID: 2, SegmentID: 1, RecordedAt: recordedAt},
		{RemotePassageID: 101, PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar, CheckpostID: 1, SegmentID: 1, RecordedAt: recordedAt},
	}))

	candidate, err := s.FindOppositeCandidate("DL01AB1234", 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(100), candidate.RemotePassageID)
}
