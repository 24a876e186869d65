package syncengine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/highwaypatrol/passage-core/client/localstore"
	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/stretchr/testify/require"
)

type recordingSMSSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSMSSender) Send(gatewayNumber, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, body)
	return nil
}

type fixedConnectivity struct{ online bool }

func (f fixedConnectivity) Online() bool { return f.online }

type fixedSegmentLookup struct{ seg domain.Segment }

func (f fixedSegmentLookup) Segment(segmentID int64) (domain.Segment, error) { return f.seg, nil }

// testSegment is 60km with a 20-80 km/h legal range: 45 minutes minimum,
// 180 minutes maximum crossing time.
func testSegment() domain.Segment {
	return domain.Segment{ID: 1, Name: "NH-7 Blackspot", DistanceKm: 60, MaxSpeedKmh: 80, MinSpeedKmh: 20}
}

func testConfig() Config {
	return Config{
		CheckpostCode:      "CP-A",
		CheckpostID:        1,
		SegmentID:          1,
		RangerPhoneSuffix:  "0001",
		SMSGatewayNumber:   "+910000099999",
		SyncInterval:       time.Hour,
		SMSFallbackAge:     5 * time.Minute,
		PullLookbackBuffer: time.Hour,
		PullLimit:          100,
	}
}

func newTestEngine(t *testing.T, baseURL string, sms SMSSender, connectivity ConnectivityChecker) (*Engine, *localstore.Store) {
	t.Helper()
	local, err := localstore.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	e, err := New(testConfig(), local, fixedSegmentLookup{seg: testSegment()}, baseURL, "test-token", sms, connectivity)
	require.NoError(t, err)
	return e, local
}

func samplePassage() *localstore.LocalPassage {
	return &localstore.LocalPassage{
		ClientID:    "device-1-seq-1",
		PlateNumber: "DL01AB1234",
		VehicleType: domain.VehicleCar,
		CheckpostID: 1,
		SegmentID:   1,
		RecordedAt:  time.Now().UTC(),
		RangerID:    1,
	}
}

func TestRunPushCycleMarksSyncedOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(pushResponse{ID: 1, Outcome: "created"})
	}))
	defer srv.Close()

	e, local := newTestEngine(t, srv.URL, &recordingSMSSender{}, fixedConnectivity{online: true})

	_, err := local.RecordPassage(samplePassage())
	require.NoError(t, err)

	e.runPushCycle()

	_, _, err = local.NextPending()
	require.Error(t, err)
}

func TestProcessEntryFallsBackToSMSWhenOfflineAndFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sms := &recordingSMSSender{}
	e, local := newTestEngine(t, srv.URL, sms, fixedConnectivity{online: false})

	p := samplePassage()
	_, err := local.RecordPassage(p)
	require.NoError(t, err)

	entry, passage, err := local.NextPending()
	require.NoError(t, err)

	// Already past maxSyncAttempts worth of retries puts this entry into
	// the "failed" state; backdating it past SMSFallbackAge makes it old
	// enough for the fallback.
	for i := 0; i < 5; i++ {
		_, err := local.MarkRetry(entry.ID)
		require.NoError(t, err)
	}
	entry.State = localstore.SyncFailed
	entry.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)

	e.processEntry(entry, passage)

	require.Len(t, sms.sent, 1)
}

func TestMaybeFallbackSkipsWhenOnline(t *testing.T) {
	sms := &recordingSMSSender{}
	e, local := newTestEngine(t, "http://unused.invalid", sms, fixedConnectivity{online: true})

	p := samplePassage()
	_, err := local.RecordPassage(p)
	require.NoError(t, err)
	entry, passage, err := local.NextPending()
	require.NoError(t, err)
	entry.State = localstore.SyncFailed

	e.maybeFallback(entry, passage)

	require.Empty(t, sms.sent)
}

func TestMaybeFallbackSkipsYoungPendingEntries(t *testing.T) {
	sms := &recordingSMSSender{}
	e, local := newTestEngine(t, "http://unused.invalid", sms, fixedConnectivity{online: false})

	p := samplePassage()
	_, err := local.RecordPassage(p)
	require.NoError(t, err)
	entry, passage, err := local.NextPending()
	require.NoError(t, err)
	entry.State = localstore.SyncPending
	entry.CreatedAt = time.Now().UTC()

	e.maybeFallback(entry, passage)

	require.Empty(t, sms.sent)
}

func TestMaybeFallbackSkipsWhenAlreadySent(t *testing.T) {
	sms := &recordingSMSSender{}
	e, local := newTestEngine(t, "http://unused.invalid", sms, fixedConnectivity{online: false})

	p := samplePassage()
	_, err := local.RecordPassage(p)
	require.NoError(t, err)
	entry, passage, err := local.NextPending()
	require.NoError(t, err)
	entry.State = localstore.SyncFailed
	entry.SMSSent = true

	e.maybeFallback(entry, passage)

	require.Empty(t, sms.sent)
}

func TestRunPullCycleCachesReturnedPassages(t *testing.T) {
	recordedAt := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]domain.Passage{
			{ID: 55, PlateNumber: "DL01AB1234", VehicleType: domain.VehicleCar, CheckpostID: 2, SegmentID: 1, RecordedAt: recordedAt},
		})
	}))
	defer srv.Close()

	e, local := newTestEngine(t, srv.URL, &recordingSMSSender{}, fixedConnectivity{online: true})

	e.runPullCycle()

	candidate, err := local.FindOppositeCandidate("DL01AB1234", 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(55), candidate.RemotePassageID)
}
