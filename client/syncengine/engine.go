// Package syncengine is the client-side outbound pusher, inbound puller,
// and SMS fallback trigger (spec §4.6, §4.7, §4.9). It runs as a single
// cooperative worker: one queue entry is picked, processed, and
// transitioned before the next (spec §5 "client-side... single
// logical worker").
package syncengine

import (
	"database/sql"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/highwaypatrol/passage-core/client/localstore"
	"github.com/highwaypatrol/passage-core/internal/domain"
	"github.com/highwaypatrol/passage-core/internal/metrics"
	"github.com/highwaypatrol/passage-core/pkg/log"
)

// SMSSender transmits an already-encoded V1 record over the device's SMS
// channel to the configured gateway number. Production devices implement
// this against their native SMS radio/API; it is an interface so tests
// can substitute a recording stub.
type SMSSender interface {
	Send(gatewayNumber, body string) error
}

// ConnectivityChecker reports whether the device currently has data
// connectivity, gating SMS fallback eligibility (spec §4.7 condition a).
type ConnectivityChecker interface {
	Online() bool
}

// SegmentLookup resolves a segment's travel-time thresholds, the same
// dependency client/localmatcher.Matcher needs for its own classification.
// The pull window (spec §6 "pull_lookback = max_travel_time + buffer") is
// per segment, so the engine needs this to compute it rather than relying
// on cfg.PullLookbackBuffer alone.
type SegmentLookup interface {
	Segment(segmentID int64) (domain.Segment, error)
}

// Config is the static device provisioning the engine needs beyond the
// tunable intervals already in internal/config: which checkpost and
// ranger this device is acting for, and where to send fallback SMS.
type Config struct {
	CheckpostCode     string
	CheckpostID       int64
	SegmentID         int64
	RangerPhoneSuffix string
	SMSGatewayNumber  string

	SyncInterval   time.Duration
	SMSFallbackAge time.Duration
	// PullLookbackBuffer is only the margin added on top of the segment's
	// own max travel time (spec §6 "pull_lookback = max_travel_time +
	// buffer"); runPullCycle resolves the segment to get the rest.
	PullLookbackBuffer time.Duration
	PullLimit          int
}

// Engine owns the scheduler driving both the outbound push loop and the
// inbound pull loop.
type Engine struct {
	cfg          Config
	local        *localstore.Store
	core         *coreClient
	segments     SegmentLookup
	sms          SMSSender
	connectivity ConnectivityChecker
	s            gocron.Scheduler
}

func New(cfg Config, local *localstore.Store, segments SegmentLookup, baseURL, bearer string, sms SMSSender, connectivity ConnectivityChecker) (*Engine, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:          cfg,
		local:        local,
		core:         newCoreClient(baseURL, bearer),
		segments:     segments,
		sms:          sms,
		connectivity: connectivity,
		s:            s,
	}, nil
}

// Start reverts crashed in-flight entries to pending, then registers and
// starts the push and pull jobs on cfg.SyncInterval.
func (e *Engine) Start() error {
	revived, err := e.local.ReviveCrashedInFlight()
	if err != nil {
		return err
	}
	if revived > 0 {
		log.Infof("syncengine: revived %d crashed in-flight entries to pending", revived)
	}

	if _, err := e.s.NewJob(
		gocron.DurationJob(e.cfg.SyncInterval),
		gocron.NewTask(e.runPushCycle),
	); err != nil {
		return err
	}
	if _, err := e.s.NewJob(
		gocron.DurationJob(e.cfg.SyncInterval),
		gocron.NewTask(e.runPullCycle),
	); err != nil {
		return err
	}
	if _, err := e.s.NewJob(
		gocron.DurationJob(e.cfg.SyncInterval),
		gocron.NewTask(e.runFallbackSweep),
	); err != nil {
		return err
	}

	e.s.Start()
	return nil
}

func (e *Engine) Shutdown() error {
	return e.s.Shutdown()
}

// runPushCycle drains the pending queue FIFO, one entry at a time, until
// empty or a transient failure leaves the rest for the next cycle.
func (e *Engine) runPushCycle() {
	for {
		entry, passage, err := e.local.NextPending()
		if errors.Is(err, sql.ErrNoRows) {
			return
		}
		if err != nil {
			log.Errorf("syncengine: claiming next pending entry: %s", err.Error())
			return
		}

		if !e.processEntry(entry, passage) {
			return
		}
	}
}

// processEntry pushes one entry and reports whether it was synced.
func (e *Engine) processEntry(entry *localstore.SyncQueueEntry, passage *localstore.LocalPassage) bool {
	_, err := e.core.push(passage)
	if err == nil {
		if err := e.local.MarkSynced(entry.ID); err != nil {
			log.Errorf("syncengine: marking entry %d synced: %s", entry.ID, err.Error())
		}
		return true
	}

	log.Warnf("syncengine: pushing local passage %d failed: %s", passage.ID, err.Error())
	failed, rerr := e.local.MarkRetry(entry.ID)
	if rerr != nil {
		log.Errorf("syncengine: recording retry for entry %d: %s", entry.ID, rerr.Error())
		return false
	}
	if failed {
		log.Warnf("syncengine: entry %d exhausted retries, eligible for SMS fallback", entry.ID)
	}

	e.maybeFallback(entry, passage)
	return false
}

// maybeFallback checks the three §4.7 eligibility conditions for this one
// entry and, if met, sends it over SMS.
func (e *Engine) maybeFallback(entry *localstore.SyncQueueEntry, passage *localstore.LocalPassage) {
	if e.connectivity != nil && e.connectivity.Online() {
		return
	}
	if entry.SMSSent {
		return
	}
	if time.Since(entry.CreatedAt) < e.cfg.SMSFallbackAge {
		return
	}

	body, err := domain.EncodeSMS(domain.SMSRecord{
		CheckpostCode:     e.cfg.CheckpostCode,
		PlateNumber:       passage.PlateNumber,
		VehicleType:       passage.VehicleType,
		RecordedAt:        passage.RecordedAt,
		RangerPhoneSuffix: e.cfg.RangerPhoneSuffix,
	})
	if err != nil {
		log.Errorf("syncengine: encoding SMS for local passage %d: %s", passage.ID, err.Error())
		return
	}

	if err := e.sms.Send(e.cfg.SMSGatewayNumber, body); err != nil {
		log.Errorf("syncengine: sending SMS fallback for local passage %d: %s", passage.ID, err.Error())
		return
	}
	if err := e.local.MarkSMSSent(entry.ID); err != nil {
		log.Errorf("syncengine: marking entry %d sms_sent: %s", entry.ID, err.Error())
	}
}

// runFallbackSweep catches entries whose eligibility window opened since
// they were last attempted, independent of the push loop (e.g. a long
// run of already-failed entries nothing is retrying anymore).
func (e *Engine) runFallbackSweep() {
	cutoff := time.Now().UTC().Add(-e.cfg.SMSFallbackAge)
	entries, err := e.local.FallbackEligible(cutoff)
	if err != nil {
		log.Errorf("syncengine: listing fallback-eligible entries: %s", err.Error())
		return
	}
	for _, entry := range entries {
		passage, err := e.local.GetLocalPassage(entry.LocalPassageID)
		if err != nil {
			log.Errorf("syncengine: loading local passage %d: %s", entry.LocalPassageID, err.Error())
			continue
		}
		e.maybeFallback(entry, passage)
	}
}

// runPullCycle fetches unmatched opposite-checkpost passages since the
// max-travel-time-plus-buffer window and upserts them into the local
// cache (spec §4.9).
func (e *Engine) runPullCycle() {
	seg, err := e.segments.Segment(e.cfg.SegmentID)
	if err != nil {
		log.Warnf("syncengine: resolving segment %d for pull window: %s", e.cfg.SegmentID, err.Error())
		return
	}
	lookback := time.Duration(seg.MaxTravelTimeMinutes()*float64(time.Minute)) + e.cfg.PullLookbackBuffer
	since := time.Now().UTC().Add(-lookback)
	passages, err := e.core.pull(e.cfg.SegmentID, e.cfg.CheckpostID, since, e.cfg.PullLimit)
	if err != nil {
		log.Warnf("syncengine: pull cycle failed: %s", err.Error())
		return
	}

	cached := make([]localstore.CachedRemotePassage, 0, len(passages))
	for _, p := range passages {
		cached = append(cached, localstore.CachedRemotePassage{
			RemotePassageID: p.ID,
			PlateNumber:     p.PlateNumber,
			VehicleType:     p.VehicleType,
			CheckpostID:     p.CheckpostID,
			SegmentID:       p.SegmentID,
			RecordedAt:      p.RecordedAt,
		})
	}
	if err := e.local.UpsertCachedRemotePassages(cached); err != nil {
		log.Errorf("syncengine: caching pulled passages: %s", err.Error())
		return
	}
	metrics.SyncQueueDepth.WithLabelValues("cached_remote").Set(float64(len(cached)))
}
