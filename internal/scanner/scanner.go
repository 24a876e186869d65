// Package scanner runs the periodic overstay sweep: the background pass
// that raises a proactive OverstayAlert for any entry passage still
// unmatched once its segment's maximum travel time has elapsed (spec §4.4).
package scanner

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/highwaypatrol/passage-core/internal/store"
	"github.com/highwaypatrol/passage-core/pkg/log"
)

// Scanner wraps a gocron scheduler running exactly one recurring job.
type Scanner struct {
	s     gocron.Scheduler
	store *store.Store
}

// New builds a Scanner but does not start it; call Start once the store is
// connected and ready.
func New(st *store.Store) (*Scanner, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Scanner{s: s, store: st}, nil
}

// Start registers the overstay sweep at the given interval and starts the
// scheduler. Calling Start twice is not supported.
func (sc *Scanner) Start(interval time.Duration) error {
	_, err := sc.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sc.runOnce),
	)
	if err != nil {
		return err
	}

	log.Infof("scanner: overstay sweep scheduled every %s", interval)
	sc.s.Start()
	return nil
}

func (sc *Scanner) runOnce() {
	created, err := sc.store.ScanOverdueUnmatchedEntries(time.Now().UTC())
	if err != nil {
		log.Errorf("scanner: overstay sweep failed: %s", err.Error())
		return
	}
	if created > 0 {
		log.Infof("scanner: overstay sweep raised %d new alert(s)", created)
	}
}

// Shutdown stops the scheduler, blocking until the running job (if any)
// finishes.
func (sc *Scanner) Shutdown() error {
	return sc.s.Shutdown()
}
