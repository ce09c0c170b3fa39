/*
scheduler.go - Cron-based booking-status scan

PURPOSE:
  Runs the status-nudge scan on a schedule and logs what it finds, so an
  operator notices bookings whose dates and state disagree without
  polling the API.

SEE ALSO:
  - booking/nudge.go: The scan predicates
  - config/config.go: Cron expression configuration
*/
package api

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/warp/rental-engine/booking"
)

// Scheduler periodically scans bookings for missed starts and overdue
// returns. Findings are logged; no state is changed.
type Scheduler struct {
	cron  *cron.Cron
	store booking.BookingStore
	spec  string
}

// NewScheduler creates a scheduler running the scan on the given cron
// spec (standard 5-field syntax).
func NewScheduler(store booking.BookingStore, spec string) *Scheduler {
	return &Scheduler{
		cron:  cron.New(),
		store: store,
		spec:  spec,
	}
}

// Start registers the scan job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.runScan); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("[Scheduler] booking-status scan scheduled (%s)", s.spec)
	return nil
}

// Stop stops the cron loop and waits for a running scan to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Printf("[Scheduler] stopped")
}

func (s *Scheduler) runScan() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	nudger := &booking.StateNudger{Store: s.store}
	nudges, err := nudger.Scan(ctx, time.Now())
	if err != nil {
		log.Printf("[Scheduler] status scan failed: %v", err)
		return
	}

	for _, n := range nudges {
		switch n.Kind {
		case booking.NudgeShouldStart:
			log.Printf("[Scheduler] booking %s (%s) is past its start date but still %s",
				n.Reference, n.BookingID, n.State)
		case booking.NudgeShouldFinish:
			log.Printf("[Scheduler] booking %s (%s) is past its end date but still %s",
				n.Reference, n.BookingID, n.State)
		}
	}
	if len(nudges) == 0 {
		log.Printf("[Scheduler] status scan clean: all bookings match their dates")
	}
}
