package scheduler

import (
	"context"
	"errors"
	"time"

	"remindcore/internal/eventbus"
	logx "remindcore/pkg/logx"
)

// sweep is the cron job.
func (s *Service) sweep() {
	if _, err := s.ReconcileNow(s.runContext()); err != nil && !errors.Is(err, ErrReconcileBusy) {
		s.warn("reconcile failed", "", err)
	}
}

// ReconcileNow runs one reconciliation: expire what the channel lost, cancel
// orphaned handles, then re-attempt the retry set.
func (s *Service) ReconcileNow(ctx context.Context) (Report, error) {
	reg := s.attached()
	if reg == nil {
		return Report{}, nil
	}
	if !s.reconMu.TryLock() {
		return Report{}, ErrReconcileBusy
	}
	defer s.reconMu.Unlock()

	start := time.Now()
	rep := Report{At: s.now()}
	rr, err := reg.Reconcile(ctx, s.listPending)
	if err != nil {
		rep.Err = err.Error()
		rep.Took = time.Since(start)
		s.record(rep)
		return rep, err
	}
	rep.Checked = rr.Checked
	rep.Expired = len(rr.Expired)
	rep.Skipped = rr.Skipped
	rep.Deferred = rr.Deferred
	rep.Orphans = len(rr.Orphans)
	for _, h := range rr.Orphans {
		s.log.Info("cancelling orphaned alert", logx.String("handle", string(h)))
		s.Cancel(ctx, h)
	}
	rep.Retry = reg.Retry(ctx)
	rep.Took = time.Since(start)
	s.record(rep)

	if rep.Expired+rep.Orphans+rep.Retry.Scheduled+rep.Retry.Dropped > 0 {
		s.log.Info("reconcile repaired drift",
			logx.Int("expired", rep.Expired),
			logx.Int("orphans", rep.Orphans),
			logx.Int("rescheduled", rep.Retry.Scheduled),
			logx.Int("dropped", rep.Retry.Dropped),
			logx.Duration("took", rep.Took),
		)
	} else {
		s.log.Trace("reconcile clean", logx.Int("checked", rep.Checked), logx.Duration("took", rep.Took))
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.ReconcileDone, Data: rep})
	return rep, nil
}

func (s *Service) record(rep Report) {
	s.mu.Lock()
	s.last = rep
	s.runs++
	s.mu.Unlock()
}

// LastReport returns the most recent reconciliation and how many have run.
func (s *Service) LastReport() (Report, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.runs
}
