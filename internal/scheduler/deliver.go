package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindcore/internal/registry"
	"remindcore/internal/reminder"
	logx "remindcore/pkg/logx"
)

var _ registry.Scheduler = (*Service)(nil)

type scheduleResult struct {
	h   reminder.Handle
	err error
}

// Schedule hands an alert to the channel, bounded by DeliveryTimeout.
// A timeout is reported as a rejection; if the channel accepts after the
// caller gave up, the late handle is cancelled.
func (s *Service) Schedule(ctx context.Context, fireAt time.Time, content reminder.Content) (reminder.Handle, error) {
	timeout := s.config().DeliveryTimeout
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan scheduleResult, 1)
	go func() {
		h, err := s.ch.Schedule(tctx, fireAt, content)
		done <- scheduleResult{h: h, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if !errors.Is(r.err, reminder.ErrDeliveryRejected) {
				r.err = fmt.Errorf("%w: %v", reminder.ErrDeliveryRejected, r.err)
			}
			return "", r.err
		}
		if r.h == "" {
			return "", fmt.Errorf("%w: empty handle", reminder.ErrDeliveryRejected)
		}
		return r.h, nil
	case <-tctx.Done():
		go s.cancelLate(done)
		return "", fmt.Errorf("%w: no answer within %s", reminder.ErrDeliveryRejected, timeout)
	}
}

func (s *Service) cancelLate(done <-chan scheduleResult) {
	r := <-done
	if r.err != nil || r.h == "" {
		return
	}
	s.log.Debug("cancelling alert accepted after timeout", logx.String("handle", string(r.h)))
	s.Cancel(context.Background(), r.h)
}

// Cancel removes h from the channel. Unknown handles are ignored; other
// failures are logged and left for the orphan sweep.
func (s *Service) Cancel(ctx context.Context, h reminder.Handle) {
	if h == "" {
		return
	}
	tctx, cancel := context.WithTimeout(ctx, s.config().DeliveryTimeout)
	defer cancel()
	err := s.ch.Cancel(tctx, h)
	if err == nil || errors.Is(err, reminder.ErrUnknownHandle) {
		return
	}
	s.warn("delivery channel cancel failed", string(h), err)
}

func (s *Service) listPending(ctx context.Context) ([]reminder.Handle, error) {
	tctx, cancel := context.WithTimeout(ctx, s.config().DeliveryTimeout)
	defer cancel()
	return s.ch.ListPending(tctx)
}
