package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/wg-ondemand/internal/statemachine"
)

var errNoInterfaceIP = errors.New("monitor interface has no IPv4 address")

// scheduleRetry starts a bounded exponential-backoff re-probe of the
// monitor interface's IP, guarded by retryInFlight so a burst of
// AttachEbpf actions (e.g. a flapping Wi-Fi link) never starts more than
// one retry task at a time. On success it enqueues RetryAttachment rather
// than StartMonitoring so logs/metrics can tell a fresh connect apart from
// a scheduled re-probe, even though both drive the same attach action.
func (s *Supervisor) scheduleRetry(ctx context.Context) {
	if !s.retryInFlight.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer s.retryInFlight.Store(false)

		b := backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(retryInitialInterval),
			backoff.WithMultiplier(retryMultiplier),
			backoff.WithMaxInterval(retryMaxInterval),
			backoff.WithMaxElapsedTime(retryMaxElapsedTime),
			backoff.WithRandomizationFactor(0),
			backoff.WithClockProvider(s.clock),
		)
		bo := backoff.WithContext(b, ctx)

		op := func() error {
			ip, err := s.ifaces.InterfaceIP(s.monitorIface)
			if err != nil {
				return err
			}
			if ip == nil {
				return errNoInterfaceIP
			}
			return nil
		}

		timer := &clockTimer{clock: s.clock}
		if err := backoff.RetryNotifyWithTimer(op, bo, nil, timer); err != nil {
			if s.metrics != nil {
				s.metrics.RecordAttachRetry(err)
			}
			s.log.Error("giving up on attach retry", "interface", s.monitorIface, "error", err)
			return
		}
		if s.metrics != nil {
			s.metrics.RecordAttachRetry(nil)
		}
		s.log.Info("monitor interface IP became available, retrying attach", "interface", s.monitorIface)
		s.enqueue(statemachine.RetryAttachment)
	}()
}

// clockTimer adapts a clockwork.Clock to backoff.Timer so the attach-retry
// schedule can be driven by a clockwork.FakeClock in tests instead of
// sleeping in real time.
type clockTimer struct {
	clock clockwork.Clock
	timer clockwork.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.NewTimer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	if t.timer == nil {
		return nil
	}
	return t.timer.Chan()
}
