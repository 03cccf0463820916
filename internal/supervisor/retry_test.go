package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/wg-ondemand/internal/statemachine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleRetry_SucceedsOnSecondAttempt(t *testing.T) {
	s, _, _, _, _ := newTestSupervisor(t)
	fc := s.clock.(clockwork.FakeClock)

	readyIP := uint32(0xC0A80001)
	s.ifaces = &fakeIfaceProber{responses: []ifaceProbeResult{
		{err: errNoInterfaceIP}, // first probe, made at once by the retry loop: not ready yet
		{ip: &readyIP},          // second probe, after the first backoff wait: ready
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.scheduleRetry(ctx)
	require.True(t, s.retryInFlight.Load())

	// The retry loop's first probe fails before it starts waiting;
	// advancing past the initial interval fires the retry and the second
	// probe succeeds without any further wait.
	fc.BlockUntil(1)
	fc.Advance(retryInitialInterval)

	select {
	case cmd := <-s.cmdCh:
		assert.Equal(t, statemachine.RetryAttachment, cmd)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RetryAttachment to be enqueued")
	}

	assert.Eventually(t, func() bool { return !s.retryInFlight.Load() }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduleRetry_GivesUpAfterMaxElapsedTime(t *testing.T) {
	s, _, _, _, _ := newTestSupervisor(t)
	fc := s.clock.(clockwork.FakeClock)

	s.ifaces = &fakeIfaceProber{responses: []ifaceProbeResult{{err: errNoInterfaceIP}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.scheduleRetry(ctx)
	require.True(t, s.retryInFlight.Load())

	// Jump the fake clock far past the 31s attach-retry budget in one step;
	// the next backoff check sees the budget exhausted and gives up without
	// ever needing a matching real-time sleep.
	fc.BlockUntil(1)
	fc.Advance(10 * retryMaxElapsedTime)

	assert.Eventually(t, func() bool { return !s.retryInFlight.Load() }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, s.cmdCh, 0, "exhausted retry never enqueues RetryAttachment")
}

func TestScheduleRetry_SingleFlightGuard(t *testing.T) {
	s, _, _, _, _ := newTestSupervisor(t)
	s.ifaces = &fakeIfaceProber{responses: []ifaceProbeResult{{err: errNoInterfaceIP}}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.scheduleRetry(ctx)
	require.True(t, s.retryInFlight.Load())

	// A second call while one is already in flight must not start another;
	// CompareAndSwap makes this a no-op.
	s.scheduleRetry(ctx)

	cancel()
	assert.Eventually(t, func() bool { return !s.retryInFlight.Load() }, 2*time.Second, 10*time.Millisecond)
}
