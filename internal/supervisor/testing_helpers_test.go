package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/wg-ondemand/internal/config"
	"github.com/malbeclabs/wg-ondemand/internal/ebpfclassifier"
	"github.com/malbeclabs/wg-ondemand/internal/metrics"
	"github.com/malbeclabs/wg-ondemand/internal/statemachine"
	"github.com/malbeclabs/wg-ondemand/internal/subnet"
	"github.com/malbeclabs/wg-ondemand/internal/wifimonitor"
	"github.com/prometheus/client_golang/prometheus"
)

type fakeClassifier struct {
	mu       sync.Mutex
	attached bool
	pending  []ebpfclassifier.TrafficEvent

	attachErr error
}

func (f *fakeClassifier) Attach(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return f.attachErr
	}
	f.attached = true
	return nil
}

func (f *fakeClassifier) Detach() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = false
	return nil
}

func (f *fakeClassifier) Attached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attached
}

func (f *fakeClassifier) Poll(log *slog.Logger, fn func(ebpfclassifier.TrafficEvent)) error {
	f.mu.Lock()
	events := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, e := range events {
		fn(e)
	}
	return nil
}

func (f *fakeClassifier) Close() error { return nil }

func (f *fakeClassifier) pushEvent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, ebpfclassifier.TrafficEvent{})
}

type fakeRoutes struct {
	mu     sync.Mutex
	active bool
}

func (f *fakeRoutes) AddRoutes([]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	return nil
}

func (f *fakeRoutes) RemoveRoutes() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	return nil
}

func (f *fakeRoutes) HasActiveRoutes() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type fakeTunnel struct {
	mu           sync.Mutex
	up           bool
	bringUpErr   error
	idle         time.Duration
	idleKnown    bool
	activityErr  error
	bringDownErr error
}

func (f *fakeTunnel) BringUp(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bringUpErr != nil {
		return f.bringUpErr
	}
	f.up = true
	return nil
}

func (f *fakeTunnel) BringDown(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up = false
	return f.bringDownErr
}

func (f *fakeTunnel) CheckActivity() (bool, error) {
	return false, f.activityErr
}

func (f *fakeTunnel) IdleDuration() (time.Duration, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idle, f.idleKnown
}

func (f *fakeTunnel) ResetActivity() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idle = 0
	f.idleKnown = true
}

func (f *fakeTunnel) Close() error { return nil }

type fakeWifi struct {
	connected bool
}

func (f *fakeWifi) Run(ctx context.Context, events chan<- wifimonitor.Event) error {
	<-ctx.Done()
	return nil
}

func (f *fakeWifi) IsConnectedToTarget() bool { return f.connected }
func (f *fakeWifi) Close() error              { return nil }

// fakeIfaceProber substitutes for the real ifprobe package so handleAttach
// and the attach-retry loop can be exercised without a real network
// interface present. responses is consumed in order, one entry per call;
// the last entry repeats once the slice is exhausted.
type fakeIfaceProber struct {
	mu        sync.Mutex
	responses []ifaceProbeResult
	calls     int
}

type ifaceProbeResult struct {
	ip  *uint32
	err error
}

func (f *fakeIfaceProber) InterfaceIP(string) (*uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.responses) == 0 {
		return nil, nil
	}
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	return r.ip, r.err
}

func newTestSupervisor(t *testing.T) (*Supervisor, *fakeClassifier, *fakeRoutes, *fakeTunnel, *fakeWifi) {
	classifier := &fakeClassifier{}
	routes := &fakeRoutes{}
	tunnel := &fakeTunnel{}
	wifi := &fakeWifi{}
	readyIP := uint32(0xC0A80001) // 192.168.0.1, outside the default test subnet
	ifaces := &fakeIfaceProber{responses: []ifaceProbeResult{{ip: &readyIP}}}

	cfg := &config.Config{
		WGInterface: "wg0",
		IdleTimeout: 5 * time.Minute,
		Subnets:     []subnet.Subnet{},
		SubnetCIDRs: []string{"10.0.0.0/24"},
	}

	s := &Supervisor{
		log:          slog.Default(),
		cfg:          cfg,
		monitorIface: "wlan0",
		classifier:   classifier,
		routes:       routes,
		tunnel:       tunnel,
		wifi:         wifi,
		ifaces:       ifaces,
		clock:        clockwork.NewFakeClock(),
		metrics:      metrics.New(prometheus.NewRegistry()),
		statePath:    t.TempDir() + "/state",
		state:        statemachine.Inactive,
		cmdCh:        make(chan statemachine.Command, cmdChanCapacity),
		wifiCh:       make(chan wifimonitor.Event, cmdChanCapacity),
	}
	return s, classifier, routes, tunnel, wifi
}
