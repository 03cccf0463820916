// Package supervisor fuses Wi-Fi association, eBPF-classified egress
// traffic, and WireGuard transfer counters into the tunnel state machine,
// and owns the single event loop that dispatches the resulting actions.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/wg-ondemand/internal/config"
	"github.com/malbeclabs/wg-ondemand/internal/ebpfclassifier"
	"github.com/malbeclabs/wg-ondemand/internal/ifprobe"
	"github.com/malbeclabs/wg-ondemand/internal/metrics"
	"github.com/malbeclabs/wg-ondemand/internal/routemgr"
	"github.com/malbeclabs/wg-ondemand/internal/statefile"
	"github.com/malbeclabs/wg-ondemand/internal/statemachine"
	"github.com/malbeclabs/wg-ondemand/internal/subnet"
	"github.com/malbeclabs/wg-ondemand/internal/tunnelctl"
	"github.com/malbeclabs/wg-ondemand/internal/wgerr"
	"github.com/malbeclabs/wg-ondemand/internal/wifimonitor"
)

const (
	cmdChanCapacity  = 32
	ringTickInterval = 1000 * time.Millisecond
	idleTickInterval = 60 * time.Second

	retryInitialInterval = 1 * time.Second
	retryMultiplier      = 2.0
	retryMaxInterval     = 16 * time.Second
	retryMaxElapsedTime  = 31 * time.Second // 1+2+4+8+16s, five retries
)

// Supervisor owns the event loop and every long-lived component it drives.
type Supervisor struct {
	log *slog.Logger
	cfg *config.Config

	monitorIface string

	classifier classifierDriver
	routes     routeDriver
	tunnel     tunnelDriver
	wifi       wifiDriver
	ifaces     ifaceProber

	clock   clockwork.Clock
	metrics *metrics.Metrics

	statePath string

	state         statemachine.State
	currentSSID   string
	retryInFlight atomic.Bool

	cmdCh  chan statemachine.Command
	wifiCh chan wifimonitor.Event
}

// New wires every component named in cfg: it resolves the monitor
// interface, loads the eBPF classifier object, and opens a WireGuard and
// D-Bus NetworkManager client. Nothing is attached or brought up yet; that
// happens as the event loop processes commands.
func New(log *slog.Logger, cfg *config.Config, objPath, statePath string, m *metrics.Metrics, clock clockwork.Clock) (*Supervisor, error) {
	monitorIface := cfg.MonitorInterface
	if monitorIface == "" {
		detected, err := ifprobe.Autodetect()
		if err != nil {
			return nil, err
		}
		monitorIface = detected
	}

	classifier, err := ebpfclassifier.Load(objPath, cfg.Subnets)
	if err != nil {
		return nil, err
	}

	tunnel, err := tunnelctl.NewController(log, cfg.WGInterface, cfg.NMConnection, clock)
	if err != nil {
		classifier.Close()
		return nil, err
	}

	wifi, err := wifimonitor.New(log, cfg.TargetSSIDs, cfg.ExcludeSSIDs)
	if err != nil {
		classifier.Close()
		tunnel.Close()
		return nil, err
	}

	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Supervisor{
		log:          log,
		cfg:          cfg,
		monitorIface: monitorIface,
		classifier:   classifier,
		routes:       routemgr.New(log, monitorIface),
		tunnel:       tunnel,
		wifi:         wifi,
		ifaces:       realIfaceProber{},
		clock:        clock,
		metrics:      m,
		statePath:    statePath,
		state:        statemachine.Inactive,
		cmdCh:        make(chan statemachine.Command, cmdChanCapacity),
		wifiCh:       make(chan wifimonitor.Event, cmdChanCapacity),
	}, nil
}

// State reports the supervisor's current tunnel state, for tests and
// status reporting.
func (s *Supervisor) State() statemachine.State {
	return s.state
}

// Run starts the Wi-Fi monitor and drives the event loop until ctx is
// cancelled, at which point it performs a graceful shutdown and returns.
func (s *Supervisor) Run(ctx context.Context) error {
	wifiErrCh := make(chan error, 1)
	go func() {
		wifiErrCh <- s.wifi.Run(ctx, s.wifiCh)
	}()

	if s.wifi.IsConnectedToTarget() {
		s.enqueue(statemachine.StartMonitoring)
	}

	ringTicker := s.clock.NewTicker(ringTickInterval)
	defer ringTicker.Stop()
	idleTicker := s.clock.NewTicker(idleTickInterval)
	defer idleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Shutdown(context.Background())
			return nil

		case err := <-wifiErrCh:
			if err != nil {
				s.log.Error("wifi monitor terminated", "error", err)
				return fmt.Errorf("%w: wifi monitor terminated: %v", wgerr.ErrDbus, err)
			}

		case ev := <-s.wifiCh:
			s.handleWifiEvent(ev)

		case <-ringTicker.Chan():
			s.pollRing()

		case <-idleTicker.Chan():
			s.checkIdle()

		case cmd := <-s.cmdCh:
			s.dispatch(ctx, cmd)
		}
	}
}

func (s *Supervisor) enqueue(cmd statemachine.Command) {
	select {
	case s.cmdCh <- cmd:
	default:
		s.log.Warn("command channel full, dropping command", "command", cmd.String())
	}
}

func (s *Supervisor) handleWifiEvent(ev wifimonitor.Event) {
	if ev.Connected {
		s.currentSSID = ev.SSID
		s.enqueue(statemachine.StartMonitoring)
	} else {
		s.currentSSID = ""
		s.enqueue(statemachine.StopMonitoring)
	}
}

// pollRing drains the classifier's ring buffer, if attached, and enqueues a
// single TrafficDetected command if any record arrived this tick —
// regardless of how many, since the state machine only needs the edge.
func (s *Supervisor) pollRing() {
	if !s.classifier.Attached() {
		return
	}
	saw := false
	if err := s.classifier.Poll(s.log, func(ebpfclassifier.TrafficEvent) {
		saw = true
		if s.metrics != nil {
			s.metrics.TrafficEventsTotal.Inc()
		}
	}); err != nil {
		s.log.Error("ring buffer read failed", "error", err)
		return
	}
	if saw {
		s.enqueue(statemachine.TrafficDetected)
	}
}

func (s *Supervisor) checkIdle() {
	if s.state != statemachine.Active {
		return
	}
	if _, err := s.tunnel.CheckActivity(); err != nil {
		s.log.Error("failed to query tunnel transfer stats", "error", err)
		return
	}
	idle, ok := s.tunnel.IdleDuration()
	if !ok {
		return
	}
	if s.metrics != nil {
		s.metrics.IdleSeconds.Set(idle.Seconds())
	}
	if idle >= s.cfg.IdleTimeout {
		s.log.Info("tunnel idle timeout reached", "idle", idle, "threshold", s.cfg.IdleTimeout)
		s.enqueue(statemachine.IdleTimeout)
	}
}

// Shutdown tears the daemon down in the order: detach the filter, bring the
// tunnel down if it's up or coming up, remove the state file, then drop the
// route manager's routes best-effort.
func (s *Supervisor) Shutdown(ctx context.Context) {
	if s.classifier.Attached() {
		if err := s.classifier.Detach(); err != nil {
			s.log.Error("failed to detach classifier during shutdown", "error", err)
		}
	}
	if s.state == statemachine.Active || s.state == statemachine.Activating {
		if err := s.tunnel.BringDown(ctx); err != nil {
			s.log.Error("failed to bring tunnel down during shutdown", "error", err)
		}
	}
	if err := statefile.Remove(s.statePath); err != nil {
		s.log.Error("failed to remove state file during shutdown", "error", err)
	}
	if s.routes.HasActiveRoutes() {
		if err := s.routes.RemoveRoutes(); err != nil {
			s.log.Error("failed to remove monitoring routes during shutdown", "error", err)
		}
	}
	if err := s.classifier.Close(); err != nil {
		s.log.Error("failed to close classifier during shutdown", "error", err)
	}
	if err := s.tunnel.Close(); err != nil {
		s.log.Error("failed to close wireguard client during shutdown", "error", err)
	}
	if err := s.wifi.Close(); err != nil {
		s.log.Error("failed to close dbus connection during shutdown", "error", err)
	}
}

func (s *Supervisor) overlapsHostIP(ip uint32) bool {
	return subnet.Contains(ip, s.cfg.Subnets)
}
