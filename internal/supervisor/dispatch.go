package supervisor

import (
	"context"

	"github.com/malbeclabs/wg-ondemand/internal/statefile"
	"github.com/malbeclabs/wg-ondemand/internal/statemachine"
)

// dispatch is the only place s.state is mutated: it steps the state
// machine, performs the named action, and persists the resulting state.
// Commands are processed one at a time off cmdCh, so no locking is needed.
func (s *Supervisor) dispatch(ctx context.Context, cmd statemachine.Command) {
	action, next := statemachine.Step(s.state, cmd)

	switch action {
	case statemachine.AttachEbpf:
		s.handleAttach(ctx)
	case statemachine.DetachEbpf:
		s.handleDetach()
	case statemachine.ActivateTunnel:
		s.handleActivate(ctx)
	case statemachine.DeactivateTunnel:
		s.handleDeactivate(ctx)
	}

	if next != s.state {
		if s.metrics != nil {
			s.metrics.RecordTransition(s.state.String(), next.String())
		}
		s.log.Info("state transition", "from", s.state.String(), "to", next.String(), "command", cmd.String())
		s.state = next
		s.writeStateFile()
	}
}

func (s *Supervisor) writeStateFile() {
	err := statefile.Write(s.statePath, statefile.State{
		TunnelState: s.state.String(),
		SSID:        s.currentSSID,
		Timestamp:   s.clock.Now(),
	})
	if err != nil {
		s.log.Error("failed to write state file", "error", err)
	}
}

// handleAttach probes the monitor interface's IP. An absent IP schedules a
// bounded retry; an IP that overlaps a configured subnet is a deliberate
// warn-and-skip, not an error, per the architecture's open-question
// decision. Otherwise it adds the monitoring routes and attaches the
// filter.
func (s *Supervisor) handleAttach(ctx context.Context) {
	ip, err := s.ifaces.InterfaceIP(s.monitorIface)
	if err != nil {
		s.log.Warn("interface IP probe failed, scheduling retry", "interface", s.monitorIface, "error", err)
		s.scheduleRetry(ctx)
		return
	}
	if ip == nil {
		s.log.Warn("monitor interface has no IPv4 address yet, scheduling retry", "interface", s.monitorIface)
		s.scheduleRetry(ctx)
		return
	}

	if s.overlapsHostIP(*ip) {
		s.log.Warn("host interface IP overlaps a configured subnet, skipping filter attach", "interface", s.monitorIface)
		return
	}

	if err := s.routes.AddRoutes(s.cfg.SubnetCIDRs); err != nil {
		s.log.Error("failed to add monitoring routes", "error", err)
	}
	if err := s.classifier.Attach(s.monitorIface); err != nil {
		s.log.Error("failed to attach egress classifier", "error", err)
		return
	}
	s.log.Info("egress classifier attached", "interface", s.monitorIface)
}

func (s *Supervisor) handleDetach() {
	if err := s.classifier.Detach(); err != nil {
		s.log.Error("failed to detach egress classifier", "error", err)
	}
	if err := s.routes.RemoveRoutes(); err != nil {
		s.log.Error("failed to remove monitoring routes", "error", err)
	}
}

// handleActivate brings the tunnel up asynchronously so the event loop
// keeps servicing the ring buffer and Wi-Fi channel while the external
// command runs; the result is fed back in as TunnelUp.
func (s *Supervisor) handleActivate(ctx context.Context) {
	go func() {
		if err := s.tunnel.BringUp(ctx); err != nil {
			s.log.Error("failed to bring tunnel up", "error", err)
			return
		}
		s.tunnel.ResetActivity()
		s.log.Info("tunnel activated", "interface", s.cfg.WGInterface)
		s.enqueue(statemachine.TunnelUp)
	}()
}

// handleDeactivate brings the tunnel down asynchronously and feeds back
// TunnelDown regardless of outcome, since BringDown already treats
// already-down as benign.
func (s *Supervisor) handleDeactivate(ctx context.Context) {
	go func() {
		if err := s.tunnel.BringDown(ctx); err != nil {
			s.log.Error("failed to bring tunnel down", "error", err)
		}
		s.log.Info("tunnel deactivated", "interface", s.cfg.WGInterface)
		s.enqueue(statemachine.TunnelDown)
	}()
}
