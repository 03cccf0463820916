// Package routemgr maintains temporary host routes that funnel configured
// target subnets through the Wi-Fi gateway while the tunnel is down, so the
// egress classifier actually sees that traffic on the monitored interface.
package routemgr

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/malbeclabs/wg-ondemand/internal/subnet"
	"github.com/malbeclabs/wg-ondemand/internal/wgerr"
	"github.com/vishvananda/netlink"
)

// Manager tracks the routes it has added for one monitored interface.
type Manager struct {
	log       *slog.Logger
	ifaceName string

	gateway net.IP
	active  map[string]subnet.Subnet
}

// New creates a route manager for the given interface. The gateway is
// resolved lazily on the first AddRoutes call.
func New(log *slog.Logger, ifaceName string) *Manager {
	return &Manager{
		log:       log,
		ifaceName: ifaceName,
		active:    make(map[string]subnet.Subnet),
	}
}

// AddRoutes adds a host route for each subnet not already tracked, via the
// interface's detected gateway. Failures for individual subnets are logged
// and do not abort the remaining subnets; the supervisor retries on the
// next trigger.
func (m *Manager) AddRoutes(cidrs []string) error {
	link, err := netlink.LinkByName(m.ifaceName)
	if err != nil {
		return fmt.Errorf("%w: looking up interface %s: %v", wgerr.ErrIO, m.ifaceName, err)
	}

	gw, err := m.detectGateway(link)
	if err != nil {
		return err
	}

	for _, cidr := range cidrs {
		if _, ok := m.active[cidr]; ok {
			continue
		}
		s, err := subnet.Parse(cidr)
		if err != nil {
			m.log.Error("invalid monitoring subnet, skipping", "cidr", cidr, "error", err)
			continue
		}

		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			m.log.Error("invalid monitoring subnet, skipping", "cidr", cidr, "error", err)
			continue
		}

		route := &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Dst:       ipNet,
			Gw:        gw,
		}
		if err := netlink.RouteReplace(route); err != nil {
			m.log.Error("failed to add monitoring route", "cidr", cidr, "gateway", gw, "interface", m.ifaceName, "error", err)
			continue
		}
		m.log.Info("monitoring route active", "cidr", cidr, "gateway", gw, "interface", m.ifaceName)
		m.active[cidr] = s
	}
	return nil
}

// RemoveRoutes removes every tracked route, ignoring individual failures,
// and clears the tracked set.
func (m *Manager) RemoveRoutes() error {
	link, err := netlink.LinkByName(m.ifaceName)
	var linkIndex int
	if err == nil {
		linkIndex = link.Attrs().Index
	}

	for cidr := range m.active {
		_, ipNet, perr := net.ParseCIDR(cidr)
		if perr != nil {
			continue
		}
		route := &netlink.Route{LinkIndex: linkIndex, Dst: ipNet}
		if err := netlink.RouteDel(route); err != nil {
			m.log.Warn("failed to remove monitoring route", "cidr", cidr, "error", err)
		} else {
			m.log.Info("removed monitoring route", "cidr", cidr)
		}
		delete(m.active, cidr)
	}
	return nil
}

// HasActiveRoutes reports whether any routes are currently tracked.
func (m *Manager) HasActiveRoutes() bool {
	return len(m.active) > 0
}

// ClearGatewayCache forces the next AddRoutes call to re-detect the
// gateway, useful when the interface's network has changed.
func (m *Manager) ClearGatewayCache() {
	m.gateway = nil
}

func (m *Manager) detectGateway(link netlink.Link) (net.IP, error) {
	if m.gateway != nil {
		return m.gateway, nil
	}

	routes, err := netlink.RouteList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("%w: listing routes on %s: %v", wgerr.ErrIO, m.ifaceName, err)
	}
	for _, r := range routes {
		if r.Gw != nil {
			m.gateway = r.Gw
			return r.Gw, nil
		}
	}
	return nil, fmt.Errorf("%w: no gateway found for %s", wgerr.ErrValidation, m.ifaceName)
}
