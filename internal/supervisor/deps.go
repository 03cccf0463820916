package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/malbeclabs/wg-ondemand/internal/ebpfclassifier"
	"github.com/malbeclabs/wg-ondemand/internal/ifprobe"
	"github.com/malbeclabs/wg-ondemand/internal/wifimonitor"
)

// classifierDriver is the subset of *ebpfclassifier.Classifier the
// supervisor depends on. Tests substitute a fake so dispatch logic can be
// exercised without real netlink/eBPF access.
type classifierDriver interface {
	Attach(ifaceName string) error
	Detach() error
	Attached() bool
	Poll(log *slog.Logger, fn func(ebpfclassifier.TrafficEvent)) error
	Close() error
}

// routeDriver is the subset of *routemgr.Manager the supervisor depends on.
type routeDriver interface {
	AddRoutes(cidrs []string) error
	RemoveRoutes() error
	HasActiveRoutes() bool
}

// tunnelDriver is the subset of *tunnelctl.Controller the supervisor
// depends on.
type tunnelDriver interface {
	BringUp(ctx context.Context) error
	BringDown(ctx context.Context) error
	CheckActivity() (bool, error)
	IdleDuration() (time.Duration, bool)
	ResetActivity()
	Close() error
}

// wifiDriver is the subset of *wifimonitor.Monitor the supervisor depends
// on.
type wifiDriver interface {
	Run(ctx context.Context, events chan<- wifimonitor.Event) error
	IsConnectedToTarget() bool
	Close() error
}

// ifaceProber is the subset of the ifprobe package the supervisor depends
// on. Tests substitute a fake so handleAttach and the attach-retry loop can
// be exercised without a real network interface present.
type ifaceProber interface {
	InterfaceIP(name string) (*uint32, error)
}

// realIfaceProber is the production ifaceProber, delegating straight to
// the ifprobe package.
type realIfaceProber struct{}

func (realIfaceProber) InterfaceIP(name string) (*uint32, error) {
	return ifprobe.InterfaceIP(name)
}
