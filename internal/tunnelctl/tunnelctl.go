// Package tunnelctl brings a WireGuard tunnel up and down via external
// tooling, queries per-peer transfer counters over the real WireGuard
// netlink device family, and tracks idle time since the last observed
// counter change.
package tunnelctl

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/wg-ondemand/internal/wgerr"
	"golang.zx2c4.com/wireguard/wgctrl"
)

// Controller owns an interface name and an optional NetworkManager
// connection name. When nmConnection is set it drives up/down via nmcli
// AND is used as the name passed to the WireGuard stats query, since
// NetworkManager-created tunnels answer stats queries under the connection
// name, not the link name.
type Controller struct {
	log          *slog.Logger
	ifaceName    string
	nmConnection string
	clock        clockwork.Clock

	client *wgctrl.Client

	// statsFn is overridden in tests to avoid requiring a real WireGuard
	// device; NewController points it at queryDevice.
	statsFn func() (rx, tx uint64, err error)

	lastRx, lastTx  uint64
	lastActivity    *time.Time
	activityStamped bool
}

// NewController creates a tunnel controller. clock may be nil to use the
// real clock; tests inject a clockwork.FakeClock for deterministic idle
// timing.
func NewController(log *slog.Logger, ifaceName, nmConnection string, clock clockwork.Clock) (*Controller, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("%w: opening wgctrl client: %v", wgerr.ErrKernel, err)
	}
	c := &Controller{
		log:          log,
		ifaceName:    ifaceName,
		nmConnection: nmConnection,
		clock:        clock,
		client:       client,
	}
	c.statsFn = c.queryDevice
	return c, nil
}

// Close releases the underlying wgctrl client.
func (c *Controller) Close() error {
	return c.client.Close()
}

// statsName returns the name to query WireGuard stats under: the
// NetworkManager connection name when configured, else the link name.
func (c *Controller) statsName() string {
	if c.nmConnection != "" {
		return c.nmConnection
	}
	return c.ifaceName
}

// BringUp brings the tunnel up via nmcli (if an NM connection is
// configured) or wg-quick.
func (c *Controller) BringUp(ctx context.Context) error {
	if c.nmConnection != "" {
		return c.run(ctx, "nmcli", "connection", "up", c.nmConnection)
	}
	return c.run(ctx, "wg-quick", "up", c.ifaceName)
}

// BringDown brings the tunnel down. Certain benign stderr fragments
// ("not an active connection" for nmcli, "is not a WireGuard interface"
// for wg-quick) are treated as success since they indicate the tunnel was
// already down.
func (c *Controller) BringDown(ctx context.Context) error {
	if c.nmConnection != "" {
		err := c.run(ctx, "nmcli", "connection", "down", c.nmConnection)
		if err != nil && strings.Contains(err.Error(), "not an active connection") {
			c.log.Warn("nmcli down on already-inactive connection", "connection", c.nmConnection)
			return nil
		}
		return err
	}
	err := c.run(ctx, "wg-quick", "down", c.ifaceName)
	if err != nil && strings.Contains(err.Error(), "is not a WireGuard interface") {
		c.log.Warn("wg-quick down on already-absent interface", "interface", c.ifaceName)
		return nil
	}
	return err
}

// IsUp reports whether the interface currently exists and is shown by
// `ip link show`.
func (c *Controller) IsUp(ctx context.Context) bool {
	return c.run(ctx, "ip", "link", "show", c.ifaceName) == nil
}

func (c *Controller) run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v: %s", wgerr.ErrIO, name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// TransferStats sums rx_bytes and tx_bytes across all peers via the
// WireGuard netlink device query, not by parsing tool output at runtime.
func (c *Controller) TransferStats() (rx, tx uint64, err error) {
	return c.statsFn()
}

// queryDevice is the real statsFn, querying the WireGuard device by name
// via wgctrl.
func (c *Controller) queryDevice() (rx, tx uint64, err error) {
	dev, err := c.client.Device(c.statsName())
	if err != nil {
		return 0, 0, fmt.Errorf("%w: querying wireguard device %s: %v", wgerr.ErrKernel, c.statsName(), err)
	}
	for _, peer := range dev.Peers {
		rx += uint64(peer.ReceiveBytes)
		tx += uint64(peer.TransmitBytes)
	}
	return rx, tx, nil
}

// CheckActivity queries current transfer counters; if either differs from
// the last observed pair, stamps last_activity to now and updates the
// stored values, reporting whether a change occurred.
func (c *Controller) CheckActivity() (bool, error) {
	rx, tx, err := c.TransferStats()
	if err != nil {
		return false, err
	}
	if rx != c.lastRx || tx != c.lastTx {
		now := c.clock.Now()
		c.lastActivity = &now
		c.activityStamped = true
		c.lastRx, c.lastTx = rx, tx
		return true, nil
	}
	return false, nil
}

// IdleDuration returns the time since last_activity, or false if it has
// never been stamped.
func (c *Controller) IdleDuration() (time.Duration, bool) {
	if !c.activityStamped {
		return 0, false
	}
	return c.clock.Now().Sub(*c.lastActivity), true
}

// ResetActivity is called on a successful BringUp: it zeroes the stored
// counters and stamps last_activity to now so the first idle check
// measures from activation.
func (c *Controller) ResetActivity() {
	c.lastRx, c.lastTx = 0, 0
	now := c.clock.Now()
	c.lastActivity = &now
	c.activityStamped = true
}
