// Package ifprobe resolves the IPv4 address of a named network interface
// and auto-selects a monitor interface when none is configured.
package ifprobe

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"

	"github.com/malbeclabs/wg-ondemand/internal/wgerr"
	"github.com/vishvananda/netlink"
)

// namePattern is the command-injection boundary: any interface or
// connection name that reaches a shell-invoked tool must match this class.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName rejects anything outside [A-Za-z0-9_-]+, the charset
// permitted before a name is passed to a shell-invoked tool.
func ValidateName(name string) error {
	if name == "" || !namePattern.MatchString(name) {
		return fmt.Errorf("%w: invalid interface/connection name %q", wgerr.ErrValidation, name)
	}
	return nil
}

// InterfaceIP returns the first IPv4 address (network byte order) assigned
// to the named interface, or nil if it has none.
func InterfaceIP(name string) (*uint32, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("%w: looking up interface %s: %v", wgerr.ErrIO, name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("%w: listing addresses for %s: %v", wgerr.ErrIO, name, err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		v4 := ipNet.IP.To4()
		if v4 == nil {
			continue
		}
		ip := binary.BigEndian.Uint32(v4)
		return &ip, nil
	}
	return nil, nil
}

// wirelessSysfsDir is overridable in tests.
var wirelessSysfsDir = "/sys/class/net"

// Autodetect picks a monitor interface: first any link exposing a wireless
// attribute under sysfs, else the device of the default IPv4 route.
func Autodetect() (string, error) {
	if name, ok := findWirelessInterface(); ok {
		return name, nil
	}

	name, err := defaultRouteInterface()
	if err != nil {
		return "", fmt.Errorf("%w: could not auto-detect network interface: %v", wgerr.ErrValidation, err)
	}
	return name, nil
}

func findWirelessInterface() (string, bool) {
	entries, err := os.ReadDir(wirelessSysfsDir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		wirelessPath := filepath.Join(wirelessSysfsDir, entry.Name(), "wireless")
		if _, err := os.Stat(wirelessPath); err == nil {
			return entry.Name(), true
		}
	}
	return "", false
}

func defaultRouteInterface() (string, error) {
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4, &netlink.Route{Dst: nil}, netlink.RT_FILTER_DST)
	if err != nil {
		return "", fmt.Errorf("listing default routes: %w", err)
	}
	for _, route := range routes {
		if route.Dst != nil {
			continue
		}
		link, err := netlink.LinkByIndex(route.LinkIndex)
		if err != nil {
			continue
		}
		return link.Attrs().Name, nil
	}
	return "", fmt.Errorf("no default route found")
}
