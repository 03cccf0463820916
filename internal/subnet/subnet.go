// Package subnet implements CIDR parsing and membership testing for the
// fixed-capacity subnet table shared with the in-kernel traffic classifier.
package subnet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/malbeclabs/wg-ondemand/internal/wgerr"
)

// MaxSubnets is the kernel map's slot capacity.
const MaxSubnets = 16

// Sentinel marks an unused kernel map slot, distinguishing it from the
// legitimate 0.0.0.0/0 entry.
const Sentinel uint32 = 0xFFFFFFFF

// Subnet is (network, mask) in network byte order, host bits cleared.
type Subnet struct {
	Network uint32
	Mask    uint32
}

// IsSentinel reports whether s is the reserved empty-slot marker.
func (s Subnet) IsSentinel() bool {
	return s.Network == Sentinel && s.Mask == Sentinel
}

// Parse parses "a.b.c.d/p" into a Subnet with host bits cleared:
// 192.168.1.100/24 parses to network 192.168.1.0, mask /24.
func Parse(cidr string) (Subnet, error) {
	slash := strings.IndexByte(cidr, '/')
	if slash < 0 {
		return Subnet{}, fmt.Errorf("%w: %q missing '/'", wgerr.ErrParse, cidr)
	}

	ipPart, prefixPart := cidr[:slash], cidr[slash+1:]

	prefix, err := strconv.Atoi(prefixPart)
	if err != nil || prefix < 0 || prefix > 32 {
		return Subnet{}, fmt.Errorf("%w: %q invalid prefix", wgerr.ErrParse, cidr)
	}

	ip, err := parseIPv4(ipPart)
	if err != nil {
		return Subnet{}, fmt.Errorf("%w: %q: %v", wgerr.ErrParse, cidr, err)
	}

	var mask uint32
	if prefix > 0 {
		mask = ^uint32(0) << (32 - uint(prefix))
	}

	return Subnet{Network: ip & mask, Mask: mask}, nil
}

// parseIPv4 parses a dotted-quad into a big-endian uint32, rejecting
// anything that isn't exactly 4 octets in [0,255].
func parseIPv4(s string) (uint32, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("expected 4 octets, got %d", len(parts))
	}
	var ip uint32
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return 0, fmt.Errorf("invalid octet %q", p)
		}
		ip = ip<<8 | uint32(n)
	}
	return ip, nil
}

// Contains reports whether ip (network byte order) matches any non-sentinel
// subnet in subnets.
func Contains(ip uint32, subnets []Subnet) bool {
	for _, s := range subnets {
		if s.IsSentinel() {
			continue
		}
		if ip&s.Mask == s.Network {
			return true
		}
	}
	return false
}

// ToTable renders subnets into a fixed MaxSubnets-length table, padding
// unused slots with Sentinel, for loading into the kernel map. It returns an
// error if subnets exceeds MaxSubnets.
func ToTable(subnets []Subnet) ([MaxSubnets]Subnet, error) {
	var table [MaxSubnets]Subnet
	if len(subnets) > MaxSubnets {
		return table, fmt.Errorf("%w: %d subnets exceeds max %d", wgerr.ErrValidation, len(subnets), MaxSubnets)
	}
	for i := range table {
		table[i] = Subnet{Network: Sentinel, Mask: Sentinel}
	}
	copy(table[:], subnets)
	return table, nil
}
