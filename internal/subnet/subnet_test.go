package subnet_test

import (
	"testing"

	"github.com/malbeclabs/wg-ondemand/internal/subnet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		cidr        string
		wantNetwork uint32
		wantMask    uint32
		expectError bool
	}{
		{
			name:        "clears host bits",
			cidr:        "192.168.1.100/24",
			wantNetwork: 0xC0A80100,
			wantMask:    0xFFFFFF00,
		},
		{
			name:        "slash zero matches everything",
			cidr:        "0.0.0.0/0",
			wantNetwork: 0,
			wantMask:    0,
		},
		{
			name:        "slash 32 is host route",
			cidr:        "10.0.0.9/32",
			wantNetwork: 0x0A000009,
			wantMask:    0xFFFFFFFF,
		},
		{
			name:        "missing slash",
			cidr:        "10.0.0.0",
			expectError: true,
		},
		{
			name:        "prefix too large",
			cidr:        "10.0.0.0/33",
			expectError: true,
		},
		{
			name:        "bad octet",
			cidr:        "10.0.0.256/24",
			expectError: true,
		},
		{
			name:        "too few octets",
			cidr:        "10.0.0/24",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := subnet.Parse(tt.cidr)
			if tt.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNetwork, got.Network)
			assert.Equal(t, tt.wantMask, got.Mask)
			// invariant: network & ~mask == 0
			assert.Zero(t, got.Network&^got.Mask)
		})
	}
}

func TestContains(t *testing.T) {
	home, err := subnet.Parse("10.0.0.0/24")
	require.NoError(t, err)

	tests := []struct {
		name string
		ip   string
		want bool
	}{
		{name: "same prefix matches", ip: "10.0.0.9", want: true},
		{name: "differs in prefix bit", ip: "10.0.1.9", want: false},
		{name: "outside network entirely", ip: "192.168.1.1", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ip, err := parseIPv4ForTest(tt.ip)
			require.NoError(t, err)
			assert.Equal(t, tt.want, subnet.Contains(ip, []subnet.Subnet{home}))
		})
	}
}

func TestContains_SkipsSentinelSlots(t *testing.T) {
	sentinel := subnet.Subnet{Network: subnet.Sentinel, Mask: subnet.Sentinel}
	ip, err := parseIPv4ForTest("10.0.0.9")
	require.NoError(t, err)
	assert.False(t, subnet.Contains(ip, []subnet.Subnet{sentinel}))
}

func TestContains_OverlappingSubnetsPermitted(t *testing.T) {
	wide, err := subnet.Parse("10.0.0.0/8")
	require.NoError(t, err)
	narrow, err := subnet.Parse("10.0.0.0/24")
	require.NoError(t, err)

	ip, err := parseIPv4ForTest("10.0.0.9")
	require.NoError(t, err)
	assert.True(t, subnet.Contains(ip, []subnet.Subnet{wide, narrow}))
}

func TestToTable_PadsSentinels(t *testing.T) {
	s, err := subnet.Parse("10.0.0.0/24")
	require.NoError(t, err)

	table, err := subnet.ToTable([]subnet.Subnet{s})
	require.NoError(t, err)

	assert.Equal(t, s, table[0])
	for i := 1; i < subnet.MaxSubnets; i++ {
		assert.True(t, table[i].IsSentinel())
	}
}

func TestToTable_RejectsTooMany(t *testing.T) {
	subnets := make([]subnet.Subnet, subnet.MaxSubnets+1)
	for i := range subnets {
		s, err := subnet.Parse("10.0.0.0/32")
		require.NoError(t, err)
		subnets[i] = s
	}
	_, err := subnet.ToTable(subnets)
	require.Error(t, err)
}

func parseIPv4ForTest(s string) (uint32, error) {
	sub, err := subnet.Parse(s + "/32")
	if err != nil {
		return 0, err
	}
	return sub.Network, nil
}
