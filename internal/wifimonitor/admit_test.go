package wifimonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdmit(t *testing.T) {
	tests := []struct {
		name    string
		target  []string
		exclude []string
		ssid    string
		want    bool
	}{
		{name: "empty target monitors all", target: nil, exclude: nil, ssid: "AnyNetwork", want: true},
		{name: "in target list", target: []string{"Home"}, exclude: nil, ssid: "Home", want: true},
		{name: "not in target list", target: []string{"Home"}, exclude: nil, ssid: "CoffeeShop", want: false},
		{name: "exclude wins over empty target", target: nil, exclude: []string{"Work"}, ssid: "Work", want: false},
		{name: "exclude wins over target membership", target: []string{"Work"}, exclude: []string{"Work"}, ssid: "Work", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Monitor{
				targetSSIDs:  toSet(tt.target),
				excludeSSIDs: toSet(tt.exclude),
			}
			assert.Equal(t, tt.want, m.admit(tt.ssid))
		})
	}
}
