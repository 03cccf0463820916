// Package wifimonitor watches NetworkManager's D-Bus interface for Wi-Fi
// association changes and emits edge-triggered connect/disconnect events
// for SSIDs admitted by the configured target/exclude lists.
package wifimonitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
	"github.com/malbeclabs/wg-ondemand/internal/wgerr"
)

const (
	nmService       = "org.freedesktop.NetworkManager"
	nmPath          = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface         = "org.freedesktop.NetworkManager"
	activeConnIface = "org.freedesktop.NetworkManager.Connection.Active"
	wirelessIface   = "org.freedesktop.NetworkManager.Device.Wireless"
	apIface         = "org.freedesktop.NetworkManager.AccessPoint"
)

// Event is an admitted connect or a disconnect from a previously admitted
// SSID, edge-triggered against Monitor's own was-connected bit.
type Event struct {
	Connected bool
	SSID      string // empty on Disconnect
}

// Monitor watches NetworkManager for association changes and applies the
// admission predicate: admit(ssid) = ssid not in exclude AND (target empty
// OR ssid in target). The exclude list wins ties; an empty target list
// means "all networks".
type Monitor struct {
	log          *slog.Logger
	conn         *dbus.Conn
	targetSSIDs  map[string]bool
	excludeSSIDs map[string]bool
}

// New connects to the system bus and builds a monitor for the given
// target/exclude SSID lists.
func New(log *slog.Logger, targetSSIDs, excludeSSIDs []string) (*Monitor, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to system bus: %v", wgerr.ErrDbus, err)
	}
	return &Monitor{
		log:          log,
		conn:         conn,
		targetSSIDs:  toSet(targetSSIDs),
		excludeSSIDs: toSet(excludeSSIDs),
	}, nil
}

// Close releases the D-Bus connection.
func (m *Monitor) Close() error {
	return m.conn.Close()
}

func toSet(ss []string) map[string]bool {
	set := make(map[string]bool, len(ss))
	for _, s := range ss {
		set[s] = true
	}
	return set
}

// admit applies the admission predicate.
func (m *Monitor) admit(ssid string) bool {
	if m.excludeSSIDs[ssid] {
		return false
	}
	if len(m.targetSSIDs) == 0 {
		return true
	}
	return m.targetSSIDs[ssid]
}

// CurrentSSID resolves the SSID of the primary connection by walking
// PrimaryConnection -> active connection -> wireless device -> access
// point -> Ssid bytes -> UTF-8. Returns ("", false) if not on Wi-Fi.
func (m *Monitor) CurrentSSID() (string, bool, error) {
	nm := m.conn.Object(nmService, nmPath)

	primary, err := objectPathProperty(nm, nmIface, "PrimaryConnection")
	if err != nil {
		return "", false, fmt.Errorf("%w: reading PrimaryConnection: %v", wgerr.ErrDbus, err)
	}
	if primary == "/" || primary == "" {
		return "", false, nil
	}

	activeConn := m.conn.Object(nmService, primary)
	connType, err := stringProperty(activeConn, activeConnIface, "Type")
	if err != nil {
		return "", false, fmt.Errorf("%w: reading connection Type: %v", wgerr.ErrDbus, err)
	}
	if connType != "802-11-wireless" {
		return "", false, nil
	}

	devices, err := objectPathsProperty(activeConn, activeConnIface, "Devices")
	if err != nil {
		return "", false, fmt.Errorf("%w: reading Devices: %v", wgerr.ErrDbus, err)
	}
	if len(devices) == 0 {
		return "", false, nil
	}

	wirelessDev := m.conn.Object(nmService, devices[0])
	apPath, err := objectPathProperty(wirelessDev, wirelessIface, "ActiveAccessPoint")
	if err != nil {
		return "", false, fmt.Errorf("%w: reading ActiveAccessPoint: %v", wgerr.ErrDbus, err)
	}
	if apPath == "/" || apPath == "" {
		return "", false, nil
	}

	ap := m.conn.Object(nmService, apPath)
	ssidBytes, err := bytesProperty(ap, apIface, "Ssid")
	if err != nil {
		return "", false, fmt.Errorf("%w: reading Ssid: %v", wgerr.ErrDbus, err)
	}

	return string(ssidBytes), true, nil
}

// IsConnectedToTarget reports whether the current Wi-Fi SSID is admitted.
// It is used only to establish initial state before the event loop starts;
// Run itself never collapses a lookup error into "not connected", since
// doing so would fire a spurious disconnect edge on a transient failure.
func (m *Monitor) IsConnectedToTarget() bool {
	ssid, onWifi, err := m.CurrentSSID()
	if err != nil || !onWifi {
		return false
	}
	return m.admit(ssid)
}

// Run subscribes to PrimaryConnection property changes and sends Event on
// every admission edge until ctx is cancelled. Transient lookup failures
// during the loop are logged and the previous admission bit is preserved
// so no spurious edge is emitted.
func (m *Monitor) Run(ctx context.Context, events chan<- Event) error {
	if err := m.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchObjectPath(nmPath),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return fmt.Errorf("%w: subscribing to PropertiesChanged: %v", wgerr.ErrDbus, err)
	}

	signals := make(chan *dbus.Signal, 16)
	m.conn.Signal(signals)
	defer m.conn.RemoveSignal(signals)

	wasConnected := m.IsConnectedToTarget()
	if wasConnected {
		if ssid, _, err := m.CurrentSSID(); err == nil {
			m.log.Info("already connected to monitored network", "ssid", ssid)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("%w: signal channel closed", wgerr.ErrDbus)
			}
			if sig == nil {
				continue
			}

			ssid, onWifi, err := m.CurrentSSID()
			if err != nil {
				m.log.Warn("transient SSID lookup failure, preserving previous admission state", "error", err)
				continue
			}
			isConnected := onWifi && m.admit(ssid)

			if isConnected && !wasConnected {
				m.log.Info("connected to monitored SSID", "ssid", ssid)
				events <- Event{Connected: true, SSID: ssid}
			} else if !isConnected && wasConnected {
				m.log.Info("disconnected from monitored SSID")
				events <- Event{Connected: false}
			}
			wasConnected = isConnected
		}
	}
}
