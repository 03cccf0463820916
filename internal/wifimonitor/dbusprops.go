package wifimonitor

import "github.com/godbus/dbus/v5"

func objectPathProperty(obj dbus.BusObject, iface, name string) (dbus.ObjectPath, error) {
	v, err := obj.GetProperty(iface + "." + name)
	if err != nil {
		return "", err
	}
	path, ok := v.Value().(dbus.ObjectPath)
	if !ok {
		return "", nil
	}
	return path, nil
}

func objectPathsProperty(obj dbus.BusObject, iface, name string) ([]dbus.ObjectPath, error) {
	v, err := obj.GetProperty(iface + "." + name)
	if err != nil {
		return nil, err
	}
	paths, ok := v.Value().([]dbus.ObjectPath)
	if !ok {
		return nil, nil
	}
	return paths, nil
}

func stringProperty(obj dbus.BusObject, iface, name string) (string, error) {
	v, err := obj.GetProperty(iface + "." + name)
	if err != nil {
		return "", err
	}
	s, _ := v.Value().(string)
	return s, nil
}

func bytesProperty(obj dbus.BusObject, iface, name string) ([]byte, error) {
	v, err := obj.GetProperty(iface + "." + name)
	if err != nil {
		return nil, err
	}
	b, _ := v.Value().([]byte)
	return b, nil
}
