// Package bluez discovers classic Bluetooth devices through the BlueZ D-Bus
// API, the way bluetoothctl's "scan on" does.
package bluez

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/mlsorensen/goremote"
)

const (
	busName          = "org.bluez"
	adapterInterface = "org.bluez.Adapter1"
	deviceInterface  = "org.bluez.Device1"
	objectManager    = "org.freedesktop.DBus.ObjectManager"
	dbusProperties   = "org.freedesktop.DBus.Properties"

	// DefaultAdapter is the object path of the first local controller.
	DefaultAdapter dbus.ObjectPath = "/org/bluez/hci0"
)

var _ goremote.Discoverer = (*Discoverer)(nil)

// Discoverer runs BlueZ discovery on one adapter. Only devices that are in
// range are reported: BlueZ also keeps objects for paired or previously
// seen devices, and those are held back until an RSSI shows up for them.
type Discoverer struct {
	Adapter dbus.ObjectPath
	// Transport is the BlueZ discovery filter transport: "bredr", "le" or "auto".
	Transport string
}

func (d Discoverer) adapter() dbus.ObjectPath {
	if d.Adapter == "" {
		return DefaultAdapter
	}
	return d.Adapter
}

func discoveryFilter(transport string) map[string]interface{} {
	if transport == "" {
		transport = "bredr"
	}
	return map[string]interface{}{
		"Transport":     transport,
		"DuplicateData": false,
	}
}

func (d Discoverer) Discover(ctx context.Context) (<-chan goremote.Device, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	adapterPath := d.adapter()
	adapter := conn.Object(busName, adapterPath)

	if err := adapter.Call(adapterInterface+".SetDiscoveryFilter", 0, discoveryFilter(d.Transport)).Err; err != nil {
		// some controllers reject filters, discovery still works without one
		log.Printf("Failed to set discovery filter: %v", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(objectManager),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to InterfacesAdded: %w", err)
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(dbusProperties),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(adapterPath),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe to PropertiesChanged: %w", err)
	}
	signals := make(chan *dbus.Signal, 32)
	conn.Signal(signals)

	if err := adapter.Call(adapterInterface+".StartDiscovery", 0).Err; err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to start discovery: %w", err)
	}
	log.Printf("Discovery started on %s", adapterPath)

	out := make(chan goremote.Device)
	go func() {
		defer close(out)
		defer conn.Close()
		defer func() {
			if err := adapter.Call(adapterInterface+".StopDiscovery", 0).Err; err != nil {
				log.Printf("Failed to stop discovery: %v", err)
			}
		}()

		send := func(dev goremote.Device, ok bool) bool {
			if !ok {
				return true
			}
			select {
			case out <- dev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		devices := newTracker(adapterPath)
		objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
		if err := conn.Object(busName, "/").Call(objectManager+".GetManagedObjects", 0).Store(&objects); err != nil {
			log.Printf("Failed to get managed objects: %v", err)
		}
		for path, ifaces := range objects {
			if !send(devices.added(path, ifaces)) {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if path, ifaces, ok := interfacesAdded(sig); ok {
					if !send(devices.added(path, ifaces)) {
						return
					}
					continue
				}
				if path, changed, invalidated, ok := propertiesChanged(sig); ok {
					if !send(devices.changed(path, changed, invalidated)) {
						return
					}
				}
			}
		}
	}()
	return out, nil
}

// tracker keeps the last known Device1 properties of every object under an
// adapter. PropertiesChanged carries only the changed values, so they are
// merged into what is already known before a device is built.
type tracker struct {
	adapter dbus.ObjectPath
	props   map[dbus.ObjectPath]map[string]dbus.Variant
	seen    map[string]bool
}

func newTracker(adapter dbus.ObjectPath) *tracker {
	return &tracker{
		adapter: adapter,
		props:   make(map[dbus.ObjectPath]map[string]dbus.Variant),
		seen:    make(map[string]bool),
	}
}

// added records an object from GetManagedObjects or InterfacesAdded and
// returns its device the first time it is in range.
func (t *tracker) added(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) (goremote.Device, bool) {
	props, ok := ifaces[deviceInterface]
	if !ok || !underAdapter(path, t.adapter) {
		return goremote.Device{}, false
	}
	return t.report(path, t.merge(path, props, nil))
}

// changed applies a PropertiesChanged update and returns the device the
// first time the update puts it in range.
func (t *tracker) changed(path dbus.ObjectPath, changed map[string]dbus.Variant, invalidated []string) (goremote.Device, bool) {
	if !underAdapter(path, t.adapter) {
		return goremote.Device{}, false
	}
	props := t.merge(path, changed, invalidated)
	if !inRange(changed) {
		return goremote.Device{}, false
	}
	return t.report(path, props)
}

func (t *tracker) merge(path dbus.ObjectPath, update map[string]dbus.Variant, invalidated []string) map[string]dbus.Variant {
	props, ok := t.props[path]
	if !ok {
		props = make(map[string]dbus.Variant, len(update))
		t.props[path] = props
	}
	for k, v := range update {
		props[k] = v
	}
	for _, k := range invalidated {
		delete(props, k)
	}
	return props
}

func (t *tracker) report(path dbus.ObjectPath, props map[string]dbus.Variant) (goremote.Device, bool) {
	if !inRange(props) {
		return goremote.Device{}, false
	}
	if _, ok := props["Address"]; !ok {
		props["Address"] = dbus.MakeVariant(addressFromPath(path))
	}
	dev, ok := deviceFromProps(props)
	if !ok || t.seen[dev.Address] {
		return goremote.Device{}, false
	}
	t.seen[dev.Address] = true
	return dev, true
}

// inRange reports whether props show the device is reachable now. BlueZ
// sets RSSI only for devices heard during the current discovery.
func inRange(props map[string]dbus.Variant) bool {
	if _, ok := props["RSSI"].Value().(int16); ok {
		return true
	}
	connected, _ := props["Connected"].Value().(bool)
	return connected
}

// addressFromPath turns /org/bluez/hci0/dev_20_16_06_30_69_09 into
// 20:16:06:30:69:09.
func addressFromPath(path dbus.ObjectPath) string {
	p := string(path)
	i := strings.LastIndex(p, "/dev_")
	if i < 0 {
		return ""
	}
	return strings.ReplaceAll(p[i+len("/dev_"):], "_", ":")
}

func underAdapter(path, adapter dbus.ObjectPath) bool {
	return strings.HasPrefix(string(path), string(adapter)+"/dev_")
}

// interfacesAdded unpacks an ObjectManager.InterfacesAdded signal.
func interfacesAdded(sig *dbus.Signal) (dbus.ObjectPath, map[string]map[string]dbus.Variant, bool) {
	if sig == nil || sig.Name != objectManager+".InterfacesAdded" || len(sig.Body) < 2 {
		return "", nil, false
	}
	path, ok := sig.Body[0].(dbus.ObjectPath)
	if !ok {
		return "", nil, false
	}
	ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return "", nil, false
	}
	return path, ifaces, true
}

// propertiesChanged unpacks a Properties.PropertiesChanged signal for Device1.
func propertiesChanged(sig *dbus.Signal) (dbus.ObjectPath, map[string]dbus.Variant, []string, bool) {
	if sig == nil || sig.Name != dbusProperties+".PropertiesChanged" || len(sig.Body) < 2 {
		return "", nil, nil, false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != deviceInterface {
		return "", nil, nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", nil, nil, false
	}
	var invalidated []string
	if len(sig.Body) > 2 {
		invalidated, _ = sig.Body[2].([]string)
	}
	return sig.Path, changed, invalidated, true
}

// deviceFromProps builds a device from org.bluez.Device1 properties. Only
// Address is required.
func deviceFromProps(props map[string]dbus.Variant) (goremote.Device, bool) {
	addr, ok := props["Address"].Value().(string)
	if !ok || addr == "" {
		return goremote.Device{}, false
	}
	dev := goremote.Device{Address: goremote.NormalizeAddress(addr)}
	if name, ok := props["Name"].Value().(string); ok {
		dev.Name = name
	} else if alias, ok := props["Alias"].Value().(string); ok {
		dev.Name = alias
	}
	if rssi, ok := props["RSSI"].Value().(int16); ok {
		dev.RSSI = int(rssi)
	}
	return dev, true
}
