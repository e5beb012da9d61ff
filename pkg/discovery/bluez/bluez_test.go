package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceFromProps(t *testing.T) {
	dev, ok := deviceFromProps(map[string]dbus.Variant{
		"Address": dbus.MakeVariant("20:16:06:30:69:09"),
		"Name":    dbus.MakeVariant("HC-06"),
		"Alias":   dbus.MakeVariant("robot"),
		"RSSI":    dbus.MakeVariant(int16(-61)),
	})
	require.True(t, ok)
	assert.Equal(t, "20:16:06:30:69:09", dev.Address)
	assert.Equal(t, "HC-06", dev.Name)
	assert.Equal(t, -61, dev.RSSI)
}

func TestDeviceFromPropsFallbacks(t *testing.T) {
	dev, ok := deviceFromProps(map[string]dbus.Variant{
		"Address": dbus.MakeVariant("aa:bb:cc:dd:ee:ff"),
		"Alias":   dbus.MakeVariant("AA-BB-CC-DD-EE-FF"),
	})
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", dev.Address)
	assert.Equal(t, "AA-BB-CC-DD-EE-FF", dev.Name)
	assert.Zero(t, dev.RSSI)

	_, ok = deviceFromProps(map[string]dbus.Variant{"Name": dbus.MakeVariant("x")})
	assert.False(t, ok)
	_, ok = deviceFromProps(nil)
	assert.False(t, ok)
}

func TestInterfacesAdded(t *testing.T) {
	ifaces := map[string]map[string]dbus.Variant{
		deviceInterface: {"Address": dbus.MakeVariant("20:16:06:30:69:09")},
	}
	sig := &dbus.Signal{
		Name: objectManager + ".InterfacesAdded",
		Body: []interface{}{dbus.ObjectPath("/org/bluez/hci0/dev_20_16_06_30_69_09"), ifaces},
	}
	path, got, ok := interfacesAdded(sig)
	require.True(t, ok)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_20_16_06_30_69_09"), path)
	assert.Equal(t, ifaces, got)

	_, _, ok = interfacesAdded(&dbus.Signal{Name: "org.freedesktop.DBus.Properties.PropertiesChanged"})
	assert.False(t, ok)
	_, _, ok = interfacesAdded(&dbus.Signal{Name: objectManager + ".InterfacesAdded", Body: []interface{}{"x", "y"}})
	assert.False(t, ok)
	_, _, ok = interfacesAdded(nil)
	assert.False(t, ok)
}

func TestUnderAdapter(t *testing.T) {
	assert.True(t, underAdapter("/org/bluez/hci0/dev_20_16_06_30_69_09", DefaultAdapter))
	assert.False(t, underAdapter("/org/bluez/hci1/dev_20_16_06_30_69_09", DefaultAdapter))
	assert.False(t, underAdapter("/org/bluez/hci0", DefaultAdapter))
}

func TestDiscoveryFilter(t *testing.T) {
	assert.Equal(t, "bredr", discoveryFilter("")["Transport"])
	assert.Equal(t, "le", discoveryFilter("le")["Transport"])
	assert.Equal(t, false, discoveryFilter("")["DuplicateData"])
}

const hc05Path dbus.ObjectPath = "/org/bluez/hci0/dev_20_16_06_30_69_09"

func cachedHC05() map[string]map[string]dbus.Variant {
	return map[string]map[string]dbus.Variant{
		deviceInterface: {
			"Address":   dbus.MakeVariant("20:16:06:30:69:09"),
			"Name":      dbus.MakeVariant("HC-05"),
			"Paired":    dbus.MakeVariant(true),
			"Connected": dbus.MakeVariant(false),
		},
	}
}

func TestTrackerHoldsBackCachedDevices(t *testing.T) {
	devices := newTracker(DefaultAdapter)
	_, ok := devices.added(hc05Path, cachedHC05())
	assert.False(t, ok, "a paired device without RSSI is not in range")

	dev, ok := devices.changed(hc05Path, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-70))}, nil)
	require.True(t, ok)
	assert.Equal(t, "20:16:06:30:69:09", dev.Address)
	assert.Equal(t, "HC-05", dev.Name)
	assert.Equal(t, -70, dev.RSSI)

	_, ok = devices.changed(hc05Path, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-65))}, nil)
	assert.False(t, ok, "reported once")
}

func TestTrackerInRangeObjects(t *testing.T) {
	devices := newTracker(DefaultAdapter)

	heard := cachedHC05()
	heard[deviceInterface]["RSSI"] = dbus.MakeVariant(int16(-58))
	dev, ok := devices.added(hc05Path, heard)
	require.True(t, ok)
	assert.Equal(t, -58, dev.RSSI)

	linked := map[string]map[string]dbus.Variant{
		deviceInterface: {
			"Address":   dbus.MakeVariant("AA:BB:CC:DD:EE:FF"),
			"Connected": dbus.MakeVariant(true),
		},
	}
	dev, ok = devices.added("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF", linked)
	require.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", dev.Address)

	_, ok = devices.added("/org/bluez/hci1/dev_11_22_33_44_55_66", map[string]map[string]dbus.Variant{
		deviceInterface: {"Address": dbus.MakeVariant("11:22:33:44:55:66"), "RSSI": dbus.MakeVariant(int16(-40))},
	})
	assert.False(t, ok, "other adapter")
}

func TestTrackerChangedWithoutRSSI(t *testing.T) {
	devices := newTracker(DefaultAdapter)
	devices.added(hc05Path, cachedHC05())

	_, ok := devices.changed(hc05Path, map[string]dbus.Variant{"Alias": dbus.MakeVariant("robot")}, nil)
	assert.False(t, ok)

	props := devices.merge(hc05Path, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-70))}, nil)
	assert.True(t, inRange(props))
	props = devices.merge(hc05Path, nil, []string{"RSSI"})
	assert.False(t, inRange(props), "invalidated RSSI")
	assert.Equal(t, "HC-05", props["Name"].Value())
}

func TestTrackerUnknownPath(t *testing.T) {
	devices := newTracker(DefaultAdapter)
	dev, ok := devices.changed(hc05Path, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-80))}, nil)
	require.True(t, ok)
	assert.Equal(t, "20:16:06:30:69:09", dev.Address)
	assert.Empty(t, dev.Name)
}

func TestPropertiesChanged(t *testing.T) {
	changed := map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-70))}
	sig := &dbus.Signal{
		Path: hc05Path,
		Name: dbusProperties + ".PropertiesChanged",
		Body: []interface{}{deviceInterface, changed, []string{"TxPower"}},
	}
	path, got, invalidated, ok := propertiesChanged(sig)
	require.True(t, ok)
	assert.Equal(t, hc05Path, path)
	assert.Equal(t, changed, got)
	assert.Equal(t, []string{"TxPower"}, invalidated)

	sig.Body[0] = adapterInterface
	_, _, _, ok = propertiesChanged(sig)
	assert.False(t, ok)
	_, _, _, ok = propertiesChanged(&dbus.Signal{Name: objectManager + ".InterfacesAdded"})
	assert.False(t, ok)
	_, _, _, ok = propertiesChanged(nil)
	assert.False(t, ok)
}

func TestAddressFromPath(t *testing.T) {
	assert.Equal(t, "20:16:06:30:69:09", addressFromPath(hc05Path))
	assert.Empty(t, addressFromPath(DefaultAdapter))
}
