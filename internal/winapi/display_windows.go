//go:build windows
// +build windows

package winapi

import (
	"golang.org/x/sys/windows/registry"
)

const (
	nightLightKey = `Software\Microsoft\Windows\CurrentVersion\CloudStore\Store\DefaultAccount\Current\` +
		`default$windows.data.bluelightreduction.bluelightreductionstate\` +
		`windows.data.bluelightreduction.bluelightreductionstate`
	monitorStoreKey = `SYSTEM\CurrentControlSet\Control\GraphicsDrivers\MonitorDataStore`
)

// nightLightEnabled decodes the blue light reduction state blob; byte 18 is
// 0x15 while night light is active
func nightLightEnabled() bool {
	k, err := registry.OpenKey(registry.CURRENT_USER, nightLightKey, registry.QUERY_VALUE)
	if err != nil {
		return false
	}
	defer k.Close()

	data, _, err := k.GetBinaryValue("Data")
	if err != nil || len(data) <= 18 {
		return false
	}
	return data[18] == 0x15
}

// hdrEnabled reports whether any monitor has advanced colour (HDR) switched on
func hdrEnabled() bool {
	store, err := registry.OpenKey(registry.LOCAL_MACHINE, monitorStoreKey, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return false
	}
	defer store.Close()

	monitors, err := store.ReadSubKeyNames(-1)
	if err != nil {
		return false
	}

	for _, name := range monitors {
		k, err := registry.OpenKey(store, name, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		v, _, err := k.GetIntegerValue("AdvancedColorEnabled")
		k.Close()
		if err == nil && v == 1 {
			return true
		}
	}
	return false
}
