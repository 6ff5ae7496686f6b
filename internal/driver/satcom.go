package driver

import "github.com/skyline-avionics/magic/internal/linkreg"

// NewSatcom builds a Driver for a satellite modem adapter process
// reachable over D-Bus, addressed by service name and object path (the
// adapter's own process, not ModemManager directly, since satcom units
// typically speak a vendor-private D-Bus interface rather than 3GPP
// modem state).
func NewSatcom(service, objectPath string, cap linkreg.Capability, interfaceName string) Driver {
	cap.GroundOnly = false
	return newDBusDriver(LinkTypeSatcom, interfaceName, cap, service, objectPath,
		"com.skyline.avionics.Satcom.Modem", "SignalDBm", "LinkState")
}
