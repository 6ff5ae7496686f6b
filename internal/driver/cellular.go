package driver

import "github.com/skyline-avionics/magic/internal/linkreg"

// NewCellular builds a Driver for a cellular modem exposed by
// ModemManager on the system bus. objectPath is the modem's object
// path under org.freedesktop.ModemManager1.
func NewCellular(objectPath string, cap linkreg.Capability, interfaceName string) Driver {
	cap.GroundOnly = false
	return newDBusDriver(LinkTypeCellular, interfaceName, cap,
		"org.freedesktop.ModemManager1", objectPath,
		"org.freedesktop.ModemManager1.Modem", "SignalQuality", "State")
}
