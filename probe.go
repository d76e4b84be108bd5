package parslet

import "runtime"

// unavailableBattery is the default BatteryReader for hosts with no battery
// probe wired in (the common case for a workstation or CI runner). No
// corpus dependency exposes a real battery API, so callers targeting actual
// edge hardware must inject their own reader (SPEC_FULL.md §4.3).
func unavailableBattery() (int, bool) {
	return 0, false
}

// defaultRAMReader is a coarse, stdlib-only stand-in for a platform memory
// probe: it reports the Go runtime's own idle heap headroom rather than
// system-wide available RAM, which is not something the standard library
// can observe portably. It is deliberately conservative and unsuitable for
// production capacity decisions; it exists so Policy has a usable default
// probe out of the box.
func defaultRAMReader() (int, bool) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	const mb = 1024 * 1024
	headroom := int64(m.Sys-m.HeapInuse) / mb
	if headroom < 0 {
		headroom = 0
	}
	return int(headroom), true
}
