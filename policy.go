package parslet

// BatteryReader returns the current battery level as a percentage (0-100).
// ok is false when no battery information is available (e.g. on mains-
// powered hardware), in which case the policy treats the reading as
// "unknown" and never aborts a run on its account.
type BatteryReader func() (percent int, ok bool)

// RAMReader returns the currently available RAM in megabytes.
type RAMReader func() (availableMB int, ok bool)

// Policy configures how a Runner adapts worker concurrency and abort
// behavior to the resource readings its probes report. It distinguishes
// two separate battery thresholds: a low-battery threshold that degrades
// the run (halves workers, flips battery_mode_active) while letting it
// continue, and a critical threshold that aborts it outright.
type Policy struct {
	// MaxWorkers bounds concurrency under healthy resource conditions.
	MaxWorkers int
	// BatteryLowThreshold is the percentage below which the runner halves
	// its worker count and sets battery_mode_active for task bodies to
	// branch on. The run continues.
	BatteryLowThreshold int
	// BatteryCriticalThreshold, when non-zero, is the percentage below
	// which the runner aborts the run with BatteryLowError instead of
	// merely degrading. Zero disables the critical guard.
	BatteryCriticalThreshold int
	// LowRAMThresholdMB is the available-RAM floor below which the runner
	// halves its worker count.
	LowRAMThresholdMB int
	// Failsafe, when true, further reduces worker count to one and
	// disables cache writes so a degraded run makes no extra disk I/O.
	Failsafe bool

	Battery BatteryReader
	RAM     RAMReader
}

// DefaultPolicy returns a Policy with a conservative worker count and the
// best-effort stdlib probes (see probe.go). Callers running on real edge
// hardware are expected to inject BatteryReader/RAMReader implementations
// backed by the platform's actual power/memory interfaces.
func DefaultPolicy() Policy {
	return Policy{
		MaxWorkers:               4,
		BatteryLowThreshold:      40,
		BatteryCriticalThreshold: 0,
		LowRAMThresholdMB:        256,
		Failsafe:                 false,
		Battery:                  unavailableBattery,
		RAM:                      defaultRAMReader,
	}
}

// Decision is the outcome of evaluating a Policy against current readings.
type Decision struct {
	Workers           int
	BatteryModeActive bool
	AllowCacheWrites  bool
	Abort             bool
	Err               error
}

// Decide evaluates the policy's probes once and returns how many workers
// the runner should use, whether tasks should see battery_mode_active, and
// whether cache writes are allowed, or an abort instruction when the
// battery is below the critical threshold.
func (p Policy) Decide() Decision {
	workers := p.MaxWorkers
	if workers < 1 {
		workers = 1
	}

	lowRAM := false
	if p.RAM != nil {
		if mb, ok := p.RAM(); ok && mb < p.LowRAMThresholdMB {
			lowRAM = true
		}
	}

	batteryModeActive := false
	if p.Battery != nil {
		if pct, ok := p.Battery(); ok {
			if p.BatteryCriticalThreshold > 0 && pct < p.BatteryCriticalThreshold {
				return Decision{Workers: workers, Abort: true, Err: &BatteryLowError{Reading: pct}}
			}
			if pct < p.BatteryLowThreshold {
				batteryModeActive = true
			}
		}
	}

	if lowRAM || batteryModeActive {
		workers = maxInt(1, (workers+1)/2)
	}
	if p.Failsafe {
		workers = 1
	}

	return Decision{
		Workers:           workers,
		BatteryModeActive: batteryModeActive,
		AllowCacheWrites:  !p.Failsafe,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
