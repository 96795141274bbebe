// Package output is the abstract output-driver contract (§4.A /
// §6 of the spec): coil/injector/relay/starter/fuel-pump control plus a
// monotonic microsecond clock. Every operation is meant to be O(1),
// non-blocking, and safe to call from the equivalent of interrupt
// context, so an implementation's hot methods must never allocate or
// take a lock that a slow path (CLI, telemetry) also holds for long.
package output

// Driver is the abstract output-driver contract. OpenInjector rejects
// paired Cylinder values (an injector fires exactly one cylinder).
// CloseAll is idempotent and is the only state a platform needs to
// reach after a fault.Die call.
type Driver interface {
	OpenInjector(cyl Cylinder) error
	CloseInjector(cyl Cylinder, nowUsec uint64)
	OpenCoil(cyl Cylinder, nowUsec uint64)
	CloseCoil(cyl Cylinder, nowUsec uint64)

	RelayOn()
	RelayOff()
	StarterOn()
	StarterOff()

	GazOn()
	GazOff()
	GazToggle()

	// CloseAll forces every output off. Idempotent; the only state
	// considered safe after a fatal error.
	CloseAll()

	// NowUsec returns a monotonically non-decreasing microsecond
	// clock. Callers only ever subtract two readings of it, so modular
	// wraparound is harmless as long as deltas fit the sample's width.
	NowUsec() uint64
}
